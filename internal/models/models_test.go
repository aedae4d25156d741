package models

import "testing"

func TestGenerationStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status GenerationStatus
		want   bool
	}{
		{GenerationStatusProcessing, false},
		{GenerationStatusSuccess, true},
		{GenerationStatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
