// Package models defines the ledger and generation record types shared by the
// repositories, services and HTTP handlers. Identities are opaque strings.
package models

import "time"

// ========================================
// Generation Records
// ========================================

// GenerationStatus is the lifecycle state of a generation record.
// processing -> success | failed. Terminal states are never left.
type GenerationStatus string

const (
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusSuccess    GenerationStatus = "success"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusSuccess || s == GenerationStatusFailed
}

// GenerationKind is the output family of a generation, used to namespace assets.
type GenerationKind string

const (
	GenerationKindPhoto GenerationKind = "photo"
	GenerationKindVideo GenerationKind = "video"
	GenerationKindText  GenerationKind = "text"
)

// Generation tracks one inference request (or one batch) through its lifecycle.
type Generation struct {
	ID           string           `json:"id"`
	Identity     string           `json:"identity"`
	Kind         GenerationKind   `json:"kind"`
	ModelID      string           `json:"model_id"`
	Prompt       string           `json:"prompt"`
	Status       GenerationStatus `json:"status"`
	ResultURLs   []string         `json:"result_urls"`
	CreditsUsed  int64            `json:"credits_used"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"` // params, provider task ids, variant errors

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewGeneration holds the fields needed to open a record.
type NewGeneration struct {
	ID          string
	Identity    string
	Kind        GenerationKind
	ModelID     string
	Prompt      string
	CreditsUsed int64
	Metadata    map[string]any
}
