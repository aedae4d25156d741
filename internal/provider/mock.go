package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/jmylchreest/genstudio-api/internal/catalog"
)

// Mock returns synthetic output without calling any provider.
type Mock struct{}

// NewMock creates a mock adapter.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Create(_ context.Context, req Request) (Handle, error) {
	ref := url.Values{
		"capability": {string(req.Model.Capability)},
		"model":      {req.Model.ID},
		"prompt":     {req.Prompt},
	}
	return Handle{ID: uuid.NewString(), Ref: ref.Encode()}, nil
}

func (m *Mock) Poll(_ context.Context, h Handle) (*Task, error) {
	ref, err := url.ParseQuery(h.Ref)
	if err != nil || ref.Get("model") == "" {
		return nil, fmt.Errorf("mock: malformed handle for task %s", h.ID)
	}

	task := &Task{ID: h.ID, Status: StatusSucceeded}
	switch catalog.Capability(ref.Get("capability")) {
	case catalog.CapabilityText:
		task.Outputs = []string{"Mock response to: " + ref.Get("prompt")}
	case catalog.CapabilityVideo:
		task.Outputs = []string{"https://mock.genstudio.invalid/video/" + h.ID + ".mp4"}
	default:
		task.Outputs = []string{"https://placehold.co/1024x1024/png?text=" + url.QueryEscape(ref.Get("model"))}
	}
	return task, nil
}
