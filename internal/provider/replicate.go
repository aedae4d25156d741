package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ReplicateOptions configures the Replicate adapter.
type ReplicateOptions struct {
	APIToken   string
	BaseURL    string
	HTTPClient *http.Client
}

// Replicate runs models through the Replicate predictions API.
// Upstream models are "owner/name" (official models) or "owner/name:version".
type Replicate struct {
	api apiClient
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// NewReplicate creates a Replicate adapter.
func NewReplicate(opts ReplicateOptions) *Replicate {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	return &Replicate{api: apiClient{
		provider:   "replicate",
		baseURL:    baseURL,
		authHeader: "Bearer " + strings.TrimSpace(opts.APIToken),
		httpClient: client,
	}}
}

func (r *Replicate) Name() string { return "replicate" }

func (r *Replicate) Create(ctx context.Context, req Request) (Handle, error) {
	body := map[string]any{"input": buildInput(req, "image")}

	path := "/v1/models/" + req.Model.UpstreamModel + "/predictions"
	if _, version, ok := strings.Cut(req.Model.UpstreamModel, ":"); ok {
		path = "/v1/predictions"
		body["version"] = version
	}

	var pred replicatePrediction
	if err := r.api.do(ctx, http.MethodPost, path, body, &pred); err != nil {
		return Handle{}, err
	}
	if pred.ID == "" {
		return Handle{}, errors.New("replicate: prediction id missing from response")
	}
	return Handle{ID: pred.ID}, nil
}

func (r *Replicate) Poll(ctx context.Context, h Handle) (*Task, error) {
	var pred replicatePrediction
	if err := r.api.do(ctx, http.MethodGet, "/v1/predictions/"+url.PathEscape(h.ID), nil, &pred); err != nil {
		return nil, err
	}

	task := &Task{ID: h.ID}
	switch pred.Status {
	case "starting":
		task.Status = StatusQueued
	case "processing":
		task.Status = StatusRunning
	case "succeeded":
		task.Status = StatusSucceeded
		task.Outputs = decodeOutputs(pred.Output)
	case "failed", "canceled":
		task.Status = StatusFailed
		task.Error = decodeMessage(pred.Error)
		if task.Error == "" {
			task.Error = "prediction " + pred.Status
		}
	default:
		task.Status = StatusRunning
	}
	return task, nil
}

// decodeOutputs accepts a single string or a list of strings.
func decodeOutputs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// decodeMessage renders an error field that may be a string or an object.
func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
