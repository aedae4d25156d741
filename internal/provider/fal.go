package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// fal queue statuses.
const (
	falInQueue    = "IN_QUEUE"
	falInProgress = "IN_PROGRESS"
	falCompleted  = "COMPLETED"
	falError      = "ERROR"
)

// FalOptions configures the fal adapter.
type FalOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Fal runs models through the fal.ai queue API.
type Fal struct {
	api apiClient
}

type falSubmission struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type falFile struct {
	URL string `json:"url"`
}

type falOutput struct {
	Images []falFile `json:"images"`
	Image  *falFile  `json:"image"`
	Video  *falFile  `json:"video"`
	Output string    `json:"output"`
}

// NewFal creates a fal adapter.
func NewFal(opts FalOptions) *Fal {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	return &Fal{api: apiClient{
		provider:   "fal",
		baseURL:    baseURL,
		authHeader: "Key " + strings.TrimSpace(opts.APIKey),
		httpClient: client,
	}}
}

func (f *Fal) Name() string { return "fal" }

// Create submits a queue request. The handle carries the status and response
// URLs fal returned, which may point outside the configured base URL.
func (f *Fal) Create(ctx context.Context, req Request) (Handle, error) {
	var sub falSubmission
	if err := f.api.do(ctx, http.MethodPost, "/"+req.Model.UpstreamModel, buildInput(req, "image_url"), &sub); err != nil {
		return Handle{}, err
	}
	if sub.RequestID == "" {
		return Handle{}, errors.New("fal: request_id missing from response")
	}

	base := "/" + req.Model.UpstreamModel + "/requests/" + sub.RequestID
	if sub.StatusURL == "" {
		sub.StatusURL = base + "/status"
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = base
	}

	ref := url.Values{"status": {sub.StatusURL}, "response": {sub.ResponseURL}}
	return Handle{ID: sub.RequestID, Ref: ref.Encode()}, nil
}

func (f *Fal) Poll(ctx context.Context, h Handle) (*Task, error) {
	ref, err := url.ParseQuery(h.Ref)
	statusURL, responseURL := ref.Get("status"), ref.Get("response")
	if err != nil || statusURL == "" || responseURL == "" {
		return nil, errors.New("fal: malformed handle for request " + h.ID)
	}

	var st falStatus
	if err := f.api.do(ctx, http.MethodGet, statusURL, nil, &st); err != nil {
		return nil, err
	}

	task := &Task{ID: h.ID}
	switch st.Status {
	case falInQueue:
		task.Status = StatusQueued
		return task, nil
	case falInProgress:
		task.Status = StatusRunning
		return task, nil
	case falError:
		task.Status = StatusFailed
		task.Error = st.Error
		if task.Error == "" {
			task.Error = "request failed"
		}
		return task, nil
	case falCompleted:
	default:
		task.Status = StatusRunning
		return task, nil
	}

	// A completed request whose result is a rejecting 4xx failed validation or
	// inference on fal's side. Other errors are retried by the engine.
	var out falOutput
	err = f.api.do(ctx, http.MethodGet, responseURL, nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.rejects() {
		task.Status = StatusFailed
		task.Error = falDetail(se.Body)
		return task, nil
	}
	if err != nil {
		return nil, err
	}

	task.Status = StatusSucceeded
	task.Outputs = out.outputs()
	return task, nil
}

func (o *falOutput) outputs() []string {
	var out []string
	for _, img := range o.Images {
		out = append(out, img.URL)
	}
	for _, file := range []*falFile{o.Image, o.Video} {
		if file != nil && file.URL != "" {
			out = append(out, file.URL)
		}
	}
	if o.Output != "" {
		out = append(out, o.Output)
	}
	return out
}

// falDetail extracts the first message from a validation error envelope.
func falDetail(body string) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil || len(env.Detail) == 0 {
		return body
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &list); err == nil && len(list) > 0 && list[0].Msg != "" {
		return list[0].Msg
	}
	return decodeMessage(env.Detail)
}
