// Package provider is the provider invocation layer. Each adapter speaks one
// provider's create-task/poll API; the Engine drives an adapter from submit to
// a terminal outcome within a bounded timeout.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/catalog"
)

const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultTimeout      = 180 * time.Second

	// maxPollFailures is how many consecutive transport errors polling tolerates.
	maxPollFailures = 5
)

// Request is one invocation of a model.
type Request struct {
	Model    *catalog.Model
	Prompt   string
	ImageURL string
	Params   map[string]any // Already validated against the model's schema
	Variant  int
}

// Result is a successful invocation.
type Result struct {
	URLs     []string
	Text     string
	TaskID   string
	Duration time.Duration
}

// Status is a provider task state normalized across providers.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is one poll observation.
type Task struct {
	ID      string
	Status  Status
	Outputs []string // URLs, or text chunks for text models
	Error   string
}

// Handle identifies a created task. It carries everything an adapter needs to
// poll the task, so adapters hold no per-task state and an abandoned task
// leaves nothing behind.
type Handle struct {
	ID  string // Provider task id
	Ref string // Adapter-specific polling state, opaque to the engine
}

// Adapter speaks one provider's API.
type Adapter interface {
	Name() string
	Create(ctx context.Context, req Request) (Handle, error)
	Poll(ctx context.Context, h Handle) (*Task, error)
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// rejects reports whether the response means the provider refused the
// generation itself, as opposed to our credentials or its availability.
func (e *StatusError) rejects() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// EngineOptions configures polling.
type EngineOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Engine runs the create/poll protocol for one adapter.
type Engine struct {
	adapter  Adapter
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEngine creates an engine around adapter.
func NewEngine(adapter Adapter, opts EngineOptions) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		adapter:  adapter,
		interval: opts.PollInterval,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With("component", "provider", "provider", adapter.Name()),
	}
}

// Name returns the adapter's provider tag.
func (e *Engine) Name() string {
	return e.adapter.Name()
}

// Invoke submits req and polls until the task is terminal.
//
// Outcomes: a Result; apperr.ProviderRejected when the provider fails the
// generation; apperr.ProviderTimeout when the deadline passes; apperr.Internal
// when the provider cannot be reached. A missing required image fails before
// any task is created.
func (e *Engine) Invoke(ctx context.Context, req Request) (*Result, error) {
	name := e.adapter.Name()
	if req.Model.NeedsImage() && strings.TrimSpace(req.ImageURL) == "" {
		return nil, apperr.Validation("model %s requires an input image", req.Model.ID)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	handle, err := e.adapter.Create(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.ProviderTimeout(name, "")
		}
		return nil, e.classify(err)
	}

	taskID := handle.ID
	logger := e.logger.With("task_id", taskID, "model_id", req.Model.ID, "variant", req.Variant)
	logger.DebugContext(ctx, "provider task created")

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			logger.WarnContext(ctx, "provider task timed out", "duration_ms", time.Since(start).Milliseconds())
			return nil, apperr.ProviderTimeout(name, taskID)
		case <-timer.C:
		}

		task, err := e.adapter.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.ProviderTimeout(name, taskID)
			}
			var se *StatusError
			if errors.As(err, &se) && se.rejects() {
				return nil, apperr.ProviderRejected(name, se.Body, err)
			}
			failures++
			if failures >= maxPollFailures {
				return nil, apperr.Internal(fmt.Sprintf("provider %s could not be polled", name), err)
			}
			logger.WarnContext(ctx, "provider poll failed, retrying", "error", err, "attempt", failures)
			timer.Reset(e.interval)
			continue
		}
		failures = 0

		switch task.Status {
		case StatusSucceeded:
			result, err := e.result(req, taskID, task, start)
			if err != nil {
				return nil, err
			}
			logger.InfoContext(ctx, "provider task succeeded",
				"duration_ms", result.Duration.Milliseconds(),
				"output_count", len(task.Outputs),
			)
			return result, nil
		case StatusFailed:
			logger.WarnContext(ctx, "provider task failed", "error", task.Error)
			return nil, apperr.ProviderRejected(name, task.Error, nil)
		}
		timer.Reset(e.interval)
	}
}

func (e *Engine) result(req Request, taskID string, task *Task, start time.Time) (*Result, error) {
	res := &Result{TaskID: taskID, Duration: time.Since(start)}
	if req.Model.Capability == catalog.CapabilityText {
		res.Text = strings.Join(task.Outputs, "")
		if res.Text == "" {
			return nil, apperr.ProviderRejected(e.adapter.Name(), "empty output", nil)
		}
		return res, nil
	}

	for _, u := range task.Outputs {
		if u != "" {
			res.URLs = append(res.URLs, u)
		}
	}
	if len(res.URLs) == 0 {
		return nil, apperr.ProviderRejected(e.adapter.Name(), "empty output", nil)
	}
	return res, nil
}

func (e *Engine) classify(err error) error {
	name := e.adapter.Name()
	var se *StatusError
	if errors.As(err, &se) && se.rejects() {
		return apperr.ProviderRejected(name, se.Body, err)
	}
	return apperr.Internal(fmt.Sprintf("provider %s request failed", name), err)
}
