// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/genstudio-api/internal/http/mw"
	"github.com/jmylchreest/genstudio-api/internal/version"
)

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Degraded bool   `json:"degraded"`
		MockMode bool   `json:"mockMode"`
	}
}

// NewHealthCheck returns the public health handler. It reports the modes the
// server runs in so operators can tell a degraded deployment apart.
func NewHealthCheck(degraded, mockMode bool) func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	return func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		out := &HealthCheckOutput{}
		out.Body.Status = "healthy"
		out.Body.Version = version.Get().Short()
		out.Body.Degraded = degraded
		out.Body.MockMode = mockMode
		return out, nil
	}
}

// LivezOutput is the liveness probe response.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez reports that the process is serving.
func Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// DBPinger is the subset of *sql.DB the readiness probe needs.
type DBPinger interface {
	Ping() error
}

// ReadyzOutput is the readiness probe response.
type ReadyzOutput struct {
	Body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

// ReadyzHandler checks the database before accepting traffic.
type ReadyzHandler struct {
	db       DBPinger
	degraded bool
}

// NewReadyzHandler creates a readiness handler. db may be nil when the
// database could not be opened; degraded deployments still report ready.
func NewReadyzHandler(db DBPinger, degraded bool) *ReadyzHandler {
	return &ReadyzHandler{db: db, degraded: degraded}
}

// Readyz pings the database.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Status = "ok"
	out.Body.Database = "ok"

	var err error
	if h.db == nil {
		out.Body.Database = "not configured"
		err = huma.Error503ServiceUnavailable("database not configured")
	} else if pingErr := h.db.Ping(); pingErr != nil {
		out.Body.Database = "unreachable"
		err = huma.Error503ServiceUnavailable("database unreachable")
	}

	if err != nil {
		if h.degraded {
			out.Body.Status = "degraded"
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// callerID returns the resolved identity, or "" when none was resolved.
func callerID(ctx context.Context) string {
	return mw.GetUserID(ctx)
}

// pagination clamps list parameters.
func pagination(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
