// Package guard implements degraded-mode handling for infrastructure
// collaborators (ledger, generation records, asset store).
//
// Every collaborator call goes through a Guard. Business failures pass through
// untouched. Infrastructure failures are classified into a Reason and then
// either surfaced as an unavailable error (strict mode) or swallowed (degraded
// mode), in which case the caller receives the reason and carries on.
package guard

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/aws/smithy-go"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
)

// ErrNotConfigured is returned by collaborators that were never configured
// (no bucket, no database URL).
var ErrNotConfigured = errors.New("collaborator not configured")

// Collaborator names used in logs and unavailable errors.
const (
	Ledger  = "ledger"
	Records = "records"
	Assets  = "assets"
)

// Guard applies the strict/degraded contract to collaborator errors.
type Guard struct {
	degraded bool
	logger   *slog.Logger
}

// New creates a guard. degraded selects degraded mode.
func New(degraded bool, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{degraded: degraded, logger: logger.With("component", "guard")}
}

// Degraded reports whether unavailable collaborators are tolerated.
func (g *Guard) Degraded() bool {
	return g.degraded
}

// Check filters a collaborator error.
//
//   - nil: returns "", nil.
//   - business error: returned unchanged.
//   - otherwise, strict mode: returns an apperr unavailable error.
//   - otherwise, degraded mode: returns the reason and a nil error.
func (g *Guard) Check(ctx context.Context, collaborator string, err error) (apperr.Reason, error) {
	if err == nil {
		return "", nil
	}
	if apperr.IsBusiness(err) {
		return "", err
	}

	reason := Classify(err)
	if !g.degraded {
		return "", apperr.Unavailable(collaborator, reason, err)
	}

	g.logger.WarnContext(ctx, "collaborator unavailable, continuing degraded",
		"collaborator", collaborator,
		"degraded_reason", reason,
		"error", err,
	)
	return reason, nil
}

// Do runs fn through the guard.
func (g *Guard) Do(ctx context.Context, collaborator string, fn func(context.Context) error) (apperr.Reason, error) {
	return g.Check(ctx, collaborator, fn(ctx))
}

// Call runs fn through the guard and returns its value. When the error is
// swallowed the zero value of T is returned along with the reason.
func Call[T any](ctx context.Context, g *Guard, collaborator string, fn func(context.Context) (T, error)) (T, apperr.Reason, error) {
	v, err := fn(ctx)
	reason, err := g.Check(ctx, collaborator, err)
	if err != nil || reason != "" {
		var zero T
		return zero, reason, err
	}
	return v, "", nil
}

// Classify maps an infrastructure error to a Reason.
func Classify(err error) apperr.Reason {
	if err == nil {
		return ""
	}

	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindUnavailable && e.Reason != "" {
		return e.Reason
	}

	if errors.Is(err, ErrNotConfigured) {
		return apperr.ReasonMissingConfig
	}

	if isAuthFailure(err) {
		return apperr.ReasonAuth
	}

	if isNetworkFailure(err) {
		return apperr.ReasonNetwork
	}

	return apperr.ReasonOther
}

// Credential failures reported by S3-compatible stores.
var authErrorCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
}

func isAuthFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return true
	}

	// smithy ResponseError and provider HTTP errors expose the status code.
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	return false
}

func isNetworkFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
