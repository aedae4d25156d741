package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/guard"
)

// ErrorBody is the body of every error response: {"success": false, "error": "..."}.
// It implements huma.StatusError so it can be returned from handlers.
type ErrorBody struct {
	Status  int    `json:"-"`
	Success bool   `json:"success"`
	Message string `json:"error"`
}

func (e *ErrorBody) Error() string {
	return e.Message
}

func (e *ErrorBody) GetStatus() int {
	return e.Status
}

// UseErrorEnvelope makes huma render its own errors (validation, auth, 404s
// from the router) in the same envelope as handler errors. Must be called
// before any operation is registered.
func UseErrorEnvelope() {
	huma.NewError = newErrorBody
}

func newErrorBody(status int, msg string, errs ...error) huma.StatusError {
	// Schema violations are malformed requests.
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}

	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	if len(details) > 0 {
		msg = msg + ": " + strings.Join(details, "; ")
	}
	return &ErrorBody{Status: status, Message: msg}
}

// toHTTPError maps a taxonomy error to its response. Unclassified errors become
// 500 with a generic message; their text is only logged.
func toHTTPError(ctx context.Context, logger *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); !ok {
		logger.ErrorContext(ctx, "unclassified handler error", "error", err)
	}
	return &ErrorBody{Status: apperr.StatusCode(err), Message: apperr.PublicMessage(err)}
}

// collaboratorError classifies a raw ledger, records or assets failure as
// unavailable. Taxonomy errors pass through.
func collaboratorError(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Unavailable(collaborator, guard.Classify(err), err)
}
