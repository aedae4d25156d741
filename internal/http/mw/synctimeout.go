package mw

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ExtendWriteDeadline is middleware that extends the HTTP write deadline of
// synchronous long-running requests (generation) whose path contains one of
// patterns, so they can outlive the server's default WriteTimeout. The
// deadline becomes now + d.
func ExtendWriteDeadline(d time.Duration, patterns ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, pattern := range patterns {
				if !strings.Contains(r.URL.Path, pattern) {
					continue
				}
				rc := http.NewResponseController(w)
				if err := rc.SetWriteDeadline(time.Now().Add(d)); err != nil {
					// Recorders and some proxies don't support deadlines.
					slog.Debug("could not extend write deadline", "path", r.URL.Path, "error", err)
				}
				break
			}

			next.ServeHTTP(w, r)
		})
	}
}
