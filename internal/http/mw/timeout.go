package mw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// panicWithStack captures a panic value along with its stack trace.
type panicWithStack struct {
	value any
	stack []byte
}

// TimeoutConfig defines timeout behavior for different path patterns.
type TimeoutConfig struct {
	// Default timeout for most endpoints
	Default time.Duration
	// Extended timeout for generation, which must exceed the pipeline's own bound
	Extended time.Duration
	// Patterns that get the extended timeout (e.g. "/generate")
	ExtendedPatterns []string
	// Patterns that skip the timeout entirely (e.g. "/assets/" streaming)
	SkipPatterns []string
	Logger       *slog.Logger
}

// timeoutBody is written when a request exceeds its deadline.
const timeoutBody = `{"success":false,"error":"request timed out"}`

// timeoutWriter drops handler writes once the deadline response was sent.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	timedOut    bool
	wroteHeader bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(p)
}

// Unwrap exposes the connection to http.ResponseController.
func (tw *timeoutWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

// expire writes the timeout envelope unless the handler already responded.
func (tw *timeoutWriter) expire() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut = true
	if tw.wroteHeader {
		return false
	}
	tw.ResponseWriter.Header().Set("Content-Type", "application/json")
	tw.ResponseWriter.WriteHeader(http.StatusGatewayTimeout)
	_, _ = tw.ResponseWriter.Write([]byte(timeoutBody))
	return true
}

func (cfg TimeoutConfig) timeoutFor(path string) (time.Duration, bool) {
	for _, pattern := range cfg.SkipPatterns {
		if strings.Contains(path, pattern) {
			return 0, false
		}
	}
	for _, pattern := range cfg.ExtendedPatterns {
		if strings.Contains(path, pattern) {
			return cfg.Extended, true
		}
	}
	return cfg.Default, true
}

// Timeout returns a middleware that applies configurable timeouts to requests.
//   - Paths matching SkipPatterns have no timeout
//   - Paths matching ExtendedPatterns get the Extended timeout
//   - All other paths get the Default timeout
//
// A timed-out generation keeps running on its own detached context; only the
// HTTP response is cut short.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout, ok := cfg.timeoutFor(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			done := make(chan struct{})
			panicChan := make(chan *panicWithStack, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- &panicWithStack{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicChan:
				// Re-panic so Recoverer reports the original stack.
				panic(fmt.Sprintf("%v\n\nOriginal stack trace:\n%s", p.value, p.stack))
			case <-ctx.Done():
			}

			// A handler that gave up on the deadline without responding still
			// gets the timeout envelope.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && tw.expire() {
				logger.WarnContext(ctx, "request timed out", "path", r.URL.Path, "timeout", timeout)
			}
		})
	}
}
