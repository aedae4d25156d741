package mw

import (
	"net/http"

	"github.com/jmylchreest/genstudio-api/internal/version"
)

// Response headers describing how this instance serves generations.
const (
	HeaderAPIVersion   = "X-API-Version"
	HeaderProviderMode = "X-Provider-Mode" // "live" or "mock"
	HeaderDegradedMode = "X-Degraded-Mode" // "true" when collaborator outages are tolerated
)

// ServiceHeadersConfig describes the instance's operating mode.
type ServiceHeadersConfig struct {
	MockMode     bool
	DegradedMode bool
}

// ServiceHeaders returns middleware that stamps every response with the API
// version and the operating mode, so clients can tell synthetic output from
// real output without parsing bodies.
func ServiceHeaders(cfg ServiceHeadersConfig) func(http.Handler) http.Handler {
	apiVersion := version.Get().Short()
	mode := "live"
	if cfg.MockMode {
		mode = "mock"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set(HeaderAPIVersion, apiVersion)
			h.Set(HeaderProviderMode, mode)
			if cfg.DegradedMode {
				h.Set(HeaderDegradedMode, "true")
			}
			next.ServeHTTP(w, r)
		})
	}
}
