package provider

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/config"
)

// Registry routes invocations to the engine for a model's provider tag.
type Registry struct {
	engines  map[string]*Engine
	fallback *Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// NewRegistryFromConfig registers every provider that has credentials. In mock
// mode every provider tag resolves to the mock adapter instead.
func NewRegistryFromConfig(cfg *config.Config, logger *slog.Logger) *Registry {
	r := NewRegistry()
	opts := EngineOptions{
		PollInterval: cfg.ProviderPollInterval,
		Timeout:      cfg.ProviderTimeout,
		Logger:       logger,
	}

	if cfg.MockMode {
		r.SetFallback(NewEngine(NewMock(), EngineOptions{
			PollInterval: 10 * time.Millisecond,
			Timeout:      cfg.ProviderTimeout,
			Logger:       logger,
		}))
		logger.Warn("mock mode enabled - providers, billing and storage are bypassed")
		return r
	}

	client := NewHTTPClient()
	if cfg.ReplicateAPIToken != "" {
		r.Register(NewEngine(NewReplicate(ReplicateOptions{
			APIToken:   cfg.ReplicateAPIToken,
			BaseURL:    cfg.ReplicateBaseURL,
			HTTPClient: client,
		}), opts))
	}
	if cfg.FalAPIKey != "" {
		r.Register(NewEngine(NewFal(FalOptions{
			APIKey:     cfg.FalAPIKey,
			BaseURL:    cfg.FalBaseURL,
			HTTPClient: client,
		}), opts))
	}

	logger.Info("providers registered", "providers", r.Names())
	return r
}

// Register adds an engine under its adapter's name.
func (r *Registry) Register(e *Engine) {
	r.engines[e.Name()] = e
}

// SetFallback sets the engine used for unregistered provider tags.
func (r *Registry) SetFallback(e *Engine) {
	r.fallback = e
}

// Has reports whether invocations for provider can be served.
func (r *Registry) Has(provider string) bool {
	_, ok := r.engines[provider]
	return ok || r.fallback != nil
}

// Names returns the registered provider tags.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs req on the engine for req.Model.Provider. A provider with no
// engine is a configuration error.
func (r *Registry) Invoke(ctx context.Context, req Request) (*Result, error) {
	e, ok := r.engines[req.Model.Provider]
	if !ok {
		e = r.fallback
	}
	if e == nil {
		return nil, apperr.Unavailable(req.Model.Provider, apperr.ReasonMissingConfig, nil)
	}
	return e.Invoke(ctx, req)
}
