// Package routes provides shared route registration for the genstudio API.
// This allows both the main server and the OpenAPI generator to use
// the same route definitions, keeping the OpenAPI document in sync with the server.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/genstudio-api/internal/http/handlers"
	"github.com/jmylchreest/genstudio-api/internal/http/mw"
	"github.com/jmylchreest/genstudio-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, tag definitions and the
// error envelope, which must be installed before any route is registered.
func NewHumaConfig(baseURL string) huma.Config {
	handlers.UseErrorEnvelope()

	cfg := huma.DefaultConfig("GenStudio API", version.Get().Short())
	cfg.Info.Description = "Runs image, video and text generation models against a prepaid credit balance."

	// Disable $schema field in responses - every body carries a stable success flag instead
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Session token issued by the identity provider, sent as `Authorization: Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Generation", Description: "Run models", Extensions: map[string]any{"x-displayName": "Generation"}},
		{Name: "Generations", Description: "Generation history and status", Extensions: map[string]any{"x-displayName": "Generations"}},
		{Name: "Models", Description: "Model catalog, costs and parameters", Extensions: map[string]any{"x-displayName": "Models"}},
		{Name: "Balance", Description: "Credit balance and ledger history", Extensions: map[string]any{"x-displayName": "Balance"}},
		{Name: "Assets", Description: "Persisted generation outputs", Extensions: map[string]any{"x-displayName": "Assets"}},
		{Name: "Admin", Description: "Refunds and balance adjustments", Extensions: map[string]any{"x-displayName": "Admin"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
