package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/service"
)

// AssetOpener opens signed asset references.
type AssetOpener interface {
	Open(ctx context.Context, key, sig string) (*service.Asset, error)
}

// AssetHandler streams persisted assets. References are signed and never
// expire, so the route needs no identity.
type AssetHandler struct {
	assets AssetOpener
	logger *slog.Logger
}

// NewAssetHandler creates an asset handler.
func NewAssetHandler(assets AssetOpener, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logger.With("handler", "assets")}
}

// AssetRoutePattern is the chi pattern ServeAsset is mounted on.
const AssetRoutePattern = "/api/v1/assets/*"

// ServeAsset handles GET /api/v1/assets/{key}?sig=...
// This is a raw HTTP handler so the object body streams without buffering.
func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "*")
	if key == "" {
		writeErrorJSON(w, apperr.NotFound("asset not found"))
		return
	}

	asset, err := h.assets.Open(ctx, key, r.URL.Query().Get("sig"))
	if err != nil {
		err = collaboratorError(guard.Assets, err)
		if apperr.KindOf(err) != apperr.KindNotFound {
			h.logger.ErrorContext(ctx, "failed to open asset", "key", key, "error", err)
		}
		writeErrorJSON(w, err)
		return
	}
	defer func() { _ = asset.Body.Close() }()

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	if asset.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(asset.ContentLength, 10))
	}
	// Keys are content-addressed by generation id and never rewritten.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, asset.Body); err != nil {
		h.logger.DebugContext(ctx, "asset stream interrupted", "key", key, "error", err)
	}
}

// DocumentAssetEndpoint adds ServeAsset to the OpenAPI document. The route
// itself is mounted on the chi router.
func DocumentAssetEndpoint(api huma.API) {
	api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "getAsset",
		Method:      http.MethodGet,
		Path:        "/api/v1/assets/{key}",
		Summary:     "Download a generated asset",
		Description: "Streams a persisted generation output. The `sig` parameter comes from the reference returned by /api/v1/generate.",
		Tags:        []string{"Assets"},
		Parameters: []*huma.Param{
			{Name: "key", In: "path", Required: true, Schema: &huma.Schema{Type: "string"}},
			{Name: "sig", In: "query", Required: true, Schema: &huma.Schema{Type: "string"}},
		},
		Responses: map[string]*huma.Response{
			"200": {Description: "Asset bytes", Content: map[string]*huma.MediaType{"application/octet-stream": {}}},
			"404": {Description: "Unknown key or bad signature"},
		},
	})
}

// writeErrorJSON writes the error envelope from a raw handler.
func writeErrorJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(err))
	_ = json.NewEncoder(w).Encode(ErrorBody{Message: apperr.PublicMessage(err)})
}
