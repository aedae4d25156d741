package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmylchreest/genstudio-api/internal/version"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// NewHTTPClient returns a traced client for provider APIs. Each request has its
// own deadline from the engine, so the client timeout only guards stuck reads.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type apiClient struct {
	provider   string
	baseURL    string
	authHeader string
	httpClient *http.Client
}

func (c *apiClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// do sends a JSON request and decodes a JSON response into out.
// Non-2xx responses return *StatusError.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.provider, err)
	}
	return nil
}

// buildInput merges validated params with the prompt and source image.
func buildInput(req Request, defaultImageField string) map[string]any {
	input := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		input[k] = v
	}
	input["prompt"] = req.Prompt
	if req.ImageURL != "" {
		field := req.Model.ImageInput
		if field == "" {
			field = defaultImageField
		}
		input[field] = req.ImageURL
	}
	return input
}
