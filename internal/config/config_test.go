package config

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ========================================
// Helper Functions Tests
// ========================================

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_GET_ENV", "test_value")
	t.Setenv("TEST_EMPTY_VAR", "")

	if got := getEnv("TEST_GET_ENV", "default"); got != "test_value" {
		t.Errorf("getEnv() = %q, want %q", got, "test_value")
	}
	if got := getEnv("TEST_MISSING_VAR", "default_value"); got != "default_value" {
		t.Errorf("getEnv() = %q, want %q", got, "default_value")
	}
	if got := getEnv("TEST_EMPTY_VAR", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q (empty should use default)", got, "default")
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getEnvBool("TEST_BOOL", !tt.want); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "2.5s")
	t.Setenv("TEST_DUR_INVALID", "soon")

	if got := getEnvDuration("TEST_DUR", time.Hour); got != 2500*time.Millisecond {
		t.Errorf("getEnvDuration() = %v, want 2.5s", got)
	}
	if got := getEnvDuration("TEST_DUR_INVALID", 2*time.Hour); got != 2*time.Hour {
		t.Errorf("getEnvDuration() = %v, want 2h (default)", got)
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", " a, b ,,c ")

	got := getEnvSlice("TEST_SLICE", nil)
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("getEnvSlice() = %v, want [a b c]", got)
	}
	if got := getEnvSlice("TEST_SLICE_MISSING", []string{"x"}); len(got) != 1 {
		t.Errorf("getEnvSlice() length = %d, want 1 (default)", len(got))
	}
}

func TestGetEnvWithFallback(t *testing.T) {
	t.Setenv("FALLBACK_KEY", "fallback_value")

	if got := getEnvWithFallback("MISSING_PRIMARY", "FALLBACK_KEY", "default"); got != "fallback_value" {
		t.Errorf("getEnvWithFallback() = %q, want %q", got, "fallback_value")
	}
	t.Setenv("PRIMARY_KEY", "primary_value")
	if got := getEnvWithFallback("PRIMARY_KEY", "FALLBACK_KEY", "default"); got != "primary_value" {
		t.Errorf("getEnvWithFallback() = %q, want %q", got, "primary_value")
	}
}

// ========================================
// Load Tests
// ========================================

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MOCK_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RequestTimeout != 300*time.Second {
		t.Errorf("RequestTimeout = %v, want 300s", cfg.RequestTimeout)
	}
	if cfg.BatchConcurrency != 3 {
		t.Errorf("BatchConcurrency = %d, want 3", cfg.BatchConcurrency)
	}
	if cfg.ProviderTimeout != 180*time.Second {
		t.Errorf("ProviderTimeout = %v, want 180s", cfg.ProviderTimeout)
	}
	if cfg.DegradedMode {
		t.Error("DegradedMode should default to false")
	}
	if len(cfg.AssetSigningKey) != 32 {
		t.Errorf("AssetSigningKey length = %d, want 32", len(cfg.AssetSigningKey))
	}
	if cfg.StorageEnabled {
		t.Error("StorageEnabled should be false without bucket and endpoint")
	}
}

func TestLoad_Storage(t *testing.T) {
	t.Setenv("MOCK_MODE", "true")
	t.Setenv("AWS_ENDPOINT_URL_S3", "https://fly.storage.tigris.dev")
	t.Setenv("STORAGE_BUCKET", "genstudio-assets")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.StorageEnabled {
		t.Error("StorageEnabled should be true when bucket and endpoint are set")
	}
	if cfg.ConfigBucket != "genstudio-assets" {
		t.Errorf("ConfigBucket = %q, want storage bucket", cfg.ConfigBucket)
	}
}

func TestLoad_RequiresProviderOutsideMockMode(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error without provider credentials")
	}

	t.Setenv("FAL_API_KEY", "fal-key")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error with FAL_API_KEY: %v", err)
	}
}

func TestLoad_ReaperMustOutliveRequests(t *testing.T) {
	t.Setenv("MOCK_MODE", "true")
	t.Setenv("REQUEST_TIMEOUT", "10m")
	t.Setenv("REAPER_MAX_AGE", "5m")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when REAPER_MAX_AGE <= REQUEST_TIMEOUT")
	}
}

func TestLoad_SigningKeyStableForSameSecret(t *testing.T) {
	t.Setenv("MOCK_MODE", "true")
	t.Setenv("ASSET_SIGNING_SECRET", "s3cret")

	a, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	b, _ := Load()
	if !bytes.Equal(a.AssetSigningKey, b.AssetSigningKey) {
		t.Error("same secret should derive the same signing key")
	}
	if bytes.Equal(deriveSigningKey("s3cret"), deriveSigningKey("other")) {
		t.Error("different secrets should derive different keys")
	}
}

func TestConfig_IsSuperadmin(t *testing.T) {
	cfg := &Config{SuperadminIDs: []string{"user_admin"}}
	if !cfg.IsSuperadmin("user_admin") {
		t.Error("IsSuperadmin(user_admin) should be true")
	}
	if cfg.IsSuperadmin("user_other") {
		t.Error("IsSuperadmin(user_other) should be false")
	}
}

// ========================================
// Credit Packs Tests
// ========================================

func TestParseCreditPacks(t *testing.T) {
	packs, err := ParseCreditPacks("price_small:100, price_large:500")
	if err != nil {
		t.Fatalf("ParseCreditPacks() error: %v", err)
	}
	if packs.Credits("price_small") != 100 || packs.Credits("price_large") != 500 {
		t.Errorf("packs = %v", packs)
	}
	if packs.Credits("price_unknown") != 0 {
		t.Error("unknown price should yield 0 credits")
	}

	for _, bad := range []string{"price_only", "price:abc", "price:-5", ":10"} {
		if _, err := ParseCreditPacks(bad); err == nil {
			t.Errorf("ParseCreditPacks(%q) should fail", bad)
		}
	}
}

// ========================================
// S3 Loader Tests
// ========================================

type fakeGetter struct {
	calls    int
	lastETag string
	respond  func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	if in.IfNoneMatch != nil {
		f.lastETag = *in.IfNoneMatch
	}
	return f.respond(in)
}

func etagPtr(s string) *string { return &s }

func TestS3Loader_FetchAndNotModified(t *testing.T) {
	getter := &fakeGetter{}
	getter.respond = func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		if in.IfNoneMatch != nil && *in.IfNoneMatch == `"v1"` {
			return nil, &smithy.GenericAPIError{Code: "NotModified"}
		}
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(`{"models":[]}`)), ETag: etagPtr(`"v1"`)}, nil
	}
	loader := NewS3Loader(S3LoaderConfig{Client: getter, Bucket: "cfg", Key: "config/models.json", CacheTTL: time.Nanosecond})

	res, err := loader.Fetch(context.Background())
	if err != nil || res == nil {
		t.Fatalf("Fetch() = %v, %v", res, err)
	}
	if res.Etag != "v1" || string(res.Data) != `{"models":[]}` {
		t.Errorf("result = {%q, %q}", res.Etag, res.Data)
	}

	time.Sleep(time.Millisecond)
	res, err = loader.Fetch(context.Background())
	if err != nil {
		t.Fatalf("second Fetch() error: %v", err)
	}
	if res == nil || !res.NotChanged {
		t.Errorf("second Fetch() should report NotChanged, got %+v", res)
	}
	if getter.lastETag != `"v1"` {
		t.Errorf("If-None-Match = %q, want %q", getter.lastETag, `"v1"`)
	}
}

func TestS3Loader_MissingObject(t *testing.T) {
	getter := &fakeGetter{respond: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return nil, &types.NoSuchKey{}
	}}
	loader := NewS3Loader(S3LoaderConfig{Client: getter, Bucket: "cfg", Key: "config/models.json"})

	res, err := loader.Fetch(context.Background())
	if err != nil || res != nil {
		t.Errorf("Fetch() = %v, %v; want nil, nil", res, err)
	}
	if !loader.Stats().Initialized {
		t.Error("loader should be initialized after a missing object")
	}
}

func TestS3Loader_ErrorBackoff(t *testing.T) {
	getter := &fakeGetter{respond: func(*s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return nil, errors.New("connection reset")
	}}
	loader := NewS3Loader(S3LoaderConfig{Client: getter, Bucket: "cfg", Key: "k", CacheTTL: time.Nanosecond, ErrorBackoff: time.Hour})

	if _, err := loader.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if loader.NeedsRefresh() {
		t.Error("NeedsRefresh() should be false during error backoff")
	}
}

func TestS3Loader_Disabled(t *testing.T) {
	loader := NewS3Loader(S3LoaderConfig{})
	if loader.IsEnabled() {
		t.Error("loader without client should be disabled")
	}
	if res, err := loader.Fetch(context.Background()); res != nil || err != nil {
		t.Errorf("Fetch() = %v, %v; want nil, nil", res, err)
	}
}
