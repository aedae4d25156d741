// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        int
	BaseURL     string
	CORSOrigins []string

	// Database (libsql/Turso)
	DatabaseURL    string
	TursoURL       string
	TursoAuthToken string

	// Identity resolution
	AuthJWKSIssuer    string   // e.g. "https://xxx.clerk.accounts.dev" (RS256 via JWKS)
	AuthJWTSecret     string   // HS256 shared secret, used when no JWKS issuer is set
	AnonymousIdentity string   // Fallback identity for unauthenticated callers ("" = none)
	SuperadminIDs     []string // Identities allowed to call admin operations

	// Orchestration
	DegradedMode     bool          // Tolerate unavailable ledger/records/assets
	MockMode         bool          // Synthetic provider output, no cost/debit/persistence
	RequestTimeout   time.Duration // Bounds the whole generation pipeline
	BatchConcurrency int           // Variants invoked concurrently per window
	MaxOutputs       int           // Upper bound on outputsCount

	// Providers
	ProviderPollInterval time.Duration
	ProviderTimeout      time.Duration
	ReplicateAPIToken    string
	ReplicateBaseURL     string
	FalAPIKey            string
	FalBaseURL           string

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled     bool
	StorageEndpoint    string // AWS_ENDPOINT_URL_S3
	StorageAccessKey   string // AWS_ACCESS_KEY_ID
	StorageSecretKey   string // AWS_SECRET_ACCESS_KEY
	StorageBucket      string // Bucket name (one per environment)
	StorageRegion      string // Region (auto for Tigris)
	AssetPublicBaseURL string // If set, asset references point here directly
	AssetMaxBytes      int64  // Largest provider output we will persist
	AssetSigningKey    []byte // 32-byte HMAC key for signed asset references

	// Model catalog
	ModelCatalogFile string // Optional YAML catalog replacing the built-in one
	ConfigBucket     string // Bucket holding config/models.json overrides (defaults to StorageBucket)

	// Billing
	StripeSecretKey     string
	StripeWebhookSecret string
	CreditPacks         CreditPacks
	ClerkWebhookSecret  string // Svix signing secret for Clerk webhooks
	SignupGrantCredits  int64

	// Stale generation reaper
	ReaperInterval time.Duration
	ReaperMaxAge   time.Duration

	// Idle shutdown settings (for scale-to-zero on Fly.io)
	IdleTimeout time.Duration // Time before shutting down when idle (0 = disabled)

	// Telemetry
	OTelEnabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL:    getEnv("DATABASE_URL", "file:genstudio.db?_journal=WAL&_timeout=5000"),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		AuthJWKSIssuer:    getEnvWithFallback("AUTH_JWKS_ISSUER", "CLERK_ISSUER_URL", ""),
		AuthJWTSecret:     getEnv("AUTH_JWT_SECRET", ""),
		AnonymousIdentity: getEnv("ANONYMOUS_IDENTITY", ""),
		SuperadminIDs:     getEnvSlice("SUPERADMIN_IDS", nil),

		DegradedMode:     getEnvBool("DEGRADED_MODE", false),
		MockMode:         getEnvBool("MOCK_MODE", false),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 300*time.Second),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 3),
		MaxOutputs:       getEnvInt("MAX_OUTPUTS", 8),

		ProviderPollInterval: getEnvDuration("PROVIDER_POLL_INTERVAL", 2500*time.Millisecond),
		ProviderTimeout:      getEnvDuration("PROVIDER_TIMEOUT", 180*time.Second),
		ReplicateAPIToken:    getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:     strings.TrimRight(getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"), "/"),
		FalAPIKey:            getEnv("FAL_API_KEY", ""),
		FalBaseURL:           strings.TrimRight(getEnv("FAL_BASE_URL", "https://queue.fal.run"), "/"),

		// Object Storage (Tigris/S3-compatible) - uses Fly's standard env vars
		// BUCKET_NAME is set automatically by `fly storage create`
		StorageEndpoint:    getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey:   getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:      getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:      getEnv("AWS_REGION", "auto"),
		AssetPublicBaseURL: strings.TrimRight(getEnv("ASSET_PUBLIC_BASE_URL", ""), "/"),
		AssetMaxBytes:      int64(getEnvInt("ASSET_MAX_BYTES", 100<<20)),

		ModelCatalogFile: getEnv("MODEL_CATALOG_FILE", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ClerkWebhookSecret:  getEnv("CLERK_WEBHOOK_SECRET", ""),
		SignupGrantCredits:  int64(getEnvInt("SIGNUP_GRANT_CREDITS", 10)),

		ReaperInterval: getEnvDuration("REAPER_INTERVAL", 5*time.Minute),
		ReaperMaxAge:   getEnvDuration("REAPER_MAX_AGE", time.Hour),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0), // 0 = disabled
		OTelEnabled: getEnvBool("OTEL_ENABLED", false),
	}

	// Enable storage if bucket is configured
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	// Catalog overrides default to the main storage bucket
	cfg.ConfigBucket = getEnv("CONFIG_BUCKET", cfg.StorageBucket)

	packs, err := ParseCreditPacks(getEnv("CREDIT_PACKS", ""))
	if err != nil {
		return nil, err
	}
	cfg.CreditPacks = packs

	// Asset references must verify across restarts, so the key is derived
	// from a configured secret. Without one, references only live as long as
	// the process.
	signingSecret := getEnvWithFallback("ASSET_SIGNING_SECRET", "AUTH_JWT_SECRET", "")
	if signingSecret == "" {
		signingSecret = generateRandomSecret(64)
	}
	cfg.AssetSigningKey = deriveSigningKey(signingSecret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if c.MaxOutputs < 1 {
		return fmt.Errorf("MAX_OUTPUTS must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ProviderTimeout <= 0 || c.ProviderPollInterval <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT and PROVIDER_POLL_INTERVAL must be positive")
	}
	if c.ReaperMaxAge <= c.RequestTimeout {
		return fmt.Errorf("REAPER_MAX_AGE (%s) must exceed REQUEST_TIMEOUT (%s)", c.ReaperMaxAge, c.RequestTimeout)
	}
	if !c.MockMode && !c.HasProvider() {
		return fmt.Errorf("no provider configured: set REPLICATE_API_TOKEN or FAL_API_KEY, or enable MOCK_MODE")
	}
	return nil
}

// HasProvider returns true if at least one real provider has credentials.
func (c *Config) HasProvider() bool {
	return c.ReplicateAPIToken != "" || c.FalAPIKey != ""
}

// AuthEnabled returns true if bearer tokens can be verified.
func (c *Config) AuthEnabled() bool {
	return c.AuthJWKSIssuer != "" || c.AuthJWTSecret != ""
}

// BillingEnabled returns true if Stripe top-ups can be accepted.
func (c *Config) BillingEnabled() bool {
	return c.StripeWebhookSecret != ""
}

// IsSuperadmin reports whether identity may call admin operations.
func (c *Config) IsSuperadmin(identity string) bool {
	for _, id := range c.SuperadminIDs {
		if id == identity {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "genstudio-ephemeral-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveSigningKey creates a 32-byte HMAC key from a secret string using HKDF.
// The info string binds the key to asset references so the same secret can
// safely serve other purposes.
func deriveSigningKey(secret string) []byte {
	salt := []byte("genstudio-api-asset-signing-v1")
	info := []byte("hmac-sha256-asset-reference")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// This should never happen with valid inputs
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
