package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	appconfig "github.com/jmylchreest/genstudio-api/internal/config"
	"github.com/jmylchreest/genstudio-api/internal/crypto"
	"github.com/jmylchreest/genstudio-api/internal/guard"
	"github.com/jmylchreest/genstudio-api/internal/models"
	"github.com/jmylchreest/genstudio-api/internal/version"
)

// ErrAssetTooLarge means a provider output exceeded the configured size limit.
var ErrAssetTooLarge = errors.New("asset exceeds size limit")

// ObjectStore is the subset of the S3 client the asset store needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// AssetOptions configures where assets are written and how they are referenced.
type AssetOptions struct {
	Bucket        string
	PublicBaseURL string // References are <PublicBaseURL>/<key> when set
	BaseURL       string // Otherwise <BaseURL>/api/v1/assets/<key>?sig=...
	SigningKey    []byte
	MaxBytes      int64
	HTTPClient    *http.Client // Fetches provider outputs
}

// AssetService is the durable asset store (Tigris/S3-compatible). Provider
// outputs are copied under generations/{identity}/{kind}/{generationID}{ext}
// and referenced by a URL that does not expire.
type AssetService struct {
	client  ObjectStore
	opts    AssetOptions
	signer  *crypto.Signer
	enabled bool
	logger  *slog.Logger
}

// NewAssetService creates the asset store from configuration.
func NewAssetService(cfg *appconfig.Config, logger *slog.Logger) (*AssetService, error) {
	logger = logger.With("component", "assets")
	if !cfg.StorageEnabled {
		logger.Info("asset storage disabled - no bucket configured")
		return &AssetService{enabled: false, logger: logger}, nil
	}

	client, err := NewS3Client(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("asset storage initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
		"public_base_url", cfg.AssetPublicBaseURL,
	)

	return NewAssetServiceWithClient(client, AssetOptions{
		Bucket:        cfg.StorageBucket,
		PublicBaseURL: cfg.AssetPublicBaseURL,
		BaseURL:       cfg.BaseURL,
		SigningKey:    cfg.AssetSigningKey,
		MaxBytes:      cfg.AssetMaxBytes,
	}, logger)
}

// NewS3Client builds an S3 client for S3-compatible storage (Tigris, MinIO, R2).
func NewS3Client(ctx context.Context, cfg *appconfig.Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// NewAssetServiceWithClient creates an enabled asset store over client.
func NewAssetServiceWithClient(client ObjectStore, opts AssetOptions, logger *slog.Logger) (*AssetService, error) {
	signer, err := crypto.NewSigner(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset signer: %w", err)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 100 << 20
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &AssetService{
		client:  client,
		opts:    opts,
		signer:  signer,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *AssetService) IsEnabled() bool {
	return s.enabled
}

// Persist copies the bytes at sourceURL into the bucket and returns a stable
// reference. Persisting the same (identity, generationID, kind) again
// overwrites the object.
func (s *AssetService) Persist(ctx context.Context, identity, generationID, sourceURL string, kind models.GenerationKind) (string, error) {
	if !s.enabled {
		return "", guard.ErrNotConfigured
	}

	data, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	mtype := mimetype.Detect(data)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mtype.String()
	}
	key := AssetKey(identity, generationID, kind, mtype.Extension())

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store asset: %w", err)
	}

	s.logger.InfoContext(ctx, "asset persisted",
		"user_id", identity,
		"generation_id", generationID,
		"key", key,
		"content_type", contentType,
		"size_bytes", len(data),
	)
	return s.Reference(key), nil
}

func (s *AssetService) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid source url: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch provider output: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch provider output: status %d", resp.StatusCode)
	}
	if resp.ContentLength > s.opts.MaxBytes {
		return nil, "", ErrAssetTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read provider output: %w", err)
	}
	if int64(len(data)) > s.opts.MaxBytes {
		return nil, "", ErrAssetTooLarge
	}

	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, strings.TrimSpace(contentType), nil
}

// AssetKey returns the object key for a generation output.
func AssetKey(identity, generationID string, kind models.GenerationKind, ext string) string {
	return fmt.Sprintf("generations/%s/%s/%s%s", keySegment(identity), kind, keySegment(generationID), ext)
}

// keySegment keeps a caller-derived value inside its path segment.
func keySegment(v string) string {
	v = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(v)
	if v == "" {
		return "_"
	}
	return v
}

// Reference returns the stable public reference for key.
func (s *AssetService) Reference(key string) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL + "/" + key
	}
	return fmt.Sprintf("%s/api/v1/assets/%s?sig=%s", s.opts.BaseURL, key, url.QueryEscape(s.signer.Sign(key)))
}

// Asset is an object opened for streaming.
type Asset struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Open verifies a signed reference and opens the object. Bad signatures and
// missing objects are both reported as not found.
func (s *AssetService) Open(ctx context.Context, key, sig string) (*Asset, error) {
	if !s.enabled {
		return nil, apperr.NotFound("asset not found")
	}
	if err := s.signer.Verify(key, sig); err != nil {
		return nil, apperr.NotFound("asset not found")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, apperr.NotFound("asset not found")
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &Asset{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
	}, nil
}
