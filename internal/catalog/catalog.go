package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jmylchreest/genstudio-api/internal/config"
)

// OverrideKey is the object key of the S3 override document.
const OverrideKey = "config/models.json"

// document is the on-disk and S3 shape of a catalog.
type document struct {
	Models []Model `koanf:"models"`
}

// Catalog holds the current model definitions.
// Definitions are swapped atomically as a whole; Lookup never sees a mix.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]*Model

	overrides *config.S3Loader
	served    func(provider string) bool
	logger    *slog.Logger
}

// New creates a catalog from definitions.
func New(defs []Model, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{logger: logger.With("component", "catalog")}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates defs and swaps them in. On error the catalog is unchanged.
func (c *Catalog) Replace(defs []Model) error {
	next := make(map[string]*Model, len(defs))
	for i := range defs {
		m := defs[i]
		if err := m.validate(); err != nil {
			return err
		}
		if _, dup := next[m.ID]; dup {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		next[m.ID] = &m
	}

	c.mu.Lock()
	c.models = next
	c.mu.Unlock()
	return nil
}

// Lookup returns the enabled model with id, or nil if it is absent or disabled.
func (c *Catalog) Lookup(id string) *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.models[id]
	if !ok || !m.Enabled {
		return nil
	}
	cp := *m
	return &cp
}

// List returns enabled models ordered by id.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		if m.Enabled {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Providers returns the distinct provider tags used by enabled models.
func (c *Catalog) Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range c.List() {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}

// LoadFile reads a YAML catalog file.
func LoadFile(path string) ([]Model, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return unmarshal(k)
}

// Parse reads a catalog document from YAML or JSON bytes.
func Parse(data []byte) ([]Model, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) ([]Model, error) {
	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, errors.New("catalog defines no models")
	}
	return doc.Models, nil
}

// rawBytes is a koanf provider over an in-memory document.
type rawBytes []byte

func (r rawBytes) ReadBytes() ([]byte, error) { return r, nil }

func (r rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("catalog: raw bytes provider requires a parser")
}

// UseOverrides enables refreshing from an S3 document.
// ServedBy sets the check for whether a provider tag can be invoked and reports
// the providers of enabled models that fail it. Overrides applied later are
// checked again.
func (c *Catalog) ServedBy(served func(provider string) bool) []string {
	c.mu.Lock()
	c.served = served
	c.mu.Unlock()
	return c.reportUnserved()
}

// Unserved returns the providers of enabled models that cannot be invoked.
// It is empty until ServedBy is set.
func (c *Catalog) Unserved() []string {
	c.mu.RLock()
	served := c.served
	c.mu.RUnlock()
	if served == nil {
		return nil
	}

	var out []string
	for _, p := range c.Providers() {
		if !served(p) {
			out = append(out, p)
		}
	}
	return out
}

// reportUnserved logs models whose requests would fail as unavailable.
func (c *Catalog) reportUnserved() []string {
	missing := c.Unserved()
	if len(missing) > 0 {
		c.logger.Error("catalog models reference providers with no credentials", "providers", missing)
	}
	return missing
}

func (c *Catalog) UseOverrides(loader *config.S3Loader) {
	c.overrides = loader
}

// Refresh applies the S3 override document if it changed.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.overrides == nil || !c.overrides.IsEnabled() || !c.overrides.NeedsRefresh() {
		return nil
	}

	result, err := c.overrides.Fetch(ctx)
	if err != nil {
		return err
	}
	if result == nil || result.NotChanged {
		return nil
	}

	defs, err := Parse(result.Data)
	if err != nil {
		c.logger.Error("ignoring invalid catalog override", "etag", result.Etag, "error", err)
		return err
	}
	if err := c.Replace(defs); err != nil {
		c.logger.Error("ignoring invalid catalog override", "etag", result.Etag, "error", err)
		return err
	}

	c.logger.Info("catalog override applied", "etag", result.Etag, "model_count", len(defs))
	c.reportUnserved()
	return nil
}

// Watch refreshes overrides every interval until ctx is done.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) {
	if c.overrides == nil || !c.overrides.IsEnabled() {
		return
	}
	_ = c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
