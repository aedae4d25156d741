// Package catalog is the model catalog: an immutable lookup from model id to
// provider, capability, credit cost, required inputs and parameter schema.
package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jmylchreest/genstudio-api/internal/apperr"
	"github.com/jmylchreest/genstudio-api/internal/models"
)

// Capability is what a model produces.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
	CapabilityEdit  Capability = "edit"
	CapabilityVideo Capability = "video"
)

func (c Capability) valid() bool {
	switch c {
	case CapabilityText, CapabilityImage, CapabilityEdit, CapabilityVideo:
		return true
	}
	return false
}

// ParamType is the JSON type a parameter accepts.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamSpec declares one model parameter.
type ParamSpec struct {
	Name        string    `koanf:"name" json:"name"`
	Type        ParamType `koanf:"type" json:"type"`
	Description string    `koanf:"description" json:"description,omitempty"`
	Enum        []string  `koanf:"enum" json:"enum,omitempty"`
	Min         *float64  `koanf:"min" json:"min,omitempty"`
	Max         *float64  `koanf:"max" json:"max,omitempty"`
	Default     any       `koanf:"default" json:"default,omitempty"`
}

// Model is one catalog entry.
type Model struct {
	ID            string      `koanf:"id" json:"id"`
	Title         string      `koanf:"title" json:"title"`
	Provider      string      `koanf:"provider" json:"provider"`
	Capability    Capability  `koanf:"capability" json:"capability"`
	Enabled       bool        `koanf:"enabled" json:"enabled"`
	CreditCost    int64       `koanf:"credit_cost" json:"creditCost"`
	RequiresImage bool        `koanf:"requires_image" json:"requiresImage"`
	UpstreamModel string      `koanf:"upstream_model" json:"-"` // Provider-side model or version
	ImageInput    string      `koanf:"image_input" json:"-"`    // Provider input field for the source image
	MaxOutputs    int         `koanf:"max_outputs" json:"maxOutputs,omitempty"`
	Params        []ParamSpec `koanf:"params" json:"params,omitempty"`
}

// Kind returns the generation kind used to namespace this model's assets.
func (m *Model) Kind() models.GenerationKind {
	switch m.Capability {
	case CapabilityVideo:
		return models.GenerationKindVideo
	case CapabilityText:
		return models.GenerationKindText
	}
	return models.GenerationKindPhoto
}

// NeedsImage reports whether a source image is mandatory.
func (m *Model) NeedsImage() bool {
	return m.RequiresImage || m.Capability == CapabilityEdit
}

// OutputLimit returns the largest outputsCount the model accepts, capped by global.
func (m *Model) OutputLimit(global int) int {
	if m.Capability == CapabilityText {
		return 1
	}
	if m.MaxOutputs > 0 && m.MaxOutputs < global {
		return m.MaxOutputs
	}
	return global
}

// validate checks the definition itself, not a request.
func (m *Model) validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("model id is required")
	}
	if m.Provider == "" {
		return fmt.Errorf("model %s: provider is required", m.ID)
	}
	if !m.Capability.valid() {
		return fmt.Errorf("model %s: unknown capability %q", m.ID, m.Capability)
	}
	if m.CreditCost < 0 {
		return fmt.Errorf("model %s: credit cost must not be negative", m.ID)
	}
	seen := make(map[string]bool, len(m.Params))
	for _, p := range m.Params {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("model %s: parameter names must be unique and non-empty", m.ID)
		}
		seen[p.Name] = true
		switch p.Type {
		case ParamString, ParamInteger, ParamNumber, ParamBoolean:
		default:
			return fmt.Errorf("model %s: parameter %s has unknown type %q", m.ID, p.Name, p.Type)
		}
		if p.Default != nil {
			if _, err := p.coerce(p.Default); err != nil {
				return fmt.Errorf("model %s: default for %s: %w", m.ID, p.Name, err)
			}
		}
	}
	return nil
}

// ResolveParams validates caller parameters against the schema and applies
// defaults. The result is safe to hand to a provider.
func (m *Model) ResolveParams(in map[string]any) (map[string]any, error) {
	specs := make(map[string]*ParamSpec, len(m.Params))
	for i := range m.Params {
		specs[m.Params[i].Name] = &m.Params[i]
	}

	unknown := make([]string, 0)
	for name := range in {
		if _, ok := specs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apperr.Validation("unknown parameter(s) for model %s: %s", m.ID, strings.Join(unknown, ", "))
	}

	out := make(map[string]any, len(m.Params))
	for _, spec := range m.Params {
		raw, ok := in[spec.Name]
		if !ok || raw == nil {
			if spec.Default != nil {
				v, _ := spec.coerce(spec.Default)
				out[spec.Name] = v
			}
			continue
		}
		v, err := spec.coerce(raw)
		if err != nil {
			return nil, apperr.Validation("parameter %s: %v", spec.Name, err)
		}
		out[spec.Name] = v
	}
	return out, nil
}

// coerce converts a decoded JSON/YAML value to the parameter's declared type and checks bounds.
func (p *ParamSpec) coerce(v any) (any, error) {
	switch p.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return s, nil

	case ParamBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil

	case ParamInteger, ParamNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("must be a number")
		}
		if p.Type == ParamInteger && f != math.Trunc(f) {
			return nil, fmt.Errorf("must be an integer")
		}
		// -MinInt64 is 2^63, the smallest float above the int64 range.
		if p.Type == ParamInteger && (f < math.MinInt64 || f >= -math.MinInt64) {
			return nil, fmt.Errorf("must be a 64-bit integer")
		}
		if p.Min != nil && f < *p.Min {
			return nil, fmt.Errorf("must be at least %v", *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return nil, fmt.Errorf("must be at most %v", *p.Max)
		}
		if p.Type == ParamInteger {
			return int64(f), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported type %q", p.Type)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
