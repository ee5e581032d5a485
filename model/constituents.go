package model

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultAccuracy is the tolerance used for parcel comparison, the
	// mass-balance test and the sub-epsilon request cutoff.
	DefaultAccuracy = 1e-11
	// UnboundedCapacity stands in for "no limit" on arcs, tanks and sinks.
	UnboundedCapacity = 1e15
)

var (
	ErrConstituentBadInput  = errors.New("invalid constituent")
	ErrConstituentDuplicate = errors.New("duplicate constituent")
	ErrConstituentUnknown   = errors.New("unknown constituent")
)

// Config is the constituent configuration shared by every component of a run.
// It is built once and never mutated afterwards.
type Config struct {
	names    []string
	index    map[string]int
	additive int // names[:additive] are additive, the rest are non-additive
	accuracy float64
}

// ConfigOption customises Config construction.
type ConfigOption func(*Config)

// WithAccuracy overrides DefaultAccuracy.
func WithAccuracy(eps float64) ConfigOption {
	return func(c *Config) {
		if eps > 0 {
			c.accuracy = eps
		}
	}
}

// NewConfig validates and freezes the additive and non-additive constituent
// sets. The two kinds must be disjoint.
func NewConfig(additive, nonAdditive []string, opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		names:    make([]string, 0, len(additive)+len(nonAdditive)),
		index:    make(map[string]int, len(additive)+len(nonAdditive)),
		additive: len(additive),
		accuracy: DefaultAccuracy,
	}
	for _, group := range [][]string{additive, nonAdditive} {
		for _, name := range group {
			name = strings.TrimSpace(name)
			if name == "" || strings.EqualFold(name, "volume") {
				return nil, fmt.Errorf("%w: %q", ErrConstituentBadInput, name)
			}
			if _, exists := cfg.index[name]; exists {
				return nil, fmt.Errorf("%w: %q", ErrConstituentDuplicate, name)
			}
			cfg.index[name] = len(cfg.names)
			cfg.names = append(cfg.names, name)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg, nil
}

// DefaultConfig returns the usual water-quality constituent set.
func DefaultConfig() *Config {
	cfg, err := NewConfig(
		[]string{"phosphate", "org-phosphorus", "ammonia", "nitrate", "nitrite", "org-nitrogen", "solids", "do", "bod", "cod"},
		[]string{"temperature"},
	)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Accuracy returns the configured floating tolerance.
func (c *Config) Accuracy() float64 { return c.accuracy }

// Names returns every constituent name, additive first.
func (c *Config) Names() []string { return append([]string(nil), c.names...) }

// Additive returns the additive constituent names.
func (c *Config) Additive() []string { return append([]string(nil), c.names[:c.additive]...) }

// NonAdditive returns the non-additive constituent names.
func (c *Config) NonAdditive() []string { return append([]string(nil), c.names[c.additive:]...) }

// Len is the number of constituents carried by every parcel.
func (c *Config) Len() int { return len(c.names) }

// Index returns the position of name within Parcel.Values.
func (c *Config) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// IsAdditive reports whether name is a conserved (summed) constituent.
func (c *Config) IsAdditive(name string) bool {
	i, ok := c.index[name]
	return ok && i < c.additive
}

// ConservedFields returns "volume" followed by the additive names; these are
// the fields a mass balance is checked over.
func (c *Config) ConservedFields() []string {
	return append([]string{"volume"}, c.names[:c.additive]...)
}
