package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Parcel is a volume of water plus one value per configured constituent, in
// total form: additive values are absolute masses, non-additive values are
// intensive (e.g. temperature). Values is ordered as Config.Names().
//
// Parcels are values; every Config operation returns a freshly allocated
// parcel and never writes to its arguments.
type Parcel struct {
	Volume float64
	Values []float64
}

// Empty returns a zero parcel carrying the full constituent set.
func (c *Config) Empty() Parcel {
	return Parcel{Values: make([]float64, len(c.names))}
}

// New builds a parcel from named constituent values. Unnamed constituents are
// zero; unknown names are rejected.
func (c *Config) New(volume float64, values map[string]float64) (Parcel, error) {
	p := c.Empty()
	p.Volume = volume
	for name, v := range values {
		i, ok := c.index[name]
		if !ok {
			return Parcel{}, fmt.Errorf("%w: %q", ErrConstituentUnknown, name)
		}
		p.Values[i] = v
	}
	return p, nil
}

// MustNew is New for statically known inputs.
func (c *Config) MustNew(volume float64, values map[string]float64) Parcel {
	p, err := c.New(volume, values)
	if err != nil {
		panic(err)
	}
	return p
}

// Clone copies p, normalising a missing value slice to the configured length.
func (c *Config) Clone(p Parcel) Parcel {
	out := c.Empty()
	out.Volume = p.Volume
	copy(out.Values, p.Values)
	return out
}

// Valid reports whether p carries exactly the configured constituent set.
func (c *Config) Valid(p Parcel) bool { return len(p.Values) == len(c.names) }

// Get returns the named constituent value, or 0 for unknown names.
func (c *Config) Get(p Parcel, name string) float64 {
	if name == "volume" {
		return p.Volume
	}
	i, ok := c.index[name]
	if !ok || i >= len(p.Values) {
		return 0
	}
	return p.Values[i]
}

// With returns a copy of p with the named field replaced.
func (c *Config) With(p Parcel, name string, v float64) (Parcel, error) {
	out := c.Clone(p)
	if name == "volume" {
		out.Volume = v
		return out, nil
	}
	i, ok := c.index[name]
	if !ok {
		return Parcel{}, fmt.Errorf("%w: %q", ErrConstituentUnknown, name)
	}
	out.Values[i] = v
	return out, nil
}

// Sum adds volume and additive masses; non-additive values become the
// volume-weighted blend of a and b. When the combined volume is zero the
// non-additive values of a are kept.
func (c *Config) Sum(a, b Parcel) Parcel {
	out := c.Clone(a)
	b = c.Clone(b)
	out.Volume = a.Volume + b.Volume
	floats.Add(out.Values[:c.additive], b.Values[:c.additive])
	if out.Volume > 0 {
		for i := c.additive; i < len(out.Values); i++ {
			out.Values[i] = (out.Values[i]*a.Volume + b.Values[i]*b.Volume) / out.Volume
		}
	}
	return out
}

// Extract subtracts b's volume and additive masses from a. Non-additive values
// of a are kept unchanged, so Extract is not the inverse of Sum.
func (c *Config) Extract(a, b Parcel) Parcel {
	out := c.Clone(a)
	b = c.Clone(b)
	out.Volume -= b.Volume
	floats.Sub(out.Values[:c.additive], b.Values[:c.additive])
	return out
}

// VChange rescales a to volume v, scaling additive masses by v/a.Volume. A
// zero-volume parcel only has its volume set.
func (c *Config) VChange(a Parcel, v float64) Parcel {
	out := c.Clone(a)
	if a.Volume != 0 {
		floats.Scale(v/a.Volume, out.Values[:c.additive])
	}
	out.Volume = v
	return out
}

// DS is the storage change a − b over volume and additive fields only;
// non-additive values are zero.
func (c *Config) DS(a, b Parcel) Parcel {
	a, b = c.Clone(a), c.Clone(b)
	out := c.Empty()
	out.Volume = a.Volume - b.Volume
	floats.SubTo(out.Values[:c.additive], a.Values[:c.additive], b.Values[:c.additive])
	return out
}

// Compare reports whether every field of a and b differs by at most the
// configured accuracy.
func (c *Config) Compare(a, b Parcel) bool {
	if math.Abs(a.Volume-b.Volume) > c.accuracy {
		return false
	}
	a, b = c.Clone(a), c.Clone(b)
	for i := range a.Values {
		if !scalar.EqualWithinAbs(a.Values[i], b.Values[i], c.accuracy) {
			return false
		}
	}
	return true
}

// Conserved returns the value of a conserved field (see ConservedFields).
func (c *Config) Conserved(p Parcel, field int) float64 {
	if field == 0 {
		return p.Volume
	}
	if field-1 < len(p.Values) {
		return p.Values[field-1]
	}
	return 0
}
