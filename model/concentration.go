package model

// Concentration is a parcel in concentration form: additive values are per
// unit volume. It is a separate type so it can never be summed with Sum;
// network accumulation always happens in total form.
type Concentration struct {
	Volume float64
	Values []float64
}

func (c *Config) cloneC(p Concentration) Concentration {
	out := Concentration{Volume: p.Volume, Values: make([]float64, len(c.names))}
	copy(out.Values, p.Values)
	return out
}

// ToConcentration divides additive masses by volume. Zero-volume parcels keep
// their (zero) masses.
func (c *Config) ToConcentration(p Parcel) Concentration {
	out := c.cloneC(Concentration(p))
	if p.Volume != 0 {
		for i := 0; i < c.additive; i++ {
			out.Values[i] /= p.Volume
		}
	}
	return out
}

// ToTotal multiplies additive concentrations by volume.
func (c *Config) ToTotal(p Concentration) Parcel {
	out := c.cloneC(p)
	for i := 0; i < c.additive; i++ {
		out.Values[i] *= p.Volume
	}
	return Parcel(out)
}

// Blend mixes two concentration parcels: volumes add and every constituent is
// volume-weighted.
func (c *Config) Blend(a, b Concentration) Concentration {
	out := c.cloneC(a)
	b = c.cloneC(b)
	out.Volume = a.Volume + b.Volume
	if out.Volume > 0 {
		for i := range out.Values {
			out.Values[i] = (out.Values[i]*a.Volume + b.Values[i]*b.Volume) / out.Volume
		}
	}
	return out
}

// ExtractC removes b from a in concentration form. Non-additive values of a
// are kept; additive concentrations are recomputed from the remaining mass.
func (c *Config) ExtractC(a, b Concentration) Concentration {
	out := c.cloneC(a)
	b = c.cloneC(b)
	out.Volume = a.Volume - b.Volume
	if out.Volume > 0 {
		for i := 0; i < c.additive; i++ {
			out.Values[i] = (out.Values[i]*a.Volume - b.Values[i]*b.Volume) / out.Volume
		}
	}
	return out
}

// VChangeC sets the volume; concentrations are unchanged.
func (c *Config) VChangeC(a Concentration, v float64) Concentration {
	out := c.cloneC(a)
	out.Volume = v
	return out
}
