package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// DecayRate is the first-order decay law of one constituent. The fraction
// lost per application is Constant·Exponent^(T−20), capped at 1.
type DecayRate struct {
	Constant float64
	Exponent float64
}

// Decay applies temperature-dependent first-order decay and accumulates the
// decayed mass as a ledger sink. Temperature is read once per step through
// Refresh.
type Decay struct {
	cfg    *model.Config
	idx    []int
	rates  []DecayRate
	source DataSource

	temperature float64
	total       model.Parcel
}

// NewDecay validates rates against the additive constituents of cfg.
func NewDecay(cfg *model.Config, rates map[string]DecayRate, source DataSource) (*Decay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil constituent config", ErrDecayBadInput)
	}
	d := &Decay{
		cfg:         cfg,
		source:      source,
		temperature: DecayReferenceTemperature,
		total:       cfg.Empty(),
	}
	// Walk in configured order so application order is deterministic.
	for _, name := range cfg.Additive() {
		r, ok := rates[name]
		if !ok {
			continue
		}
		if r.Constant < 0 || r.Exponent <= 0 {
			return nil, fmt.Errorf("%w: %q constant=%v exponent=%v", ErrDecayBadInput, name, r.Constant, r.Exponent)
		}
		i, _ := cfg.Index(name)
		d.idx = append(d.idx, i)
		d.rates = append(d.rates, r)
	}
	for name := range rates {
		if !cfg.IsAdditive(name) {
			return nil, fmt.Errorf("%w: %q is not an additive constituent", ErrDecayBadInput, name)
		}
	}
	return d, nil
}

// Refresh reads this step's temperature from the data source.
func (d *Decay) Refresh() error {
	if d.source == nil {
		return nil
	}
	t, err := d.source.DataInput("temperature")
	if err != nil {
		return fmt.Errorf("decay temperature: %w", err)
	}
	d.temperature = t
	return nil
}

// SetTemperature fixes the temperature used by subsequent applications.
func (d *Decay) SetTemperature(t float64) { d.temperature = t }

// Temperature returns the cached step temperature.
func (d *Decay) Temperature() float64 { return d.temperature }

// Rate evaluates r at the cached temperature.
func (d *Decay) Rate(r DecayRate) float64 {
	return math.Min(r.Constant*math.Pow(r.Exponent, d.temperature-DecayReferenceTemperature), 1)
}

// Apply decays a total-form parcel and adds the lost mass to Total.
func (d *Decay) Apply(p model.Parcel) model.Parcel {
	out := d.cfg.Clone(p)
	for k, i := range d.idx {
		diff := out.Values[i] * d.Rate(d.rates[k])
		out.Values[i] -= diff
		d.total.Values[i] += diff
	}
	return out
}

// ApplyConcentration decays a concentration-form parcel. The sink is kept in
// total form, so each loss is multiplied back through the volume.
func (d *Decay) ApplyConcentration(c model.Concentration) model.Concentration {
	out := model.Concentration{Volume: c.Volume, Values: append([]float64(nil), c.Values...)}
	for k, i := range d.idx {
		diff := out.Values[i] * d.Rate(d.rates[k])
		out.Values[i] -= diff
		d.total.Values[i] += diff * c.Volume
	}
	return out
}

// Total is the mass decayed since the last Reset.
func (d *Decay) Total() model.Parcel { return d.cfg.Clone(d.total) }

// Reset clears the decayed-mass sink.
func (d *Decay) Reset() { d.total = d.cfg.Empty() }
