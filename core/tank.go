package core

import (
	"math"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// Tank is a bounded store of water. It keeps the previous step's storage so
// nodes can report their storage change.
type Tank struct {
	cfg      *model.Config
	capacity float64
	storage  model.Parcel
	prev     model.Parcel
	decay    *Decay
}

// NewTank builds a tank holding initial.
func NewTank(cfg *model.Config, capacity float64, initial model.Parcel) *Tank {
	initial = cfg.Clone(initial)
	return &Tank{
		cfg:      cfg,
		capacity: capacity,
		storage:  initial,
		prev:     cfg.Clone(initial),
	}
}

// SetDecay attaches a decay capability applied once at every step end.
func (t *Tank) SetDecay(d *Decay) { t.decay = d }

// Decay returns the attached decay capability, or nil.
func (t *Tank) Decay() *Decay { return t.decay }

func (t *Tank) Capacity() float64      { return t.capacity }
func (t *Tank) SetCapacity(c float64)  { t.capacity = c }
func (t *Tank) Storage() model.Parcel  { return t.cfg.Clone(t.storage) }
func (t *Tank) Previous() model.Parcel { return t.cfg.Clone(t.prev) }

// GetExcess is the room left, on v's composition when given and the stored
// composition otherwise. A given v also caps the answer.
func (t *Tank) GetExcess(v *model.Parcel) model.Parcel {
	vol := math.Max(t.capacity-t.storage.Volume, 0)
	if v == nil {
		return t.cfg.VChange(t.storage, vol)
	}
	return t.cfg.VChange(*v, math.Min(v.Volume, vol))
}

// GetAvail is the stored water, capped at v's volume when given.
func (t *Tank) GetAvail(v *model.Parcel) model.Parcel {
	if v == nil {
		return t.cfg.Clone(t.storage)
	}
	return t.cfg.VChange(t.storage, math.Min(t.storage.Volume, v.Volume))
}

// PushStorage adds v and returns what did not fit. force ignores capacity.
func (t *Tank) PushStorage(v model.Parcel, force bool) model.Parcel {
	if force {
		t.storage = t.cfg.Sum(t.storage, v)
		return t.cfg.Empty()
	}
	accepted := math.Min(v.Volume, math.Max(t.capacity-t.storage.Volume, 0))
	in := t.cfg.VChange(v, accepted)
	t.storage = t.cfg.Sum(t.storage, in)
	return t.cfg.Extract(v, in)
}

// PullStorage removes up to v.Volume on the stored composition and returns it.
func (t *Tank) PullStorage(v model.Parcel) model.Parcel {
	if t.storage.Volume <= 0 {
		return t.cfg.Empty()
	}
	out := t.cfg.VChange(t.storage, math.Max(math.Min(v.Volume, t.storage.Volume), 0))
	t.storage = t.cfg.Extract(t.storage, out)
	return out
}

// DS is the storage change since the last step ended.
func (t *Tank) DS() model.Parcel { return t.cfg.DS(t.storage, t.prev) }

// DecayTotal is the mass lost to decay at the last step end.
func (t *Tank) DecayTotal() model.Parcel {
	if t.decay == nil {
		return t.cfg.Empty()
	}
	return t.decay.Total()
}

// EndTimestep records the baseline for the next step, then decays the
// contents.
func (t *Tank) EndTimestep() {
	t.prev = t.cfg.Clone(t.storage)
	if t.decay != nil {
		t.decay.Reset()
		t.storage = t.decay.Apply(t.storage)
	}
}

// Reinit empties the tank.
func (t *Tank) Reinit() {
	t.storage = t.cfg.Empty()
	t.prev = t.cfg.Empty()
	if t.decay != nil {
		t.decay.Reset()
	}
}
