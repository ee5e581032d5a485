package core

import (
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// ArcOption customises a link at construction time. Options that do not
// apply to a link type are ignored.
type ArcOption func(*arcSettings)

type arcSettings struct {
	capacity   float64
	preference float64
	backflow   bool
	source     DataSource
}

func defaultArcSettings() arcSettings {
	return arcSettings{
		capacity:   model.UnboundedCapacity,
		preference: 1,
		backflow:   true,
	}
}

// WithCapacity sets the per-step volume ceiling.
func WithCapacity(c float64) ArcOption {
	return func(s *arcSettings) { s.capacity = c }
}

// WithPreference sets the routing weight used by distributing nodes.
func WithPreference(p float64) ArcOption {
	return func(s *arcSettings) { s.preference = p }
}

// WithBackflow controls whether undelivered queue entries go back to the
// sender (true) or stay queued until accepted (false).
func WithBackflow(enabled bool) ArcOption {
	return func(s *arcSettings) { s.backflow = enabled }
}

// WithDecaySource overrides where a decaying link reads temperature. The
// default is its in port.
func WithDecaySource(src DataSource) ArcOption {
	return func(s *arcSettings) { s.source = src }
}

// Arc is an instantaneous link with a per-step capacity.
type Arc struct {
	cfg        *model.Config
	name       string
	capacity   float64
	preference float64
	in         Port
	out        Port

	flowIn  float64
	flowOut float64
	vqipIn  model.Parcel
	vqipOut model.Parcel
}

// NewArc builds an arc and registers it with both endpoints.
func NewArc(cfg *model.Config, name string, in, out Port, opts ...ArcOption) (*Arc, error) {
	s := defaultArcSettings()
	for _, opt := range opts {
		opt(&s)
	}
	a, err := newArc(cfg, name, in, out, s)
	if err != nil {
		return nil, err
	}
	attach(a)
	return a, nil
}

func newArc(cfg *model.Config, name string, in, out Port, s arcSettings) (*Arc, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%w: nil constituent config", ErrLinkBadInput)
	case name == "":
		return nil, fmt.Errorf("%w", ErrEmptyLinkName)
	case in == nil || out == nil:
		return nil, fmt.Errorf("%w: %q has a nil endpoint", ErrLinkBadInput, name)
	case s.capacity < 0 || math.IsNaN(s.capacity):
		return nil, fmt.Errorf("%w: %q capacity %v", ErrLinkBadInput, name, s.capacity)
	}
	return &Arc{
		cfg:        cfg,
		name:       name,
		capacity:   s.capacity,
		preference: s.preference,
		in:         in,
		out:        out,
		vqipIn:     cfg.Empty(),
		vqipOut:    cfg.Empty(),
	}, nil
}

func (a *Arc) Name() string         { return a.name }
func (a *Arc) Preference() float64  { return a.preference }
func (a *Arc) Capacity() float64    { return a.capacity }
func (a *Arc) InPort() Port         { return a.in }
func (a *Arc) OutPort() Port        { return a.out }
func (a *Arc) Config() *model.Config { return a.cfg }

// Flows returns copies of the per-step transients.
func (a *Arc) Flows() Flows {
	return Flows{
		FlowIn:  a.flowIn,
		FlowOut: a.flowOut,
		VqipIn:  a.cfg.Clone(a.vqipIn),
		VqipOut: a.cfg.Clone(a.vqipOut),
	}
}

// excess is the counterpart's answer clamped to the capacity left this step
// and rescaled onto the counterpart's composition.
func (a *Arc) excess(push bool, v *model.Parcel, tag string) model.Parcel {
	var node model.Parcel
	if push {
		node = a.out.PushCheck(v, tag)
	} else {
		node = a.in.PullCheck(v, tag)
	}
	vol := math.Max(math.Min(a.capacity-a.flowIn, node.Volume), 0)
	return a.cfg.VChange(node, vol)
}

// SendPushCheck reports how much could be pushed through the arc now.
func (a *Arc) SendPushCheck(v *model.Parcel, tag string) model.Parcel {
	return a.excess(true, v, tag)
}

// SendPullCheck reports how much could be pulled through the arc now.
func (a *Arc) SendPullCheck(v *model.Parcel, tag string) model.Parcel {
	return a.excess(false, v, tag)
}

// SendPushRequest pushes v to the out port and returns what was not
// transferred. Unless force is set, v is first clamped to SendPushCheck;
// force skips the arc's capacity but the out port may still reject.
func (a *Arc) SendPushRequest(v model.Parcel, tag string, force bool) model.Parcel {
	v = a.cfg.Clone(v)
	if v.Volume < a.cfg.Accuracy() {
		return a.cfg.Empty()
	}

	notPushed := a.cfg.Empty()
	if !force {
		ex := a.excess(true, &v, tag)
		if np := math.Max(v.Volume-ex.Volume, 0); np > a.cfg.Accuracy() {
			notPushed = a.cfg.VChange(v, np)
			v = a.cfg.Extract(v, notPushed)
		}
	}

	reply := a.out.PushSet(v, tag)
	a.record(a.cfg.Extract(v, reply))
	return a.cfg.Sum(reply, notPushed)
}

// SendPullRequest pulls up to v.Volume from the in port and returns what was
// delivered.
func (a *Arc) SendPullRequest(v model.Parcel, tag string) model.Parcel {
	ex := a.excess(false, &v, tag)
	vol := math.Min(v.Volume, ex.Volume)
	if vol < a.cfg.Accuracy() {
		return a.cfg.Empty()
	}
	got := a.in.PullSet(a.cfg.VChange(ex, vol), tag)
	a.record(got)
	return got
}

func (a *Arc) record(sent model.Parcel) {
	a.flowIn += sent.Volume
	a.flowOut = a.flowIn
	a.vqipIn = a.cfg.Sum(a.vqipIn, sent)
	a.vqipOut = a.vqipIn
}

// EndTimestep zeroes the per-step transients.
func (a *Arc) EndTimestep() {
	a.flowIn, a.flowOut = 0, 0
	a.vqipIn = a.cfg.Empty()
	a.vqipOut = a.cfg.Empty()
}

// Reinit returns the arc to its just-built state.
func (a *Arc) Reinit() { a.EndTimestep() }

// Reconcile reports the arc's balance terms. An instantaneous arc never
// stores water.
func (a *Arc) Reconcile() (in, ds, out model.Parcel) {
	return a.cfg.Clone(a.vqipIn), a.cfg.Empty(), a.cfg.Clone(a.vqipOut)
}

// ApplyOverrides updates capacity and preference from a loosely typed map.
// Keys it does not know are returned untouched.
func (a *Arc) ApplyOverrides(overrides map[string]any) (map[string]any, error) {
	residual := make(map[string]any)
	for key, raw := range overrides {
		switch key {
		case "capacity":
			c, err := cast.ToFloat64E(raw)
			if err != nil || c < 0 {
				return nil, fmt.Errorf("%w: %q capacity %v", ErrOverrideBadValue, a.name, raw)
			}
			a.capacity = c
		case "preference":
			p, err := cast.ToFloat64E(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q preference %v", ErrOverrideBadValue, a.name, raw)
			}
			a.preference = p
		default:
			residual[key] = raw
		}
	}
	return residual, nil
}
