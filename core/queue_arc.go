package core

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// QueueArc is an arc whose transfers take a number of steps to arrive. It is
// composed of a plain Arc for capacity and transients, a transit queue, and
// an optional decay capability applied to parcels in transit.
type QueueArc struct {
	*Arc

	queue     transitQueue
	bucketed  bool
	timesteps int
	backflow  bool
	decay     *Decay
	baseline  model.Parcel
}

// NewQueueArc builds a queue arc that tracks every request individually.
func NewQueueArc(cfg *model.Config, name string, in, out Port, timesteps int, opts ...ArcOption) (*QueueArc, error) {
	return buildQueueArc(cfg, name, in, out, timesteps, false, nil, opts)
}

// NewBucketQueueArc builds a push-only queue arc that sums entries by travel
// time.
func NewBucketQueueArc(cfg *model.Config, name string, in, out Port, timesteps int, opts ...ArcOption) (*QueueArc, error) {
	return buildQueueArc(cfg, name, in, out, timesteps, true, nil, opts)
}

// NewDecayArc builds a queue arc that decays parcels on entry and once per
// step in transit. Temperature is read from the in port unless
// WithDecaySource is given.
func NewDecayArc(cfg *model.Config, name string, in, out Port, timesteps int, rates map[string]DecayRate, opts ...ArcOption) (*QueueArc, error) {
	if rates == nil {
		rates = map[string]DecayRate{}
	}
	return buildQueueArc(cfg, name, in, out, timesteps, false, rates, opts)
}

// NewBucketDecayArc is NewDecayArc over a bucketed queue.
func NewBucketDecayArc(cfg *model.Config, name string, in, out Port, timesteps int, rates map[string]DecayRate, opts ...ArcOption) (*QueueArc, error) {
	if rates == nil {
		rates = map[string]DecayRate{}
	}
	return buildQueueArc(cfg, name, in, out, timesteps, true, rates, opts)
}

func buildQueueArc(cfg *model.Config, name string, in, out Port, timesteps int, bucketed bool, rates map[string]DecayRate, opts []ArcOption) (*QueueArc, error) {
	s := defaultArcSettings()
	for _, opt := range opts {
		opt(&s)
	}
	base, err := newArc(cfg, name, in, out, s)
	if err != nil {
		return nil, err
	}
	if timesteps < 0 {
		return nil, fmt.Errorf("%w: %q number_of_timesteps %d", ErrLinkBadInput, name, timesteps)
	}

	qa := &QueueArc{
		Arc:       base,
		bucketed:  bucketed,
		timesteps: timesteps,
		backflow:  s.backflow,
		baseline:  cfg.Empty(),
	}
	if bucketed {
		qa.queue = newBucketQueue(cfg)
	} else {
		qa.queue = newEntryQueue(cfg)
	}

	if rates != nil {
		src := s.source
		if src == nil {
			ds, ok := in.(DataSource)
			if !ok {
				return nil, fmt.Errorf("%w: %q in port %q cannot supply temperature", ErrLinkBadInput, name, in.Name())
			}
			src = ds
		}
		qa.decay, err = NewDecay(cfg, rates, src)
		if err != nil {
			return nil, fmt.Errorf("link %q: %w", name, err)
		}
	}

	attach(qa)
	return qa, nil
}

// Timesteps is the default travel time of a new entry.
func (q *QueueArc) Timesteps() int { return q.timesteps }

// Backflow reports the refusal policy.
func (q *QueueArc) Backflow() bool { return q.backflow }

// Decay returns the decay capability, or nil.
func (q *QueueArc) Decay() *Decay { return q.decay }

// Queue returns a copy of the parcels in transit.
func (q *QueueArc) Queue() []QueueEntry { return q.queue.snapshot() }

// QueueTotal sums every parcel in transit.
func (q *QueueArc) QueueTotal() model.Parcel { return q.queue.total() }

// PrepareStep refreshes the decay temperature for the coming step.
func (q *QueueArc) PrepareStep(context.Context) error {
	if q.decay == nil {
		return nil
	}
	if err := q.decay.Refresh(); err != nil {
		return fmt.Errorf("link %q: %w", q.name, err)
	}
	return nil
}

func (q *QueueArc) enterQueue(p model.Parcel, dir Direction, tag string) {
	avg := p.Volume / float64(q.timesteps+1)
	q.vqipIn = q.cfg.Sum(q.vqipIn, p)
	q.flowIn += avg
	if q.decay != nil {
		p = q.decay.Apply(p)
	}
	q.queue.enter(QueueEntry{
		Parcel:      p,
		Remaining:   q.timesteps,
		Direction:   dir,
		Tag:         tag,
		AverageFlow: avg,
	})
}

// UpdateQueue releases every ready entry travelling in dir under the arc's
// backflow policy. For push it returns the backflow, for pull the delivered
// parcel.
func (q *QueueArc) UpdateQueue(dir Direction) model.Parcel {
	return q.update(dir, q.backflow)
}

// Flush releases ready push entries and keeps refusals queued for a later
// attempt. It returns what was delivered.
func (q *QueueArc) Flush() model.Parcel {
	res := q.apply(q.queue.release(Push, q.out.PushSet, false))
	return res.delivered
}

func (q *QueueArc) update(dir Direction, backflow bool) model.Parcel {
	res := q.apply(q.queue.release(dir, q.out.PushSet, backflow))
	if dir == Pull {
		return res.delivered
	}
	return res.returned
}

func (q *QueueArc) apply(res releaseResult) releaseResult {
	q.flowOut += res.flowOut
	q.flowIn -= res.revokedFlow
	if res.returned.Volume > 0 {
		q.vqipIn = q.cfg.Extract(q.vqipIn, res.returned)
	}
	q.vqipOut = q.cfg.Sum(q.vqipOut, res.delivered)
	return res
}

// SendPushRequest enters the capacity-clamped part of v into the queue, then
// releases ready push entries. It returns the refused part plus any backflow.
func (q *QueueArc) SendPushRequest(v model.Parcel, tag string, force bool) model.Parcel {
	v = q.cfg.Clone(v)
	if v.Volume < q.cfg.Accuracy() {
		return q.cfg.Empty()
	}
	notPushed := q.cfg.Empty()
	if !force {
		ex := q.excess(true, &v, tag)
		if np := math.Max(v.Volume-ex.Volume, 0); np > 0 {
			notPushed = q.cfg.VChange(v, np)
			v = q.cfg.Extract(v, notPushed)
		}
	}
	if v.Volume >= q.cfg.Accuracy() {
		q.enterQueue(v, Push, tag)
	}
	return q.cfg.Sum(notPushed, q.UpdateQueue(Push))
}

// SendPullRequest removes up to v.Volume from the in port into the queue and
// returns whatever pull entries are ready. Bucketed arcs do not pull.
func (q *QueueArc) SendPullRequest(v model.Parcel, tag string) model.Parcel {
	if q.bucketed {
		return q.cfg.Empty()
	}
	ex := q.excess(false, &v, tag)
	if vol := math.Min(v.Volume, ex.Volume); vol > q.cfg.Accuracy() {
		got := q.in.PullSet(q.cfg.VChange(ex, vol), tag)
		q.enterQueue(got, Pull, tag)
	}
	return q.UpdateQueue(Pull)
}

// SendPullCheck reports what could be pulled; bucketed arcs report nothing.
func (q *QueueArc) SendPullCheck(v *model.Parcel, tag string) model.Parcel {
	if q.bucketed {
		return q.cfg.Empty()
	}
	return q.Arc.SendPullCheck(v, tag)
}

// EndTimestep zeroes transients, records the queue baseline for the next
// step's ledger and advances every entry by one step.
func (q *QueueArc) EndTimestep() {
	q.Arc.EndTimestep()
	q.baseline = q.queue.total()
	var decay func(model.Parcel) model.Parcel
	if q.decay != nil {
		q.decay.Reset()
		decay = q.decay.Apply
	}
	q.queue.tick(decay)
}

// Reinit empties the queue and all transients.
func (q *QueueArc) Reinit() {
	q.Arc.EndTimestep()
	q.queue.clear()
	q.baseline = q.cfg.Empty()
	if q.decay != nil {
		q.decay.Reset()
	}
}

// Reconcile reports the arc's balance terms. Decayed mass is an outflow and
// the storage change is the queue's change since the last step ended.
func (q *QueueArc) Reconcile() (in, ds, out model.Parcel) {
	out = q.cfg.Clone(q.vqipOut)
	if q.decay != nil {
		out = q.cfg.Sum(out, q.decay.Total())
	}
	return q.cfg.Clone(q.vqipIn), q.cfg.DS(q.queue.total(), q.baseline), out
}

// ApplyOverrides handles number_of_timesteps, backflow and decays on top of
// the plain arc keys.
func (q *QueueArc) ApplyOverrides(overrides map[string]any) (map[string]any, error) {
	residual, err := q.Arc.ApplyOverrides(overrides)
	if err != nil {
		return nil, err
	}
	for key, raw := range residual {
		switch key {
		case "number_of_timesteps":
			n, err := cast.ToIntE(raw)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: %q number_of_timesteps %v", ErrOverrideBadValue, q.name, raw)
			}
			q.timesteps = n
		case "backflow":
			b, err := cast.ToBoolE(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q backflow %v", ErrOverrideBadValue, q.name, raw)
			}
			q.backflow = b
		case "decays":
			if q.decay == nil {
				continue
			}
			rates, err := ParseDecayRates(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q decays: %v", ErrOverrideBadValue, q.name, err)
			}
			d, err := NewDecay(q.cfg, rates, q.decay.source)
			if err != nil {
				return nil, fmt.Errorf("%w: %q decays: %v", ErrOverrideBadValue, q.name, err)
			}
			d.temperature = q.decay.temperature
			d.total = q.decay.total
			q.decay = d
		default:
			continue
		}
		delete(residual, key)
	}
	return residual, nil
}

// ParseDecayRates converts a loosely typed {name: {constant, exponent}} map.
func ParseDecayRates(raw any) (map[string]DecayRate, error) {
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]DecayRate, len(m))
	for name, v := range m {
		fields, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
		c, err := cast.ToFloat64E(fields["constant"])
		if err != nil {
			return nil, fmt.Errorf("%q constant: %w", name, err)
		}
		e, err := cast.ToFloat64E(fields["exponent"])
		if err != nil {
			return nil, fmt.Errorf("%q exponent: %w", name, err)
		}
		out[name] = DecayRate{Constant: c, Exponent: e}
	}
	return out, nil
}
