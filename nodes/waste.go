package nodes

import (
	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// Waste is a network outlet. It accepts everything pushed to it and reports
// each step's receipts as outflow, so water leaving the system still
// balances.
type Waste struct {
	*core.Node
	received model.Parcel
	total    model.Parcel
}

// NewWaste builds an outlet.
func NewWaste(cfg *model.Config, name string) (*Waste, error) {
	n, err := core.NewNode(cfg, name, core.CategoryWaste)
	if err != nil {
		return nil, err
	}
	w := &Waste{Node: n, received: cfg.Empty(), total: cfg.Empty()}

	n.SetPushCheckHandler(core.DefaultTag, func(v *model.Parcel) model.Parcel {
		if v == nil {
			return cfg.VChange(cfg.Empty(), model.UnboundedCapacity)
		}
		return cfg.Clone(*v)
	})
	n.SetPushSetHandler(core.DefaultTag, func(v model.Parcel) model.Parcel {
		w.received = cfg.Sum(w.received, v)
		w.total = cfg.Sum(w.total, v)
		return cfg.Empty()
	})
	n.Ledger().AddOutflow(func() model.Parcel { return cfg.Clone(w.received) })
	return w, nil
}

// Received is what arrived this step.
func (w *Waste) Received() model.Parcel { return w.Config().Clone(w.received) }

// Total is everything received since the run started.
func (w *Waste) Total() model.Parcel { return w.Config().Clone(w.total) }

func (w *Waste) EndTimestep() { w.received = w.Config().Empty() }

func (w *Waste) Reinit() {
	w.received = w.Config().Empty()
	w.total = w.Config().Empty()
}
