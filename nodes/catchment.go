package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/kb"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// FlowVariable is the forcing variable a catchment reads its runoff from.
const FlowVariable = "flow"

// Catchment generates runoff from forcing data and routes it downstream in
// the catchment phase. Runoff is a ledger income; water no link accepts
// leaves the system as an explicit outflow and is logged.
//
// Additive constituents are read as concentrations and converted to mass
// through the flow. Non-additive constituents are read as-is. A constituent
// with no forcing data is zero; missing flow is an error.
type Catchment struct {
	*core.Node
	generated model.Parcel
	unrouted  model.Parcel
}

// NewCatchment builds a catchment. Forcing data must be attached with
// SetInputs before the first step.
func NewCatchment(cfg *model.Config, name string) (*Catchment, error) {
	n, err := core.NewNode(cfg, name, core.CategoryCatchment)
	if err != nil {
		return nil, err
	}
	c := &Catchment{Node: n, generated: cfg.Empty(), unrouted: cfg.Empty()}
	n.Ledger().AddIncome(func() model.Parcel { return cfg.Clone(c.generated) })
	n.Ledger().AddOutflow(func() model.Parcel { return cfg.Clone(c.unrouted) })
	return c, nil
}

// Generated is this step's runoff.
func (c *Catchment) Generated() model.Parcel { return c.Config().Clone(c.generated) }

// Unrouted is the runoff no downstream link accepted this step.
func (c *Catchment) Unrouted() model.Parcel { return c.Config().Clone(c.unrouted) }

func (c *Catchment) runoff() (model.Parcel, error) {
	cfg := c.Config()
	flow, err := c.DataInput(FlowVariable)
	if err != nil {
		return model.Parcel{}, fmt.Errorf("catchment %q: %w", c.Name(), err)
	}
	if flow <= 0 {
		return cfg.Empty(), nil
	}

	conc := model.Concentration{Volume: flow, Values: make([]float64, cfg.Len())}
	for i, name := range cfg.Names() {
		v, err := c.DataInput(name)
		switch {
		case errors.Is(err, kb.ErrDataInputNotFound):
			continue
		case err != nil:
			return model.Parcel{}, fmt.Errorf("catchment %q: %w", c.Name(), err)
		}
		conc.Values[i] = v
	}
	return cfg.ToTotal(conc), nil
}

// HandlePhase generates and routes runoff in the catchment phase.
func (c *Catchment) HandlePhase(ctx context.Context, phase core.Phase) error {
	if phase != core.PhaseCatchmentRouting {
		return nil
	}
	v, err := c.runoff()
	if err != nil {
		return err
	}
	cfg := c.Config()
	c.generated = cfg.Sum(c.generated, v)
	if v.Volume < cfg.Accuracy() {
		return nil
	}

	rest := c.PushDistributed(v, nil, core.DefaultTag)
	c.unrouted = cfg.Sum(c.unrouted, rest)
	if rest.Volume > cfg.Accuracy() {
		c.Logger().Warn(ctx, "runoff could not be routed",
			logging.Float("volume", rest.Volume),
			logging.Time("sim_time", c.Time()),
		)
	}
	return nil
}

func (c *Catchment) EndTimestep() {
	c.generated = c.Config().Empty()
	c.unrouted = c.Config().Empty()
}

func (c *Catchment) Reinit() { c.EndTimestep() }
