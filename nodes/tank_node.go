// Package nodes holds the reference node types a network is built from:
// storages, rivers, outlets, junctions and catchments. Each one embeds
// *core.Node and installs its own transfer handlers and ledger terms.
package nodes

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// tankNode is the shared base of tank-backed nodes. The tank answers all
// four primitives and its storage change and decay losses are ledger terms.
type tankNode struct {
	*core.Node
	tank *core.Tank
}

func newTankNode(cfg *model.Config, name, category string, capacity float64, initial model.Parcel) (*tankNode, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: %q capacity %v", core.ErrNodeBadInput, name, capacity)
	}
	n, err := core.NewNode(cfg, name, category)
	if err != nil {
		return nil, err
	}
	tn := &tankNode{Node: n, tank: core.NewTank(cfg, capacity, initial)}

	n.SetPushCheckHandler(core.DefaultTag, tn.tank.GetExcess)
	n.SetPushSetHandler(core.DefaultTag, func(v model.Parcel) model.Parcel {
		return tn.tank.PushStorage(v, false)
	})
	n.SetPullCheckHandler(core.DefaultTag, tn.tank.GetAvail)
	n.SetPullSetHandler(core.DefaultTag, tn.tank.PullStorage)

	n.Ledger().AddStorageDelta(tn.tank.DS)
	n.Ledger().AddOutflow(tn.tank.DecayTotal)
	return tn, nil
}

// Tank exposes the node's store.
func (tn *tankNode) Tank() *core.Tank { return tn.tank }

// Storage is the water currently held.
func (tn *tankNode) Storage() model.Parcel { return tn.tank.Storage() }

// setDecay attaches first-order decay read against the node's own
// temperature forcing.
func (tn *tankNode) setDecay(rates map[string]core.DecayRate) error {
	d, err := core.NewDecay(tn.Config(), rates, tn.Node)
	if err != nil {
		return fmt.Errorf("node %q: %w", tn.Name(), err)
	}
	tn.tank.SetDecay(d)
	return nil
}

// PrepareStep reads this step's temperature when the tank decays.
func (tn *tankNode) PrepareStep(context.Context) error {
	d := tn.tank.Decay()
	if d == nil {
		return nil
	}
	if err := d.Refresh(); err != nil {
		return fmt.Errorf("node %q: %w", tn.Name(), err)
	}
	return nil
}

// distribute releases everything stored to the outgoing links and keeps what
// they refuse.
func (tn *tankNode) distribute(ctx context.Context) {
	avail := tn.tank.GetAvail(nil)
	if avail.Volume < tn.Config().Accuracy() {
		return
	}
	out := tn.tank.PullStorage(avail)
	rest := tn.PushDistributed(out, nil, core.DefaultTag)
	if rest.Volume > 0 {
		tn.tank.PushStorage(rest, true)
	}
	tn.Logger().Debug(ctx, "distributed storage",
		logging.Float("released", out.Volume-rest.Volume),
		logging.Float("retained", rest.Volume),
	)
}

func (tn *tankNode) EndTimestep() { tn.tank.EndTimestep() }
func (tn *tankNode) Reinit()      { tn.tank.Reinit() }

// ApplyOverrides handles capacity and decays. Other keys are returned.
func (tn *tankNode) ApplyOverrides(overrides map[string]any) (map[string]any, error) {
	residual := make(map[string]any)
	for key, raw := range overrides {
		switch key {
		case "capacity":
			c, err := cast.ToFloat64E(raw)
			if err != nil || c < 0 {
				return nil, fmt.Errorf("%w: %q capacity %v", core.ErrOverrideBadValue, tn.Name(), raw)
			}
			tn.tank.SetCapacity(c)
		case "decays":
			rates, err := core.ParseDecayRates(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q decays: %v", core.ErrOverrideBadValue, tn.Name(), err)
			}
			if err := tn.setDecay(rates); err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrOverrideBadValue, err)
			}
		default:
			residual[key] = raw
		}
	}
	return residual, nil
}
