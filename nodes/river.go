package nodes

import (
	"context"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// River is an unbounded reach. Water entering it leaves downstream in the
// same step when the distribution phase reaches it, upstream reaches first.
// With decay rates set, constituents held at step end decay against the
// river's temperature forcing.
type River struct {
	*tankNode
}

// NewRiver builds an empty river. A nil rates map disables decay.
func NewRiver(cfg *model.Config, name string, rates map[string]core.DecayRate) (*River, error) {
	tn, err := newTankNode(cfg, name, core.CategoryRiver, model.UnboundedCapacity, cfg.Empty())
	if err != nil {
		return nil, err
	}
	r := &River{tankNode: tn}
	if rates != nil {
		if err := r.setDecay(rates); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// HandlePhase routes the river's contents during distribution. The river
// discharge phase is left to hooks.
func (r *River) HandlePhase(ctx context.Context, phase core.Phase) error {
	if phase == core.PhaseDistribution {
		r.distribute(ctx)
	}
	return nil
}
