package nodes

import (
	"context"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// Storage is a bounded store. It accepts pushes up to its capacity, serves
// pulls from what it holds and releases its contents downstream during the
// ordered distribution phase.
type Storage struct {
	*tankNode
}

// NewStorage builds a storage node holding initial.
func NewStorage(cfg *model.Config, name string, capacity float64, initial model.Parcel) (*Storage, error) {
	tn, err := newTankNode(cfg, name, core.CategoryStorage, capacity, initial)
	if err != nil {
		return nil, err
	}
	return &Storage{tankNode: tn}, nil
}

// HandlePhase distributes the stored water in discharge order.
func (s *Storage) HandlePhase(ctx context.Context, phase core.Phase) error {
	if phase == core.PhaseDistribution {
		s.distribute(ctx)
	}
	return nil
}
