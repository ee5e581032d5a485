package core

import (
	"context"
	"fmt"
)

// Node categories known to the scheduler.
const (
	CategoryTreatmentIntake = "fwtw"
	CategoryDemand          = "demand"
	CategoryLand            = "land"
	CategoryGroundwater     = "groundwater"
	CategorySewer           = "sewer"
	CategoryFoul            = "foul"
	CategoryTreatment       = "wwtw"
	CategoryRiver           = "river"
	CategoryReservoir       = "reservoir"
	CategoryCatchment       = "catchment"
	CategoryStorage         = "storage"
	CategoryWaste           = "waste"
	CategoryJunction        = "junction"
)

// Phase is one stage of a simulation step.
type Phase int

const (
	PhaseTreatmentIntake Phase = iota
	PhaseDemand
	PhaseLandRunoff
	PhaseGroundwaterInfiltration
	PhaseSewerDischarge
	PhaseFoulDischarge
	PhaseTreatmentDischarge
	PhaseGroundwaterDistribution
	PhaseRiverDischarge
	PhaseReservoirAbstraction
	PhaseLandIrrigation
	PhaseTreatmentDischargeSecond
	PhaseCatchmentRouting
	PhaseDistribution
)

var phaseOrder = []Phase{
	PhaseTreatmentIntake,
	PhaseDemand,
	PhaseLandRunoff,
	PhaseGroundwaterInfiltration,
	PhaseSewerDischarge,
	PhaseFoulDischarge,
	PhaseTreatmentDischarge,
	PhaseGroundwaterDistribution,
	PhaseRiverDischarge,
	PhaseReservoirAbstraction,
	PhaseLandIrrigation,
	PhaseTreatmentDischargeSecond,
	PhaseCatchmentRouting,
	PhaseDistribution,
}

var phaseInfo = map[Phase]struct {
	name     string
	category string
}{
	PhaseTreatmentIntake:          {"treatment_intake", CategoryTreatmentIntake},
	PhaseDemand:                   {"demand", CategoryDemand},
	PhaseLandRunoff:               {"land_runoff", CategoryLand},
	PhaseGroundwaterInfiltration:  {"groundwater_infiltration", CategoryGroundwater},
	PhaseSewerDischarge:           {"sewer_discharge", CategorySewer},
	PhaseFoulDischarge:            {"foul_discharge", CategoryFoul},
	PhaseTreatmentDischarge:       {"treatment_discharge", CategoryTreatment},
	PhaseGroundwaterDistribution:  {"groundwater_distribution", CategoryGroundwater},
	PhaseRiverDischarge:           {"river_discharge", CategoryRiver},
	PhaseReservoirAbstraction:     {"reservoir_abstraction", CategoryReservoir},
	PhaseLandIrrigation:           {"land_irrigation", CategoryLand},
	PhaseTreatmentDischargeSecond: {"treatment_discharge_second", CategoryTreatment},
	PhaseCatchmentRouting:         {"catchment_routing", CategoryCatchment},
	PhaseDistribution:             {"distribution", ""},
}

// distributionCategories are the categories visited, in discharge order,
// during PhaseDistribution.
var distributionCategories = map[string]bool{
	CategoryRiver:   true,
	CategoryStorage: true,
}

// PhaseOrder returns the fixed phase sequence of a step.
func PhaseOrder() []Phase { return append([]Phase(nil), phaseOrder...) }

func (p Phase) String() string {
	if info, ok := phaseInfo[p]; ok {
		return info.name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Category is the node category acting in p. PhaseDistribution has none; it
// follows the discharge order instead.
func (p Phase) Category() string { return phaseInfo[p].category }

// Hook runs around a node's phase action.
type Hook func(ctx context.Context, node NetworkNode, phase Phase) error

// Hooks are the ordered extension points of a node. Before hooks run ahead of
// the node's own action and After hooks follow it, each in insertion order.
type Hooks struct {
	before []Hook
	after  []Hook
}

// AddBefore appends a hook run before every phase action.
func (h *Hooks) AddBefore(fn Hook) {
	if fn != nil {
		h.before = append(h.before, fn)
	}
}

// AddAfter appends a hook run after every phase action.
func (h *Hooks) AddAfter(fn Hook) {
	if fn != nil {
		h.after = append(h.after, fn)
	}
}

// HookProvider is implemented by nodes that expose hooks to the scheduler.
type HookProvider interface {
	PhaseHooks() *Hooks
}

// runNodePhase executes node's action for phase wrapped in its hooks.
func runNodePhase(ctx context.Context, node NetworkNode, phase Phase) error {
	var hooks *Hooks
	if hp, ok := node.(HookProvider); ok {
		hooks = hp.PhaseHooks()
	}
	if hooks != nil {
		for _, fn := range hooks.before {
			if err := fn(ctx, node, phase); err != nil {
				return fmt.Errorf("node %q before %s: %w", node.Name(), phase, err)
			}
		}
	}
	if ph, ok := node.(PhaseHandler); ok {
		if err := ph.HandlePhase(ctx, phase); err != nil {
			return fmt.Errorf("node %q %s: %w", node.Name(), phase, err)
		}
	}
	if hooks != nil {
		for _, fn := range hooks.after {
			if err := fn(ctx, node, phase); err != nil {
				return fmt.Errorf("node %q after %s: %w", node.Name(), phase, err)
			}
		}
	}
	return nil
}
