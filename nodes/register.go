package nodes

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// Type names used in scenario documents.
const (
	TypeStorage   = "storage"
	TypeRiver     = "river"
	TypeWaste     = "waste"
	TypeJunction  = "junction"
	TypeCatchment = "catchment"
)

// Register adds the reference node types to reg.
func Register(reg *core.Registry) error {
	for _, f := range []struct {
		typ     string
		factory core.NodeFactory
	}{
		{TypeStorage, buildStorage},
		{TypeRiver, buildRiver},
		{TypeWaste, buildWaste},
		{TypeJunction, buildJunction},
		{TypeCatchment, buildCatchment},
	} {
		if err := reg.RegisterNode(f.typ, f.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry is a core registry with the reference node types added.
func NewRegistry() (*core.Registry, error) {
	reg := core.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func wire(env core.BuildEnv, n *core.Node) {
	n.SetInputs(env.Inputs)
	n.SetLogger(env.Logger)
}

func floatParam(spec core.NodeSpec, key string, def float64) (float64, error) {
	raw, ok := spec.Params[key]
	if !ok {
		return def, nil
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q %s %v", core.ErrNodeBadInput, spec.Name, key, raw)
	}
	return v, nil
}

func decayParam(spec core.NodeSpec) (map[string]core.DecayRate, error) {
	raw, ok := spec.Params["decays"]
	if !ok {
		return nil, nil
	}
	rates, err := core.ParseDecayRates(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q decays: %v", core.ErrNodeBadInput, spec.Name, err)
	}
	return rates, nil
}

func buildStorage(env core.BuildEnv, spec core.NodeSpec) (core.NetworkNode, error) {
	capacity, err := floatParam(spec, "capacity", model.UnboundedCapacity)
	if err != nil {
		return nil, err
	}
	initial, err := floatParam(spec, "initial_storage", 0)
	if err != nil {
		return nil, err
	}
	s, err := NewStorage(env.Config, spec.Name, capacity, env.Config.VChange(env.Config.Empty(), initial))
	if err != nil {
		return nil, err
	}
	wire(env, s.Node)
	rates, err := decayParam(spec)
	if err != nil {
		return nil, err
	}
	if rates != nil {
		if err := s.setDecay(rates); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildRiver(env core.BuildEnv, spec core.NodeSpec) (core.NetworkNode, error) {
	rates, err := decayParam(spec)
	if err != nil {
		return nil, err
	}
	r, err := NewRiver(env.Config, spec.Name, rates)
	if err != nil {
		return nil, err
	}
	wire(env, r.Node)
	return r, nil
}

func buildWaste(env core.BuildEnv, spec core.NodeSpec) (core.NetworkNode, error) {
	w, err := NewWaste(env.Config, spec.Name)
	if err != nil {
		return nil, err
	}
	wire(env, w.Node)
	return w, nil
}

func buildJunction(env core.BuildEnv, spec core.NodeSpec) (core.NetworkNode, error) {
	j, err := NewJunction(env.Config, spec.Name)
	if err != nil {
		return nil, err
	}
	wire(env, j.Node)
	return j, nil
}

func buildCatchment(env core.BuildEnv, spec core.NodeSpec) (core.NetworkNode, error) {
	c, err := NewCatchment(env.Config, spec.Name)
	if err != nil {
		return nil, err
	}
	wire(env, c.Node)
	return c, nil
}
