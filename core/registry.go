package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"

	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/model"
)

var (
	ErrUnknownType     = errors.New("unknown type")
	ErrFactoryExists   = errors.New("factory already registered")
	ErrFactoryBadInput = errors.New("invalid factory")
)

// BuildEnv is what factories receive besides the spec itself.
type BuildEnv struct {
	Config *model.Config
	Inputs InputStore
	Logger logging.Logger
}

// NodeSpec describes one node to build.
type NodeSpec struct {
	Name   string
	Type   string
	Params map[string]any
}

// LinkSpec describes one link to build between two existing nodes.
type LinkSpec struct {
	Name       string
	Type       string
	In         string
	Out        string
	Capacity   *float64
	Preference *float64
	Params     map[string]any
}

// NodeFactory builds a node from its spec.
type NodeFactory func(env BuildEnv, spec NodeSpec) (NetworkNode, error)

// LinkFactory builds a link between in and out. The factory is responsible
// for registering the link with its endpoints.
type LinkFactory func(env BuildEnv, spec LinkSpec, in, out Port) (NetworkLink, error)

// Registry maps type names to factories. Types are checked when registered
// so a bad name fails at setup rather than while loading a network.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]NodeFactory
	links map[string]LinkFactory
}

// NewRegistry returns a registry preloaded with the built-in link types.
func NewRegistry() *Registry {
	r := &Registry{
		nodes: make(map[string]NodeFactory),
		links: make(map[string]LinkFactory),
	}
	for name, f := range builtinLinks {
		r.links[name] = f
	}
	return r
}

// RegisterNode adds a node factory under typ.
func (r *Registry) RegisterNode(typ string, f NodeFactory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("%w: node type %q", ErrFactoryBadInput, typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[typ]; ok {
		return fmt.Errorf("%w: node type %q", ErrFactoryExists, typ)
	}
	r.nodes[typ] = f
	return nil
}

// RegisterLink adds a link factory under typ.
func (r *Registry) RegisterLink(typ string, f LinkFactory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("%w: link type %q", ErrFactoryBadInput, typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[typ]; ok {
		return fmt.Errorf("%w: link type %q", ErrFactoryExists, typ)
	}
	r.links[typ] = f
	return nil
}

// NodeTypes lists registered node types, sorted.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.nodes)
}

// LinkTypes lists registered link types, sorted.
func (r *Registry) LinkTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.links)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildNode constructs a node with the factory registered for spec.Type.
func (r *Registry) BuildNode(env BuildEnv, spec NodeSpec) (NetworkNode, error) {
	r.mu.RLock()
	f, ok := r.nodes[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: node type %q for %q", ErrUnknownType, spec.Type, spec.Name)
	}
	return f(env, spec)
}

// BuildLink constructs a link with the factory registered for spec.Type.
// An empty type means a plain arc.
func (r *Registry) BuildLink(env BuildEnv, spec LinkSpec, in, out Port) (NetworkLink, error) {
	typ := spec.Type
	if typ == "" {
		typ = "arc"
	}
	r.mu.RLock()
	f, ok := r.links[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: link type %q for %q", ErrUnknownType, typ, spec.Name)
	}
	return f(env, spec, in, out)
}

//
// ---------- Built-in links ----------
//

var builtinLinks = map[string]LinkFactory{
	"arc": func(env BuildEnv, spec LinkSpec, in, out Port) (NetworkLink, error) {
		a, err := NewArc(env.Config, spec.Name, in, out, linkOptions(spec)...)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	"queue_arc":        queueLinkFactory(false, false),
	"bucket_queue_arc": queueLinkFactory(true, false),
	"decay_arc":        queueLinkFactory(false, true),
	"bucket_decay_arc": queueLinkFactory(true, true),
}

func linkOptions(spec LinkSpec) []ArcOption {
	var opts []ArcOption
	if spec.Capacity != nil {
		opts = append(opts, WithCapacity(*spec.Capacity))
	}
	if spec.Preference != nil {
		opts = append(opts, WithPreference(*spec.Preference))
	}
	return opts
}

func queueLinkFactory(bucketed, decays bool) LinkFactory {
	return func(env BuildEnv, spec LinkSpec, in, out Port) (NetworkLink, error) {
		opts := linkOptions(spec)
		timesteps := 0
		if raw, ok := spec.Params["number_of_timesteps"]; ok {
			n, err := cast.ToIntE(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q number_of_timesteps %v", ErrLinkBadInput, spec.Name, raw)
			}
			timesteps = n
		}
		if raw, ok := spec.Params["backflow"]; ok {
			b, err := cast.ToBoolE(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q backflow %v", ErrLinkBadInput, spec.Name, raw)
			}
			opts = append(opts, WithBackflow(b))
		}

		var rates map[string]DecayRate
		if decays {
			rates = map[string]DecayRate{}
			if raw, ok := spec.Params["decays"]; ok {
				var err error
				if rates, err = ParseDecayRates(raw); err != nil {
					return nil, fmt.Errorf("%w: %q decays: %v", ErrLinkBadInput, spec.Name, err)
				}
			}
		}

		// A nil rate map builds a queue without decay.
		qa, err := buildQueueArc(env.Config, spec.Name, in, out, timesteps, bucketed, rates, opts)
		if err != nil {
			return nil, err
		}
		return qa, nil
	}
}
