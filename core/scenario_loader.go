package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/kb"
	"github.com/signalsfoundry/watershed-simulator/model"
)

var ErrScenarioBadInput = errors.New("invalid scenario")

// NetworkScenario is a summary of what was loaded, plus the run-wide
// objects built along the way.
type NetworkScenario struct {
	Config     *model.Config
	Inputs     *kb.KnowledgeBase
	NodeNames  []string
	LinkNames  []string
	DataInputs string
	// Residual holds override keys no entity consumed, by entity name.
	Residual map[string]map[string]any
}

// LoadOptions controls LoadNetworkScenario.
type LoadOptions struct {
	// Format is json, yaml or toml. Empty means json.
	Format   string
	Registry *Registry
	Logger   logging.Logger
	// BaseDir resolves a relative data_inputs path.
	BaseDir string
	// Inputs receives forcing data; a fresh store is created when nil.
	Inputs *kb.KnowledgeBase
}

// Overrider is implemented by entities that accept loosely typed parameter
// overrides. Keys they do not know come back in the residual map.
type Overrider interface {
	ApplyOverrides(overrides map[string]any) (map[string]any, error)
}

// Scenario document shapes shared by the json, yaml and toml decoders.
type scenarioDoc struct {
	Constituents *constituentsDoc          `json:"constituents" yaml:"constituents" toml:"constituents"`
	Nodes        []nodeDoc                 `json:"nodes" yaml:"nodes" toml:"nodes"`
	Arcs         []arcDoc                  `json:"arcs" yaml:"arcs" toml:"arcs"`
	DataInputs   any                       `json:"data_inputs" yaml:"data_inputs" toml:"data_inputs"`
	Overrides    map[string]map[string]any `json:"overrides" yaml:"overrides" toml:"overrides"`
}

type constituentsDoc struct {
	Additive    []string `json:"additive" yaml:"additive" toml:"additive"`
	NonAdditive []string `json:"non_additive" yaml:"non_additive" toml:"non_additive"`
	Accuracy    float64  `json:"accuracy" yaml:"accuracy" toml:"accuracy"`
}

type nodeDoc struct {
	Name   string         `json:"name" yaml:"name" toml:"name"`
	Type   string         `json:"type" yaml:"type" toml:"type"`
	Params map[string]any `json:"params" yaml:"params" toml:"params"`
}

type arcDoc struct {
	Name       string         `json:"name" yaml:"name" toml:"name"`
	Type       string         `json:"type" yaml:"type" toml:"type"`
	In         string         `json:"in_port" yaml:"in_port" toml:"in_port"`
	Out        string         `json:"out_port" yaml:"out_port" toml:"out_port"`
	Capacity   *float64       `json:"capacity" yaml:"capacity" toml:"capacity"`
	Preference *float64       `json:"preference" yaml:"preference" toml:"preference"`
	Params     map[string]any `json:"params" yaml:"params" toml:"params"`
}

func decodeScenario(r io.Reader, format string) (*scenarioDoc, error) {
	var doc scenarioDoc
	switch strings.ToLower(format) {
	case "", "json":
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, err
		}
	case "toml":
		if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrScenarioBadInput, format)
	}
	return &doc, nil
}

// LoadNetworkScenario reads a scenario document from r, builds its nodes and
// links through the registry into net, loads forcing data and applies
// overrides.
//
// Structural problems (bad document, unknown types, dangling ports, a
// non-string data_inputs) are errors. Unknown override keys are not; they are
// returned in the summary's Residual map and logged.
func LoadNetworkScenario(net *KnowledgeBase, r io.Reader, opts LoadOptions) (*NetworkScenario, error) {
	if net == nil {
		return nil, fmt.Errorf("LoadNetworkScenario: kb is nil")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("LoadNetworkScenario: registry is nil")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}

	doc, err := decodeScenario(r, opts.Format)
	if err != nil {
		return nil, fmt.Errorf("LoadNetworkScenario: decode failed: %w", err)
	}

	cfg, err := configFromDoc(doc.Constituents)
	if err != nil {
		return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
	}

	inputs := opts.Inputs
	if inputs == nil {
		inputs = kb.NewKnowledgeBase()
	}
	result := &NetworkScenario{
		Config:    cfg,
		Inputs:    inputs,
		NodeNames: make([]string, 0, len(doc.Nodes)),
		LinkNames: make([]string, 0, len(doc.Arcs)),
		Residual:  make(map[string]map[string]any),
	}

	// 1) Forcing data
	if doc.DataInputs != nil {
		path, ok := doc.DataInputs.(string)
		if !ok {
			return nil, fmt.Errorf("LoadNetworkScenario: %w: data_inputs must be a path, got %T", ErrScenarioBadInput, doc.DataInputs)
		}
		if !filepath.IsAbs(path) && opts.BaseDir != "" {
			path = filepath.Join(opts.BaseDir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: data_inputs: %w", err)
		}
		rows, err := inputs.LoadCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: data_inputs %q: %w", path, err)
		}
		result.DataInputs = path
		log.Info(context.Background(), "loaded data inputs", logging.String("path", path), logging.Int("rows", rows))
	}

	env := BuildEnv{Config: cfg, Inputs: inputs, Logger: log}

	// 2) Nodes
	for _, nd := range doc.Nodes {
		if nd.Name == "" {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", ErrEmptyNodeName)
		}
		n, err := opts.Registry.BuildNode(env, NodeSpec{Name: nd.Name, Type: nd.Type, Params: nd.Params})
		if err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
		}
		if err := net.AddNode(n); err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
		}
		result.NodeNames = append(result.NodeNames, nd.Name)
	}

	// 3) Links
	for _, ad := range doc.Arcs {
		if ad.Name == "" {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", ErrEmptyLinkName)
		}
		in, out := net.GetNode(ad.In), net.GetNode(ad.Out)
		if in == nil || out == nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w: link %q %q -> %q", ErrEndpointMiss, ad.Name, ad.In, ad.Out)
		}
		l, err := opts.Registry.BuildLink(env, LinkSpec{
			Name:       ad.Name,
			Type:       ad.Type,
			In:         ad.In,
			Out:        ad.Out,
			Capacity:   ad.Capacity,
			Preference: ad.Preference,
			Params:     ad.Params,
		}, in, out)
		if err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
		}
		if err := net.AddLink(l); err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
		}
		result.LinkNames = append(result.LinkNames, ad.Name)
	}

	// 4) Overrides
	for entity, values := range doc.Overrides {
		residual, err := applyOverrides(net, entity, values)
		if err != nil {
			return nil, fmt.Errorf("LoadNetworkScenario: %w", err)
		}
		if len(residual) == 0 {
			continue
		}
		result.Residual[entity] = residual
		keys := make([]string, 0, len(residual))
		for k := range residual {
			keys = append(keys, k)
		}
		log.Warn(context.Background(), "unused overrides",
			logging.String("entity", entity),
			logging.Any("keys", keys),
		)
	}

	return result, nil
}

func applyOverrides(net *KnowledgeBase, entity string, values map[string]any) (map[string]any, error) {
	var target any
	if n := net.GetNode(entity); n != nil {
		target = n
	} else if l := net.GetLink(entity); l != nil {
		target = l
	} else {
		return values, nil
	}
	o, ok := target.(Overrider)
	if !ok {
		return values, nil
	}
	return o.ApplyOverrides(values)
}

func configFromDoc(doc *constituentsDoc) (*model.Config, error) {
	if doc == nil {
		return model.DefaultConfig(), nil
	}
	var opts []model.ConfigOption
	if doc.Accuracy > 0 {
		opts = append(opts, model.WithAccuracy(doc.Accuracy))
	}
	return model.NewConfig(doc.Additive, doc.NonAdditive, opts...)
}

// FormatFromPath picks a document format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// LoadScenarioFile loads a scenario from disk, choosing the format from the
// extension and resolving data_inputs against the file's directory.
func LoadScenarioFile(net *KnowledgeBase, path string, opts LoadOptions) (*NetworkScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: %w", err)
	}
	if opts.Format == "" {
		opts.Format = FormatFromPath(path)
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Dir(path)
	}
	return LoadNetworkScenario(net, bytes.NewReader(data), opts)
}
