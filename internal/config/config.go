// Package config resolves run configuration from flags, WATERSIM_ environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/internal/observability"
)

// EnvPrefix prefixes every environment variable, with dots in keys
// replaced by underscores: WATERSIM_LOG_LEVEL sets log.level.
const EnvPrefix = "WATERSIM"

var (
	ErrNoScenario = errors.New("no scenario file given")
	ErrBadValue   = errors.New("invalid configuration value")
)

// Run is everything a simulation run needs besides the scenario itself.
type Run struct {
	Scenario         string
	Steps            int
	Start            time.Time
	Tick             time.Duration
	CheckMassBalance bool
	MetricsAddr      string
	Log              logging.Config
	Tracing          observability.TracingConfig
}

type option struct {
	key, usage string
	defaultVal any
}

var options = []option{
	{"config", "path of a config file (json, yaml or toml)", ""},
	{"scenario", "path of the network scenario document", ""},
	{"steps", "number of timesteps to run", 10},
	{"start", "simulation start time (RFC3339 or YYYY-MM-DD)", "2000-01-01"},
	{"tick", "timestep length", "24h"},
	{"check_mass_balance", "check conservation after every step", true},
	{"metrics_addr", "serve Prometheus /metrics on this address; empty disables", ""},
	{"log.level", "log level: debug, info, warn or error", "info"},
	{"log.format", "log format: text or json", "text"},
	{"tracing.enabled", "export OpenTelemetry spans", false},
	{"tracing.exporter", "span exporter: stdout or otlp", "stdout"},
	{"tracing.endpoint", "OTLP gRPC endpoint", ""},
	{"tracing.service_name", "service.name resource attribute", observability.DefaultServiceName},
	{"tracing.sample_ratio", "fraction of non-step root spans traced", 1.0},
	{"tracing.step_interval", "trace every n-th simulation step", 1},
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, o := range options {
		v.SetDefault(o.key, o.defaultVal)
	}
	return v
}

// FlagName is the command-line spelling of a configuration key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// BindFlags defines one flag per configuration key on fs and binds it to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, o := range options {
		name := FlagName(o.key)
		switch d := o.defaultVal.(type) {
		case string:
			fs.String(name, d, o.usage)
		case int:
			fs.Int(name, d, o.usage)
		case bool:
			fs.Bool(name, d, o.usage)
		case float64:
			fs.Float64(name, d, o.usage)
		default:
			return fmt.Errorf("config: option %q has unsupported type %T", o.key, d)
		}
		if err := v.BindPFlag(o.key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("config: bind %q: %w", o.key, err)
		}
	}
	return nil
}

// ReadFile reads the file named by the config key, if any.
func ReadFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: problem reading configuration file: %w", err)
	}
	return nil
}

var startLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseStart(raw any) (time.Time, error) {
	if t, ok := raw.(time.Time); ok {
		return t.UTC(), nil
	}
	s := cast.ToString(raw)
	for _, layout := range startLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: start %q", ErrBadValue, s)
}

// Resolve validates v into a Run.
func Resolve(v *viper.Viper) (Run, error) {
	r := Run{
		Scenario:         v.GetString("scenario"),
		CheckMassBalance: v.GetBool("check_mass_balance"),
		MetricsAddr:      v.GetString("metrics_addr"),
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Tracing: observability.TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			Exporter:    strings.ToLower(v.GetString("tracing.exporter")),
			Endpoint:    v.GetString("tracing.endpoint"),
			ServiceName: v.GetString("tracing.service_name"),
		},
	}
	if r.Scenario == "" {
		return Run{}, ErrNoScenario
	}

	steps, err := cast.ToIntE(v.Get("steps"))
	if err != nil || steps < 0 {
		return Run{}, fmt.Errorf("%w: steps %v", ErrBadValue, v.Get("steps"))
	}
	r.Steps = steps

	if r.Start, err = parseStart(v.Get("start")); err != nil {
		return Run{}, err
	}

	tick, err := cast.ToDurationE(v.Get("tick"))
	if err != nil || tick <= 0 {
		return Run{}, fmt.Errorf("%w: tick %v", ErrBadValue, v.Get("tick"))
	}
	r.Tick = tick

	ratio, err := cast.ToFloat64E(v.Get("tracing.sample_ratio"))
	if err != nil || ratio < 0 || ratio > 1 {
		return Run{}, fmt.Errorf("%w: tracing.sample_ratio %v", ErrBadValue, v.Get("tracing.sample_ratio"))
	}
	r.Tracing.SampleRatio = ratio

	interval, err := cast.ToIntE(v.Get("tracing.step_interval"))
	if err != nil || interval < 1 {
		return Run{}, fmt.Errorf("%w: tracing.step_interval %v", ErrBadValue, v.Get("tracing.step_interval"))
	}
	r.Tracing.StepInterval = interval
	r.Tracing.Scenario = r.Scenario

	switch r.Log.Format {
	case "text", "json":
	default:
		return Run{}, fmt.Errorf("%w: log.format %q", ErrBadValue, r.Log.Format)
	}
	return r, nil
}
