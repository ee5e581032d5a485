package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/watershed-simulator/core"
	"github.com/signalsfoundry/watershed-simulator/internal/logging"
)

// DefaultServiceName is the service.name resource attribute when none is set.
const DefaultServiceName = "watershed-simulator"

// ScenarioKey is the resource attribute naming the scenario a run loaded.
const ScenarioKey = attribute.Key("watershed.scenario")

// TracingConfig governs how simulator tracing is initialised. The config
// package fills it from flags, environment and file.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	// Scenario is recorded on the resource; only its base name is kept.
	Scenario string
	// SampleRatio applies to root spans that are not engine steps.
	SampleRatio float64
	// StepInterval traces every n-th step, starting with step 0. Values
	// below 1 trace every step.
	StepInterval int
	// Writer receives stdout exporter output; os.Stdout when nil.
	Writer io.Writer
}

// stepSampler keeps one step in every `every`, reading the index the engine
// attaches to its Step span. Other root spans go to fallback.
type stepSampler struct {
	every    int64
	fallback sdktrace.Sampler
}

func (s stepSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key != core.StepKey {
			continue
		}
		res := sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
		if kv.Value.AsInt64()%s.every == 0 {
			res.Decision = sdktrace.RecordAndSample
		}
		return res
	}
	return s.fallback.ShouldSample(p)
}

func (s stepSampler) Description() string {
	return fmt.Sprintf("EveryNthStep{%d,%s}", s.every, s.fallback.Description())
}

// newSampler builds the run's sampler. Phase spans follow their step.
func newSampler(cfg TracingConfig) sdktrace.Sampler {
	every := int64(cfg.StepInterval)
	if every < 1 {
		every = 1
	}
	return sdktrace.ParentBased(stepSampler{
		every:    every,
		fallback: sdktrace.TraceIDRatioBased(cfg.SampleRatio),
	})
}

// InitTracing installs the global tracer provider and propagators for a run
// and returns the function that flushes them.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "watershed"),
	}
	if cfg.Scenario != "" {
		attrs = append(attrs, ScenarioKey.String(filepath.Base(cfg.Scenario)))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := newSampler(cfg)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", service),
		logging.String("sampler", sampler.Description()),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans, giving up after five seconds. Failures
// are logged, not returned: a run's result never depends on its traces.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
