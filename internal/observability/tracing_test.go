package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/watershed-simulator/core"
)

func stdoutTracing(t *testing.T, cfg TracingConfig) (*bytes.Buffer, func()) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Enabled = true
	cfg.Exporter = "stdout"
	cfg.Writer = &buf
	shutdown, err := InitTracing(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	return &buf, func() { ShutdownWithTimeout(context.Background(), shutdown, nil) }
}

func startStep(i int) {
	_, span := otel.Tracer("test").Start(context.Background(), "Step",
		trace.WithAttributes(core.StepKey.Int(i)))
	span.End()
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	buf, flush := stdoutTracing(t, TracingConfig{ServiceName: "test", SampleRatio: 1, Scenario: "configs/valley.yaml"})
	startStep(0)
	flush()

	out := buf.String()
	if !strings.Contains(out, `"Name": "Step"`) {
		t.Fatalf("expected exported span, got:\n%s", out)
	}
	if !strings.Contains(out, string(ScenarioKey)) || !strings.Contains(out, `"valley.yaml"`) {
		t.Fatalf("expected scenario resource attribute, got:\n%s", out)
	}
}

func TestStepIntervalSamplesEveryNthStep(t *testing.T) {
	buf, flush := stdoutTracing(t, TracingConfig{SampleRatio: 1, StepInterval: 2})
	for i := 0; i < 4; i++ {
		startStep(i)
	}
	flush()

	if got := strings.Count(buf.String(), `"Name": "Step"`); got != 2 {
		t.Fatalf("exported %d Step spans, want 2 (steps 0 and 2)", got)
	}
}

func TestSampleRatioGovernsOtherSpans(t *testing.T) {
	buf, flush := stdoutTracing(t, TracingConfig{SampleRatio: 0})
	startStep(0)
	_, span := otel.Tracer("test").Start(context.Background(), "LoadScenario")
	span.End()
	flush()

	out := buf.String()
	if !strings.Contains(out, `"Name": "Step"`) {
		t.Fatalf("step spans must ignore the ratio, got:\n%s", out)
	}
	if strings.Contains(out, "LoadScenario") {
		t.Fatalf("ratio 0 must drop non-step roots, got:\n%s", out)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}
