package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/ledger"
	"github.com/signalsfoundry/watershed-simulator/model"
	"github.com/signalsfoundry/watershed-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/watershed-simulator/core"

// StepKey is the Step span attribute holding the zero-based step index.
const StepKey = attribute.Key("watershed.step")

// MetricsRecorder receives engine measurements. The observability package's
// collector satisfies it; a nil recorder disables metrics.
type MetricsRecorder interface {
	ObserveStep(d time.Duration)
	ObservePhase(phase string, d time.Duration)
	RecordDiscrepancy(entity, field string, amount float64)
	SetNetworkCounts(nodes, links int)
	SetQueuedVolume(link string, volume float64)
}

// StepReport summarises one completed step.
type StepReport struct {
	Index         int
	Time          time.Time
	Duration      time.Duration
	Discrepancies []ledger.Discrepancy
	SystemIn      model.Parcel
	SystemDS      model.Parcel
	SystemOut     model.Parcel
}

// SimulationEngine advances a sealed network one step at a time.
type SimulationEngine struct {
	KB    *KnowledgeBase
	Clock *timectrl.TimeController

	cfg              *model.Config
	log              logging.Logger
	metrics          MetricsRecorder
	tracer           trace.Tracer
	checkMassBalance bool
	tickListeners    []func(StepReport)
	step             int
}

// EngineOption customises a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(se *SimulationEngine) { se.metrics = m }
}

// WithMassBalanceCheck toggles the per-step ledger check. It is on by
// default.
func WithMassBalanceCheck(enabled bool) EngineOption {
	return func(se *SimulationEngine) { se.checkMassBalance = enabled }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(se *SimulationEngine) {
		if t != nil {
			se.tracer = t
		}
	}
}

// NewSimulationEngine seals kb and prepares an engine over it.
func NewSimulationEngine(kb *KnowledgeBase, cfg *model.Config, clock *timectrl.TimeController, opts ...EngineOption) (*SimulationEngine, error) {
	if kb == nil {
		return nil, fmt.Errorf("NewSimulationEngine: kb is nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("NewSimulationEngine: constituent config is nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("NewSimulationEngine: clock is nil")
	}
	se := &SimulationEngine{
		KB:               kb,
		Clock:            clock,
		cfg:              cfg,
		log:              logging.Noop(),
		tracer:           otel.Tracer(tracerName),
		checkMassBalance: true,
	}
	for _, opt := range opts {
		opt(se)
	}
	kb.Seal()
	if se.metrics != nil {
		se.metrics.SetNetworkCounts(len(kb.Nodes()), len(kb.Links()))
	}
	return se, nil
}

// RegisterTickListener adds a callback invoked after every completed step.
func (se *SimulationEngine) RegisterTickListener(fn func(StepReport)) {
	if fn != nil {
		se.tickListeners = append(se.tickListeners, fn)
	}
}

// StepIndex is the number of completed steps.
func (se *SimulationEngine) StepIndex() int { return se.step }

// Run executes steps consecutive steps, stopping at the first hard error or
// when ctx is cancelled between steps.
func (se *SimulationEngine) Run(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := se.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one full timestep: set time, read forcing data, release ready
// queue entries, run every phase in its fixed order, check conservation,
// reset per-step state and advance the clock.
func (se *SimulationEngine) Step(ctx context.Context) (StepReport, error) {
	started := time.Now()
	now := se.Clock.Now()
	ctx, span := se.tracer.Start(ctx, "Step", trace.WithAttributes(
		StepKey.Int(se.step),
		attribute.String("sim_time", now.Format(time.RFC3339)),
	))
	defer span.End()

	report, err := se.runStep(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		se.log.Error(ctx, "step failed",
			logging.Int("step", se.step),
			logging.Time("sim_time", now),
			logging.Err(err),
		)
		return StepReport{}, err
	}

	report.Duration = time.Since(started)
	if se.metrics != nil {
		se.metrics.ObserveStep(report.Duration)
	}
	span.SetAttributes(attribute.Int("discrepancies", len(report.Discrepancies)))

	se.Clock.Advance()
	se.step++
	for _, fn := range se.tickListeners {
		fn(report)
	}
	return report, nil
}

func (se *SimulationEngine) runStep(ctx context.Context, now time.Time) (StepReport, error) {
	nodes := se.KB.Nodes()
	links := se.KB.Links()
	report := StepReport{Index: se.step, Time: now}

	for _, n := range nodes {
		n.SetTime(now)
	}
	for _, n := range nodes {
		if p, ok := n.(StepPreparer); ok {
			if err := p.PrepareStep(ctx); err != nil {
				return report, fmt.Errorf("prepare node %q: %w", n.Name(), err)
			}
		}
	}
	for _, l := range links {
		if p, ok := l.(StepPreparer); ok {
			if err := p.PrepareStep(ctx); err != nil {
				return report, fmt.Errorf("prepare link %q: %w", l.Name(), err)
			}
		}
	}
	for _, l := range links {
		if f, ok := l.(Flusher); ok {
			f.Flush()
		}
	}

	for _, phase := range phaseOrder {
		if err := se.runPhase(ctx, phase); err != nil {
			return report, err
		}
	}

	if se.checkMassBalance {
		se.checkBalance(ctx, &report, nodes, links)
	}

	for _, n := range nodes {
		n.EndTimestep()
	}
	for _, l := range links {
		l.EndTimestep()
		if q, ok := l.(*QueueArc); ok && se.metrics != nil {
			se.metrics.SetQueuedVolume(l.Name(), q.QueueTotal().Volume)
		}
	}
	return report, nil
}

// phaseMembers lists the nodes acting in phase. The distribution phase walks
// the discharge order and keeps only distributing categories.
func (se *SimulationEngine) phaseMembers(phase Phase) []NetworkNode {
	if phase != PhaseDistribution {
		return se.KB.NodesByCategory(phase.Category())
	}
	var out []NetworkNode
	for _, name := range se.KB.DischargeOrder() {
		n := se.KB.GetNode(name)
		if n != nil && distributionCategories[n.Category()] {
			out = append(out, n)
		}
	}
	return out
}

func (se *SimulationEngine) runPhase(ctx context.Context, phase Phase) error {
	members := se.phaseMembers(phase)
	if len(members) == 0 {
		return nil
	}
	started := time.Now()
	ctx, span := se.tracer.Start(ctx, "Phase/"+phase.String(),
		trace.WithAttributes(attribute.Int("nodes", len(members))))
	defer span.End()

	for _, n := range members {
		if err := runNodePhase(ctx, n, phase); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if se.metrics != nil {
		se.metrics.ObservePhase(phase.String(), time.Since(started))
	}
	return nil
}

func (se *SimulationEngine) checkBalance(ctx context.Context, report *StepReport, nodes []NetworkNode, links []NetworkLink) {
	parts := make([]ledger.Reconciler, 0, len(nodes)+len(links))
	for _, n := range nodes {
		parts = append(parts, n)
	}
	for _, l := range links {
		parts = append(parts, l)
	}

	for _, r := range parts {
		report.Discrepancies = append(report.Discrepancies, ledger.Check(se.cfg, r)...)
	}
	report.SystemIn, report.SystemDS, report.SystemOut = ledger.Aggregate(se.cfg, parts...)
	report.Discrepancies = append(report.Discrepancies,
		ledger.Compare(se.cfg, "system", report.SystemIn, report.SystemDS, report.SystemOut)...)

	for _, d := range report.Discrepancies {
		se.log.Warn(ctx, "mass balance error",
			logging.String("entity", d.Entity),
			logging.String("field", d.Field),
			logging.Float("amount", d.Amount),
			logging.Int("step", report.Index),
		)
		if se.metrics != nil {
			se.metrics.RecordDiscrepancy(d.Entity, d.Field, d.Amount)
		}
	}
}

// Reinit clears all run state and rewinds the clock.
func (se *SimulationEngine) Reinit() {
	for _, n := range se.KB.Nodes() {
		n.Reinit()
	}
	for _, l := range se.KB.Links() {
		l.Reinit()
	}
	se.Clock.Reset()
	se.step = 0
}
