package core

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/watershed-simulator/model"
)

func testConfig(t *testing.T) *model.Config {
	t.Helper()
	cfg, err := model.NewConfig([]string{"phosphate"}, []string{"temperature"})
	if err != nil {
		t.Fatalf("NewConfig error: %v", err)
	}
	return cfg
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

// tankNode is a minimal storage node used to exercise links.
type tankNode struct {
	*Node
	tank *Tank
}

func newTankNode(t *testing.T, cfg *model.Config, name, category string, capacity float64) *tankNode {
	t.Helper()
	n, err := NewNode(cfg, name, category)
	if err != nil {
		t.Fatalf("NewNode(%q) error: %v", name, err)
	}
	tn := &tankNode{Node: n, tank: NewTank(cfg, capacity, cfg.Empty())}
	n.SetPushCheckHandler(DefaultTag, tn.tank.GetExcess)
	n.SetPushSetHandler(DefaultTag, func(v model.Parcel) model.Parcel { return tn.tank.PushStorage(v, false) })
	n.SetPullCheckHandler(DefaultTag, tn.tank.GetAvail)
	n.SetPullSetHandler(DefaultTag, tn.tank.PullStorage)
	n.Ledger().AddStorageDelta(tn.tank.DS)
	return tn
}

func (tn *tankNode) EndTimestep() { tn.tank.EndTimestep() }

func (tn *tankNode) fill(v model.Parcel) {
	tn.tank.PushStorage(v, true)
	tn.tank.EndTimestep()
}

// mapInputs is an in-memory InputStore keyed by node/variable.
type mapInputs map[string]float64

func (m mapInputs) DataInput(node, variable string, _ time.Time) (float64, error) {
	v, ok := m[node+"/"+variable]
	if !ok {
		return 0, fmt.Errorf("%s/%s: %w", node, variable, errMissingInput)
	}
	return v, nil
}

var errMissingInput = fmt.Errorf("missing input")

// recordingMetrics captures engine measurements.
type recordingMetrics struct {
	steps         int
	phases        []string
	discrepancies map[string]float64
	nodes, links  int
	queued        map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{discrepancies: map[string]float64{}, queued: map[string]float64{}}
}

func (m *recordingMetrics) ObserveStep(time.Duration)              { m.steps++ }
func (m *recordingMetrics) ObservePhase(p string, _ time.Duration) { m.phases = append(m.phases, p) }
func (m *recordingMetrics) RecordDiscrepancy(entity, field string, amount float64) {
	m.discrepancies[entity+"/"+field] = amount
}
func (m *recordingMetrics) SetNetworkCounts(nodes, links int)    { m.nodes, m.links = nodes, links }
func (m *recordingMetrics) SetQueuedVolume(link string, v float64) { m.queued[link] = v }

// phaseRecorder logs every phase it is asked to handle.
type phaseRecorder struct {
	*Node
	seen *[]string
	err  error
}

func (p *phaseRecorder) HandlePhase(_ context.Context, phase Phase) error {
	*p.seen = append(*p.seen, p.Name()+":"+phase.String())
	return p.err
}
