package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/watershed-simulator/model"
)

func TestNodeDeniesByDefault(t *testing.T) {
	cfg := testConfig(t)
	n, err := NewNode(cfg, "n", CategoryJunction)
	if err != nil {
		t.Fatalf("NewNode error: %v", err)
	}
	v := cfg.MustNew(3, map[string]float64{"phosphate": 0.1})

	if got := n.PushCheck(&v, DefaultTag); got.Volume != 0 {
		t.Fatalf("PushCheck = %v, want 0", got.Volume)
	}
	if got := n.PushSet(v, DefaultTag); !cfg.Compare(got, v) {
		t.Fatalf("PushSet returned %+v, want everything back", got)
	}
	if got := n.PullCheck(nil, DefaultTag); got.Volume != 0 {
		t.Fatalf("PullCheck = %v, want 0", got.Volume)
	}
	if got := n.PullSet(v, DefaultTag); got.Volume != 0 {
		t.Fatalf("PullSet = %v, want 0", got.Volume)
	}
}

func TestNewNodeValidation(t *testing.T) {
	cfg := testConfig(t)
	if _, err := NewNode(cfg, "", CategoryJunction); !errors.Is(err, ErrEmptyNodeName) {
		t.Fatalf("expected ErrEmptyNodeName, got %v", err)
	}
	if _, err := NewNode(nil, "n", CategoryJunction); !errors.Is(err, ErrNodeBadInput) {
		t.Fatalf("expected ErrNodeBadInput, got %v", err)
	}
}

func TestNodeUnknownTagFallsBackToDefault(t *testing.T) {
	cfg := testConfig(t)
	n, _ := NewNode(cfg, "n", CategoryJunction)
	n.SetPushCheckHandler(DefaultTag, func(*model.Parcel) model.Parcel { return cfg.MustNew(1, nil) })
	n.SetPushCheckHandler("Demand", func(*model.Parcel) model.Parcel { return cfg.MustNew(2, nil) })

	if got := n.PushCheck(nil, "Demand").Volume; got != 2 {
		t.Fatalf("tagged check = %v, want 2", got)
	}
	if got := n.PushCheck(nil, "Sewer").Volume; got != 1 {
		t.Fatalf("unknown tag check = %v, want default 1", got)
	}
}

func TestNodeDataInput(t *testing.T) {
	cfg := testConfig(t)
	n, _ := NewNode(cfg, "n", CategoryRiver)
	if _, err := n.DataInput("flow"); !errors.Is(err, ErrNoDataInputs) {
		t.Fatalf("expected ErrNoDataInputs, got %v", err)
	}
	n.SetInputs(mapInputs{"n/flow": 4.5})
	n.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if got, err := n.DataInput("flow"); err != nil || got != 4.5 {
		t.Fatalf("DataInput = %v, %v", got, err)
	}
}

func TestPushDistributedByPreference(t *testing.T) {
	cfg := testConfig(t)
	src := newTankNode(t, cfg, "src", CategoryStorage, 100)
	a := newTankNode(t, cfg, "a", CategoryStorage, 100)
	b := newTankNode(t, cfg, "b", CategoryStorage, 100)
	NewArc(cfg, "src-a", src, a, WithPreference(1))
	NewArc(cfg, "src-b", src, b, WithPreference(3))

	rest := src.PushDistributed(cfg.MustNew(8, nil), nil, DefaultTag)
	if rest.Volume != 0 {
		t.Fatalf("not pushed = %v, want 0", rest.Volume)
	}
	if !approx(a.tank.Storage().Volume, 2) || !approx(b.tank.Storage().Volume, 6) {
		t.Fatalf("a=%v b=%v, want 2 and 6", a.tank.Storage().Volume, b.tank.Storage().Volume)
	}
}

func TestPushDistributedWeighsByAvailability(t *testing.T) {
	cfg := testConfig(t)
	src := newTankNode(t, cfg, "src", CategoryStorage, 100)
	a := newTankNode(t, cfg, "a", CategoryStorage, 100)
	b := newTankNode(t, cfg, "b", CategoryStorage, 100)
	NewArc(cfg, "src-a", src, a, WithCapacity(1))
	NewArc(cfg, "src-b", src, b)

	rest := src.PushDistributed(cfg.MustNew(10, map[string]float64{"phosphate": 1}), nil, DefaultTag)
	if rest.Volume > cfg.Accuracy() {
		t.Fatalf("not pushed = %v, want 0", rest.Volume)
	}
	if !approx(a.tank.Storage().Volume, 10.0/11) || !approx(b.tank.Storage().Volume, 100.0/11) {
		t.Fatalf("a=%v b=%v, want 10/11 and 100/11", a.tank.Storage().Volume, b.tank.Storage().Volume)
	}
	if !approx(cfg.Get(b.tank.Storage(), "phosphate"), 10.0/11) {
		t.Fatalf("b phosphate = %v, want 10/11", cfg.Get(b.tank.Storage(), "phosphate"))
	}
}

func TestPushDistributedReturnsUnpushed(t *testing.T) {
	cfg := testConfig(t)
	src := newTankNode(t, cfg, "src", CategoryStorage, 100)
	a := newTankNode(t, cfg, "a", CategoryStorage, 100)
	b := newTankNode(t, cfg, "b", CategoryStorage, 100)
	NewArc(cfg, "src-a", src, a, WithCapacity(1))
	NewArc(cfg, "src-b", src, b, WithCapacity(3))

	rest := src.PushDistributed(cfg.MustNew(10, map[string]float64{"phosphate": 1}), nil, DefaultTag)
	if !approx(rest.Volume, 6) || !approx(cfg.Get(rest, "phosphate"), 0.6) {
		t.Fatalf("not pushed = %+v, want 6 / 0.6", rest)
	}
	if !approx(a.tank.Storage().Volume, 1) || !approx(b.tank.Storage().Volume, 3) {
		t.Fatalf("a=%v b=%v, want 1 and 3", a.tank.Storage().Volume, b.tank.Storage().Volume)
	}
}

func TestPushDistributedFiltersByCategory(t *testing.T) {
	cfg := testConfig(t)
	src := newTankNode(t, cfg, "src", CategoryStorage, 100)
	river := newTankNode(t, cfg, "river", CategoryRiver, 100)
	sink := newTankNode(t, cfg, "sink", CategoryWaste, 100)
	NewArc(cfg, "src-river", src, river)
	NewArc(cfg, "src-sink", src, sink)

	src.PushDistributed(cfg.MustNew(4, nil), []string{CategoryWaste}, DefaultTag)
	if river.tank.Storage().Volume != 0 || !approx(sink.tank.Storage().Volume, 4) {
		t.Fatalf("river=%v sink=%v", river.tank.Storage().Volume, sink.tank.Storage().Volume)
	}
}

func TestPullDistributedByAvailability(t *testing.T) {
	cfg := testConfig(t)
	dst := newTankNode(t, cfg, "dst", CategoryStorage, 100)
	a := newTankNode(t, cfg, "a", CategoryStorage, 100)
	b := newTankNode(t, cfg, "b", CategoryStorage, 100)
	a.fill(cfg.MustNew(5, nil))
	b.fill(cfg.MustNew(15, nil))
	NewArc(cfg, "a-dst", a, dst)
	NewArc(cfg, "b-dst", b, dst)

	got := dst.PullDistributed(cfg.MustNew(10, nil), nil, DefaultTag)
	if !approx(got.Volume, 10) {
		t.Fatalf("pulled %v, want 10", got.Volume)
	}
	if !approx(a.tank.Storage().Volume, 2.5) || !approx(b.tank.Storage().Volume, 7.5) {
		t.Fatalf("a=%v b=%v, want 2.5 and 7.5", a.tank.Storage().Volume, b.tank.Storage().Volume)
	}
}

func TestGetConnected(t *testing.T) {
	cfg := testConfig(t)
	src := newTankNode(t, cfg, "src", CategoryStorage, 100)
	a := newTankNode(t, cfg, "a", CategoryStorage, 4)
	b := newTankNode(t, cfg, "b", CategoryStorage, 6)
	NewArc(cfg, "src-a", src, a, WithPreference(2))
	NewArc(cfg, "src-b", src, b)

	c := src.GetConnected(Push, nil, DefaultTag)
	if !approx(c.Avail, 10) || !approx(c.Priority, 14) {
		t.Fatalf("connected = %+v, want avail 10 priority 14", c)
	}
	if !approx(c.Allocation["src-a"], 8) || !approx(c.Allocation["src-b"], 6) {
		t.Fatalf("allocation = %v", c.Allocation)
	}
}
