package ledger

import (
	"math"
	"testing"

	"github.com/signalsfoundry/watershed-simulator/model"
)

func newCfg(t *testing.T) *model.Config {
	t.Helper()
	cfg, err := model.NewConfig([]string{"phosphate"}, []string{"temperature"})
	if err != nil {
		t.Fatalf("NewConfig error: %v", err)
	}
	return cfg
}

func TestReconcileSumsProducersInOrder(t *testing.T) {
	cfg := newCfg(t)
	l := New("tank", cfg)
	l.AddIncome(func() model.Parcel { return cfg.MustNew(5, map[string]float64{"phosphate": 1, "temperature": 10}) })
	l.AddIncome(func() model.Parcel { return cfg.MustNew(5, map[string]float64{"phosphate": 1, "temperature": 20}) })
	l.AddOutflow(func() model.Parcel { return cfg.MustNew(6, map[string]float64{"phosphate": 1.2}) })
	l.AddStorageDelta(func() model.Parcel { return cfg.MustNew(4, map[string]float64{"phosphate": 0.8, "temperature": 99}) })
	l.AddIncome(nil)

	in, ds, out := l.Reconcile()
	if in.Volume != 10 || math.Abs(cfg.Get(in, "temperature")-15) > 1e-12 {
		t.Fatalf("income = %+v, want volume 10 at 15 degrees", in)
	}
	if out.Volume != 6 || ds.Volume != 4 {
		t.Fatalf("outflow %v / storage change %v, want 6 / 4", out.Volume, ds.Volume)
	}
	if temp := cfg.Get(ds, "temperature"); temp != 0 {
		t.Fatalf("storage change carries temperature %v", temp)
	}
	if got := Check(cfg, l); len(got) != 0 {
		t.Fatalf("unexpected discrepancies: %+v", got)
	}
}

func TestCompareReportsSignedDiscrepancy(t *testing.T) {
	cfg := newCfg(t)
	in := cfg.MustNew(10, map[string]float64{"phosphate": 1})
	ds := cfg.MustNew(2, map[string]float64{"phosphate": 0.5})
	out := cfg.MustNew(7, map[string]float64{"phosphate": 0.5})

	got := Compare(cfg, "leaky", in, ds, out)
	if len(got) != 1 {
		t.Fatalf("expected one discrepancy, got %+v", got)
	}
	d := got[0]
	if d.Entity != "leaky" || d.Field != "volume" || math.Abs(d.Amount-1) > 1e-12 {
		t.Fatalf("discrepancy = %+v, want leaky/volume 1", d)
	}
}

func TestBalancedIsRelative(t *testing.T) {
	cases := []struct {
		name        string
		in, ds, out float64
		want        bool
	}{
		{"rounding noise on a large volume", 1e9, 0, 1e9 - 1e-6, true},
		{"real error on trace masses", 2e-8, 0, 1e-8, false},
		{"absolute below eps", 1e-12, 0, 0, true},
		{"all zero", 0, 0, 0, true},
		{"negative storage change", 3, -2, 5, true},
	}
	for _, tc := range cases {
		if got := Balanced(1e-11, tc.in, tc.ds, tc.out); got != tc.want {
			t.Fatalf("%s: Balanced = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type fixed struct {
	name        string
	in, ds, out model.Parcel
}

func (f fixed) Name() string                                          { return f.name }
func (f fixed) Reconcile() (model.Parcel, model.Parcel, model.Parcel) { return f.in, f.ds, f.out }

func TestAggregate(t *testing.T) {
	cfg := newCfg(t)
	a := fixed{"a", cfg.MustNew(3, nil), cfg.MustNew(1, nil), cfg.MustNew(2, nil)}
	b := fixed{"b", cfg.MustNew(2, nil), cfg.MustNew(-1, nil), cfg.MustNew(3, nil)}

	in, ds, out := Aggregate(cfg, a, b, nil)
	if in.Volume != 5 || ds.Volume != 0 || out.Volume != 5 {
		t.Fatalf("aggregate = %v/%v/%v, want 5/0/5", in.Volume, ds.Volume, out.Volume)
	}
	if got := Compare(cfg, "system", in, ds, out); len(got) != 0 {
		t.Fatalf("unexpected discrepancies: %+v", got)
	}
}
