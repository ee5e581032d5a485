// Package ledger reconciles income, outflow and storage change for any entity
// that takes part in mass conservation.
package ledger

import (
	"math"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// Producer yields one term of a mass balance for the current step.
type Producer func() model.Parcel

// Reconciler is anything that can report its balance terms.
type Reconciler interface {
	Name() string
	Reconcile() (in, ds, out model.Parcel)
}

// Discrepancy is one conserved field that failed the balance test. Amount is
// the signed residual in − ds − out in the field's own units.
type Discrepancy struct {
	Entity string
	Field  string
	Amount float64
}

// Ledger holds the ordered income, outflow and storage-change producers of a
// single entity.
type Ledger struct {
	name    string
	cfg     *model.Config
	income  []Producer
	outflow []Producer
	storage []Producer
}

// New returns an empty ledger for the named entity.
func New(name string, cfg *model.Config) *Ledger {
	return &Ledger{name: name, cfg: cfg}
}

// Name of the entity the ledger belongs to.
func (l *Ledger) Name() string { return l.name }

// AddIncome appends an income producer.
func (l *Ledger) AddIncome(p Producer) {
	if p != nil {
		l.income = append(l.income, p)
	}
}

// AddOutflow appends an outflow producer.
func (l *Ledger) AddOutflow(p Producer) {
	if p != nil {
		l.outflow = append(l.outflow, p)
	}
}

// AddStorageDelta appends a storage-change producer.
func (l *Ledger) AddStorageDelta(p Producer) {
	if p != nil {
		l.storage = append(l.storage, p)
	}
}

// Reconcile evaluates every producer and returns the summed terms. Storage
// change is summed over volume and additive fields only.
func (l *Ledger) Reconcile() (in, ds, out model.Parcel) {
	in, out, ds = l.cfg.Empty(), l.cfg.Empty(), l.cfg.Empty()
	for _, p := range l.income {
		in = l.cfg.Sum(in, p())
	}
	for _, p := range l.outflow {
		out = l.cfg.Sum(out, p())
	}
	zero := l.cfg.Empty()
	for _, p := range l.storage {
		// DS(x, 0) drops non-additive fields, then the plain add keeps them zero.
		ds = l.cfg.Sum(ds, l.cfg.DS(p(), zero))
	}
	return in, ds, out
}

// Check reconciles r and tests the result.
func Check(cfg *model.Config, r Reconciler) []Discrepancy {
	in, ds, out := r.Reconcile()
	return Compare(cfg, r.Name(), in, ds, out)
}

// Compare tests in == ds + out over every conserved field using a tolerance
// relative to the largest magnitude involved.
func Compare(cfg *model.Config, entity string, in, ds, out model.Parcel) []Discrepancy {
	var found []Discrepancy
	for i, field := range cfg.ConservedFields() {
		vin := cfg.Conserved(in, i)
		vds := cfg.Conserved(ds, i)
		vout := cfg.Conserved(out, i)
		if !Balanced(cfg.Accuracy(), vin, vds, vout) {
			found = append(found, Discrepancy{
				Entity: entity,
				Field:  field,
				Amount: vin - vds - vout,
			})
		}
	}
	return found
}

// Balanced applies the relative test to one field. Values are scaled by the
// power of ten of the largest magnitude before comparison against eps; below
// eps the comparison is absolute.
func Balanced(eps, in, ds, out float64) bool {
	largest := math.Max(math.Abs(in), math.Max(math.Abs(out), math.Abs(ds)))
	if largest > eps {
		magnitude := math.Pow(10, math.Floor(math.Log10(largest)))
		in, ds, out = in/magnitude, ds/magnitude, out/magnitude
	}
	return math.Abs(in-ds-out) <= eps
}

// Aggregate sums the terms of many reconcilers into one system-wide triple.
func Aggregate(cfg *model.Config, parts ...Reconciler) (in, ds, out model.Parcel) {
	in, ds, out = cfg.Empty(), cfg.Empty(), cfg.Empty()
	zero := cfg.Empty()
	for _, r := range parts {
		if r == nil {
			continue
		}
		pin, pds, pout := r.Reconcile()
		in = cfg.Sum(in, cfg.DS(pin, zero))
		ds = cfg.Sum(ds, cfg.DS(pds, zero))
		out = cfg.Sum(out, cfg.DS(pout, zero))
	}
	return in, ds, out
}
