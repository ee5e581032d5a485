package core

import (
	"context"
	"time"

	"github.com/signalsfoundry/watershed-simulator/model"
)

const (
	// DefaultTag is the handler key every request falls back to.
	DefaultTag = "default"

	// MaxIter bounds the allocation passes of distributed push and pull.
	MaxIter = 10

	// DecayReferenceTemperature is the temperature at which a decay rate
	// equals its constant.
	DecayReferenceTemperature = 20.0
)

// Port is one end of a link: something that answers the four transfer
// primitives. Check calls never mutate; set calls do.
//
// PushSet returns the part of v that was rejected. PullSet returns the parcel
// actually delivered. A nil v on a check asks for the unconstrained answer.
type Port interface {
	Name() string
	Category() string
	PushCheck(v *model.Parcel, tag string) model.Parcel
	PushSet(v model.Parcel, tag string) model.Parcel
	PullCheck(v *model.Parcel, tag string) model.Parcel
	PullSet(v model.Parcel, tag string) model.Parcel
}

// ArcRegistry is implemented by ports that track their attached links. Links
// register themselves on construction; the port never owns them.
type ArcRegistry interface {
	RegisterInArc(l NetworkLink)
	RegisterOutArc(l NetworkLink)
}

// Flows is a snapshot of a link's per-step transients.
type Flows struct {
	FlowIn  float64
	FlowOut float64
	VqipIn  model.Parcel
	VqipOut model.Parcel
}

// NetworkLink is a directed edge carrying parcels from its in port to its out
// port. Push travels in to out; pull draws out from in.
type NetworkLink interface {
	Name() string
	Preference() float64
	InPort() Port
	OutPort() Port

	SendPushCheck(v *model.Parcel, tag string) model.Parcel
	SendPushRequest(v model.Parcel, tag string, force bool) model.Parcel
	SendPullCheck(v *model.Parcel, tag string) model.Parcel
	SendPullRequest(v model.Parcel, tag string) model.Parcel

	Flows() Flows
	EndTimestep()
	Reinit()
	Reconcile() (in, ds, out model.Parcel)
}

// NetworkNode is a vertex of the network.
type NetworkNode interface {
	Port
	SetTime(t time.Time)
	EndTimestep()
	Reinit()
	Reconcile() (in, ds, out model.Parcel)
}

// PhaseHandler is implemented by nodes that act during scheduler phases. The
// scheduler only calls it for phases whose category matches the node's.
type PhaseHandler interface {
	HandlePhase(ctx context.Context, phase Phase) error
}

// StepPreparer is implemented by entities that must read forcing data before
// any transfer happens in a step.
type StepPreparer interface {
	PrepareStep(ctx context.Context) error
}

// Flusher is implemented by links holding parcels in transit.
type Flusher interface {
	Flush() model.Parcel
}

// DataSource yields forcing data for the current step.
type DataSource interface {
	DataInput(variable string) (float64, error)
}

// InputStore is the forcing-data backend nodes read through.
type InputStore interface {
	DataInput(node, variable string, t time.Time) (float64, error)
}

// attach registers the outermost link value into both endpoints.
func attach(l NetworkLink) {
	if r, ok := l.InPort().(ArcRegistry); ok {
		r.RegisterOutArc(l)
	}
	if r, ok := l.OutPort().(ArcRegistry); ok {
		r.RegisterInArc(l)
	}
}
