package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/watershed-simulator/internal/logging"
	"github.com/signalsfoundry/watershed-simulator/ledger"
	"github.com/signalsfoundry/watershed-simulator/model"
)

// CheckHandler answers a push or pull check for one tag.
type CheckHandler func(v *model.Parcel) model.Parcel

// SetHandler executes a push or pull set for one tag.
type SetHandler func(v model.Parcel) model.Parcel

// Node is the shared base of every node type. It dispatches the four transfer
// primitives through per-tag handler tables, keeps the attached links in
// registration order and carries the node's ledger. Concrete node types embed
// *Node and install handlers and ledger terms.
type Node struct {
	cfg      *model.Config
	name     string
	category string
	t        time.Time
	inputs   InputStore
	log      logging.Logger

	pushCheck map[string]CheckHandler
	pushSet   map[string]SetHandler
	pullCheck map[string]CheckHandler
	pullSet   map[string]SetHandler

	inArcs    []NetworkLink
	outArcs   []NetworkLink
	inByName  map[string]NetworkLink
	outByName map[string]NetworkLink

	ledger *ledger.Ledger
	hooks  Hooks
}

// NewNode builds a node that denies every transfer until handlers are set.
func NewNode(cfg *model.Config, name, category string) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil constituent config", ErrNodeBadInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w", ErrEmptyNodeName)
	}
	n := &Node{
		cfg:       cfg,
		name:      name,
		category:  category,
		log:       logging.Noop(),
		inByName:  make(map[string]NetworkLink),
		outByName: make(map[string]NetworkLink),
		ledger:    ledger.New(name, cfg),
	}
	n.pushCheck = map[string]CheckHandler{DefaultTag: n.denyCheck}
	n.pullCheck = map[string]CheckHandler{DefaultTag: n.denyCheck}
	n.pushSet = map[string]SetHandler{DefaultTag: n.denyPushSet}
	n.pullSet = map[string]SetHandler{DefaultTag: n.denyPullSet}

	n.ledger.AddIncome(func() model.Parcel {
		total := cfg.Empty()
		for _, l := range n.inArcs {
			total = cfg.Sum(total, l.Flows().VqipOut)
		}
		return total
	})
	n.ledger.AddOutflow(func() model.Parcel {
		total := cfg.Empty()
		for _, l := range n.outArcs {
			total = cfg.Sum(total, l.Flows().VqipIn)
		}
		return total
	})
	return n, nil
}

func (n *Node) Name() string          { return n.name }
func (n *Node) Category() string      { return n.category }
func (n *Node) Config() *model.Config { return n.cfg }
func (n *Node) Time() time.Time       { return n.t }
func (n *Node) SetTime(t time.Time)   { n.t = t }

// SetInputs connects the node to its forcing data.
func (n *Node) SetInputs(s InputStore) { n.inputs = s }

// SetLogger replaces the node's logger.
func (n *Node) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.Noop()
	}
	n.log = l.With(logging.String("node", n.name))
}

// Logger returns the node's logger.
func (n *Node) Logger() logging.Logger { return n.log }

// DataInput reads the node's forcing data for variable at the current time.
func (n *Node) DataInput(variable string) (float64, error) {
	if n.inputs == nil {
		return 0, fmt.Errorf("%w: node %q has no data inputs", ErrNoDataInputs, n.name)
	}
	return n.inputs.DataInput(n.name, variable, n.t)
}

// Ledger exposes the node's ledger so node types can add terms.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Reconcile reports the node's balance terms.
func (n *Node) Reconcile() (in, ds, out model.Parcel) { return n.ledger.Reconcile() }

// PhaseHooks returns the node's hook lists.
func (n *Node) PhaseHooks() *Hooks { return &n.hooks }

// EndTimestep is a no-op for a stateless node.
func (n *Node) EndTimestep() {}

// Reinit is a no-op for a stateless node.
func (n *Node) Reinit() {}

//
// ---------- Handlers ----------
//

func (n *Node) SetPushCheckHandler(tag string, h CheckHandler) { n.pushCheck[tag] = h }
func (n *Node) SetPushSetHandler(tag string, h SetHandler)     { n.pushSet[tag] = h }
func (n *Node) SetPullCheckHandler(tag string, h CheckHandler) { n.pullCheck[tag] = h }
func (n *Node) SetPullSetHandler(tag string, h SetHandler)     { n.pullSet[tag] = h }

func (n *Node) denyCheck(*model.Parcel) model.Parcel { return n.cfg.Empty() }

func (n *Node) denyPushSet(v model.Parcel) model.Parcel {
	n.log.Debug(context.Background(), "push denied", logging.Float("volume", v.Volume))
	return n.cfg.Clone(v)
}

func (n *Node) denyPullSet(v model.Parcel) model.Parcel {
	n.log.Debug(context.Background(), "pull denied", logging.Float("volume", v.Volume))
	return n.cfg.Empty()
}

func lookup[H any](table map[string]H, tag string) H {
	if h, ok := table[tag]; ok {
		return h
	}
	return table[DefaultTag]
}

func (n *Node) PushCheck(v *model.Parcel, tag string) model.Parcel {
	return lookup(n.pushCheck, tag)(v)
}

func (n *Node) PushSet(v model.Parcel, tag string) model.Parcel {
	return lookup(n.pushSet, tag)(v)
}

func (n *Node) PullCheck(v *model.Parcel, tag string) model.Parcel {
	return lookup(n.pullCheck, tag)(v)
}

func (n *Node) PullSet(v model.Parcel, tag string) model.Parcel {
	return lookup(n.pullSet, tag)(v)
}

//
// ---------- Links ----------
//

// RegisterInArc records l as delivering into the node.
func (n *Node) RegisterInArc(l NetworkLink) {
	if _, ok := n.inByName[l.Name()]; ok {
		return
	}
	n.inByName[l.Name()] = l
	n.inArcs = append(n.inArcs, l)
}

// RegisterOutArc records l as leaving the node.
func (n *Node) RegisterOutArc(l NetworkLink) {
	if _, ok := n.outByName[l.Name()]; ok {
		return
	}
	n.outByName[l.Name()] = l
	n.outArcs = append(n.outArcs, l)
}

func (n *Node) InArcs() []NetworkLink  { return append([]NetworkLink(nil), n.inArcs...) }
func (n *Node) OutArcs() []NetworkLink { return append([]NetworkLink(nil), n.outArcs...) }

// InArc returns the named incoming link, or nil.
func (n *Node) InArc(name string) NetworkLink { return n.inByName[name] }

// OutArc returns the named outgoing link, or nil.
func (n *Node) OutArc(name string) NetworkLink { return n.outByName[name] }

// directionArcs filters the node's links by the category of the node at their
// far end. An empty filter keeps every link.
func (n *Node) directionArcs(dir Direction, ofType []string) []NetworkLink {
	src := n.outArcs
	if dir == Pull {
		src = n.inArcs
	}
	if len(ofType) == 0 {
		return append([]NetworkLink(nil), src...)
	}
	var out []NetworkLink
	for _, l := range src {
		far := l.OutPort()
		if dir == Pull {
			far = l.InPort()
		}
		for _, c := range ofType {
			if far.Category() == c {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// Connected summarises the capacity of a node's links in one direction.
type Connected struct {
	Avail      float64
	Priority   float64
	Allocation map[string]float64
}

// GetConnected sums what the matching links could carry now. Priority is the
// preference-weighted availability and Allocation its per-link share.
func (n *Node) GetConnected(dir Direction, ofType []string, tag string) Connected {
	c := Connected{Allocation: make(map[string]float64)}
	for _, l := range n.directionArcs(dir, ofType) {
		var avail float64
		if dir == Push {
			avail = l.SendPushCheck(nil, tag).Volume
		} else {
			avail = l.SendPullCheck(nil, tag).Volume
		}
		c.Avail += avail
		w := avail * l.Preference()
		c.Priority += w
		c.Allocation[l.Name()] = w
	}
	return c
}

type candidate struct {
	link   NetworkLink
	avail  model.Parcel
	weight float64
}

func (n *Node) candidates(dir Direction, ofType []string, v *model.Parcel, tag string) ([]candidate, float64) {
	var (
		out   []candidate
		total float64
	)
	for _, l := range n.directionArcs(dir, ofType) {
		var avail model.Parcel
		if dir == Push {
			avail = l.SendPushCheck(v, tag)
		} else {
			avail = l.SendPullCheck(nil, tag)
		}
		if avail.Volume < n.cfg.Accuracy() || l.Preference() <= 0 {
			continue
		}
		w := avail.Volume * l.Preference()
		out = append(out, candidate{link: l, avail: avail, weight: w})
		total += w
	}
	return out, total
}

// PushDistributed splits v across the outgoing links in proportion to
// preference × availability, repeating for at most MaxIter passes while
// water remains. It returns what could not be pushed.
func (n *Node) PushDistributed(v model.Parcel, ofType []string, tag string) model.Parcel {
	eps := n.cfg.Accuracy()
	notPushed := n.cfg.Clone(v)
	for iter := 0; notPushed.Volume > eps && iter < MaxIter; iter++ {
		snapshot := n.cfg.Clone(notPushed)
		cands, total := n.candidates(Push, ofType, &snapshot, tag)
		if total < eps {
			break
		}
		for _, c := range cands {
			amount := math.Min(snapshot.Volume*c.weight/total, c.avail.Volume)
			if amount < eps {
				continue
			}
			send := n.cfg.VChange(snapshot, amount)
			reply := c.link.SendPushRequest(send, tag, false)
			notPushed = n.cfg.Sum(n.cfg.Extract(notPushed, send), reply)
		}
	}
	return notPushed
}

// PullDistributed draws up to v.Volume from the incoming links in proportion
// to preference × availability and returns what was pulled.
func (n *Node) PullDistributed(v model.Parcel, ofType []string, tag string) model.Parcel {
	eps := n.cfg.Accuracy()
	pulled := n.cfg.Empty()
	remaining := v.Volume
	for iter := 0; remaining > eps && iter < MaxIter; iter++ {
		cands, total := n.candidates(Pull, ofType, nil, tag)
		if total < eps {
			break
		}
		want := remaining
		for _, c := range cands {
			amount := math.Min(want*c.weight/total, c.avail.Volume)
			if amount < eps {
				continue
			}
			got := c.link.SendPullRequest(n.cfg.VChange(c.avail, amount), tag)
			pulled = n.cfg.Sum(pulled, got)
			remaining -= got.Volume
		}
	}
	return pulled
}
