package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNodeExists       = errors.New("node already exists")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNodeBadInput     = errors.New("invalid node")
	ErrEmptyNodeName    = errors.New("empty node name")
	ErrLinkExists       = errors.New("link already exists")
	ErrLinkNotFound     = errors.New("link not found")
	ErrLinkBadInput     = errors.New("invalid link")
	ErrEmptyLinkName    = errors.New("empty link name")
	ErrEndpointMiss     = errors.New("link references unknown node")
	ErrSealed           = errors.New("network is sealed")
	ErrDecayBadInput    = errors.New("invalid decay configuration")
	ErrOverrideBadValue = errors.New("invalid override value")
	ErrNoDataInputs     = errors.New("no data inputs")
)

// KnowledgeBase is the network registry: nodes and links by name in
// registration order, plus nodes grouped by category. It is append-only
// while the network is built and read-only once sealed.
//
// Access is guarded by an RWMutex so read-side queries may come from other
// goroutines (metrics, CLI reporting) while a run is stepping.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes      map[string]NetworkNode
	nodeOrder  []string
	links      map[string]NetworkLink
	linkOrder  []string
	byCategory map[string][]string

	sealed         bool
	dischargeOrder []string
	ranks          map[string]int
}

// NewKnowledgeBase creates an empty network registry.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:      make(map[string]NetworkNode),
		links:      make(map[string]NetworkLink),
		byCategory: make(map[string][]string),
	}
}

//
// ---------- Nodes ----------
//

// AddNode registers n under its name.
func (kb *KnowledgeBase) AddNode(n NetworkNode) error {
	if n == nil {
		return fmt.Errorf("%w", ErrNodeBadInput)
	}
	if n.Name() == "" {
		return fmt.Errorf("%w", ErrEmptyNodeName)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.sealed {
		return fmt.Errorf("%w: cannot add node %q", ErrSealed, n.Name())
	}
	if _, exists := kb.nodes[n.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.Name())
	}
	kb.nodes[n.Name()] = n
	kb.nodeOrder = append(kb.nodeOrder, n.Name())
	kb.byCategory[n.Category()] = append(kb.byCategory[n.Category()], n.Name())
	return nil
}

// GetNode returns a node by name, or nil if not found.
func (kb *KnowledgeBase) GetNode(name string) NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[name]
}

// Nodes returns every node in registration order.
func (kb *KnowledgeBase) Nodes() []NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]NetworkNode, 0, len(kb.nodeOrder))
	for _, name := range kb.nodeOrder {
		out = append(out, kb.nodes[name])
	}
	return out
}

// NodesByCategory returns the nodes of one category in registration order.
func (kb *KnowledgeBase) NodesByCategory(category string) []NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	names := kb.byCategory[category]
	out := make([]NetworkNode, 0, len(names))
	for _, name := range names {
		out = append(out, kb.nodes[name])
	}
	return out
}

//
// ---------- Links ----------
//

// AddLink registers l. Both endpoints must already be registered nodes.
func (kb *KnowledgeBase) AddLink(l NetworkLink) error {
	if l == nil || l.InPort() == nil || l.OutPort() == nil {
		return fmt.Errorf("%w", ErrLinkBadInput)
	}
	if l.Name() == "" {
		return fmt.Errorf("%w", ErrEmptyLinkName)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.sealed {
		return fmt.Errorf("%w: cannot add link %q", ErrSealed, l.Name())
	}
	if _, exists := kb.links[l.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrLinkExists, l.Name())
	}
	for _, end := range []string{l.InPort().Name(), l.OutPort().Name()} {
		if _, ok := kb.nodes[end]; !ok {
			return fmt.Errorf("%w: link %q -> %q", ErrEndpointMiss, l.Name(), end)
		}
	}
	kb.links[l.Name()] = l
	kb.linkOrder = append(kb.linkOrder, l.Name())
	return nil
}

// GetLink returns a link by name, or nil if not found.
func (kb *KnowledgeBase) GetLink(name string) NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.links[name]
}

// Links returns every link in registration order.
func (kb *KnowledgeBase) Links() []NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]NetworkLink, 0, len(kb.linkOrder))
	for _, name := range kb.linkOrder {
		out = append(out, kb.links[name])
	}
	return out
}

//
// ---------- Sealing & discharge order ----------
//

// Seal freezes the registries and computes the discharge order. Sealing
// twice is a no-op.
func (kb *KnowledgeBase) Seal() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.sealed {
		return
	}
	kb.ranks = kb.upstreamRanks()
	kb.dischargeOrder = kb.orderByRank(kb.ranks)
	kb.sealed = true
}

// Sealed reports whether Seal has run.
func (kb *KnowledgeBase) Sealed() bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.sealed
}

// DischargeOrder returns every ranked node, most upstream first. Nodes that
// cannot reach an outlet are not ranked and not listed.
func (kb *KnowledgeBase) DischargeOrder() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]string(nil), kb.dischargeOrder...)
}

// Rank returns a node's upstream rank and whether it has one.
func (kb *KnowledgeBase) Rank(name string) (int, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	r, ok := kb.ranks[name]
	return r, ok
}

// upstreamRanks gives outlets rank 0, then on each pass gives every unranked
// node feeding a ranked node the pass's max rank + 1, until nothing changes.
// Outlets are waste nodes and nodes without outgoing links.
func (kb *KnowledgeBase) upstreamRanks() map[string]int {
	hasOut := make(map[string]bool)
	for _, name := range kb.linkOrder {
		hasOut[kb.links[name].InPort().Name()] = true
	}

	rank := make(map[string]int)
	for _, name := range kb.nodeOrder {
		if kb.nodes[name].Category() == CategoryWaste || !hasOut[name] {
			rank[name] = 0
		}
	}

	for {
		maxRank := 0
		for _, r := range rank {
			if r > maxRank {
				maxRank = r
			}
		}
		var found []string
		for _, lname := range kb.linkOrder {
			l := kb.links[lname]
			up, down := l.InPort().Name(), l.OutPort().Name()
			if _, ranked := rank[down]; !ranked {
				continue
			}
			if _, ranked := rank[up]; ranked {
				continue
			}
			found = append(found, up)
		}
		if len(found) == 0 {
			return rank
		}
		for _, name := range found {
			rank[name] = maxRank + 1
		}
	}
}

func (kb *KnowledgeBase) orderByRank(rank map[string]int) []string {
	out := make([]string, 0, len(rank))
	for _, name := range kb.nodeOrder {
		if _, ok := rank[name]; ok {
			out = append(out, name)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i]] > rank[out[j]] })
	return out
}
