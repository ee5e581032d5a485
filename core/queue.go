package core

import (
	"math"
	"sort"

	"github.com/signalsfoundry/watershed-simulator/model"
)

// Direction is the transfer direction a queued parcel travels in.
type Direction int

const (
	Push Direction = iota
	Pull
)

func (d Direction) String() string {
	if d == Pull {
		return "pull"
	}
	return "push"
}

// QueueEntry is one parcel in transit.
type QueueEntry struct {
	Parcel      model.Parcel
	Remaining   int
	Direction   Direction
	Tag         string
	AverageFlow float64
}

// deliverFunc hands a ready parcel to the receiving port and returns the part
// it rejected.
type deliverFunc func(p model.Parcel, tag string) model.Parcel

// releaseResult is what a queue release changed in the owning link's
// transients.
type releaseResult struct {
	delivered   model.Parcel
	returned    model.Parcel
	flowOut     float64
	revokedFlow float64
}

// transitQueue holds parcels between entry and delivery.
type transitQueue interface {
	enter(e QueueEntry)
	release(dir Direction, deliver deliverFunc, backflow bool) releaseResult
	tick(decay func(model.Parcel) model.Parcel)
	total() model.Parcel
	snapshot() []QueueEntry
	clear()
}

// entryQueue tracks every request individually.
type entryQueue struct {
	cfg     *model.Config
	entries []*QueueEntry
}

func newEntryQueue(cfg *model.Config) *entryQueue { return &entryQueue{cfg: cfg} }

func (q *entryQueue) enter(e QueueEntry) {
	e.Parcel = q.cfg.Clone(e.Parcel)
	q.entries = append(q.entries, &e)
}

func (q *entryQueue) release(dir Direction, deliver deliverFunc, backflow bool) releaseResult {
	res := releaseResult{delivered: q.cfg.Empty(), returned: q.cfg.Empty()}
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Remaining > 0 || e.Direction != dir {
			kept = append(kept, e)
			continue
		}
		vol := e.Parcel.Volume
		removed := vol
		if dir == Push {
			rejected := deliver(e.Parcel, e.Tag)
			removed = math.Max(vol-rejected.Volume, 0)
		}
		if vol > 0 {
			res.flowOut += e.AverageFlow * removed / vol
		}
		res.delivered = q.cfg.Sum(res.delivered, q.cfg.VChange(e.Parcel, removed))

		rest := q.cfg.VChange(e.Parcel, vol-removed)
		if backflow || rest.Volume < q.cfg.Accuracy() {
			if vol > 0 {
				res.revokedFlow += e.AverageFlow * rest.Volume / vol
			}
			res.returned = q.cfg.Sum(res.returned, rest)
			continue
		}
		e.Parcel = rest
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return res
}

func (q *entryQueue) tick(decay func(model.Parcel) model.Parcel) {
	for _, e := range q.entries {
		if decay != nil {
			e.Parcel = decay(e.Parcel)
		}
		if e.Remaining > 0 {
			e.Remaining--
		}
	}
}

func (q *entryQueue) total() model.Parcel {
	out := q.cfg.Empty()
	for _, e := range q.entries {
		out = q.cfg.Sum(out, e.Parcel)
	}
	return out
}

func (q *entryQueue) snapshot() []QueueEntry {
	out := make([]QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		c := *e
		c.Parcel = q.cfg.Clone(e.Parcel)
		out = append(out, c)
	}
	return out
}

func (q *entryQueue) clear() { q.entries = nil }

// bucketQueue sums push entries by remaining travel time. Buckets are only
// allocated when a travel time is first seen and maxTravel bounds the shift.
type bucketQueue struct {
	cfg       *model.Config
	buckets   map[int]model.Parcel
	maxTravel int
}

func newBucketQueue(cfg *model.Config) *bucketQueue {
	return &bucketQueue{cfg: cfg, buckets: map[int]model.Parcel{0: cfg.Empty()}}
}

func (q *bucketQueue) enter(e QueueEntry) {
	b, ok := q.buckets[e.Remaining]
	if !ok {
		b = q.cfg.Empty()
	}
	q.buckets[e.Remaining] = q.cfg.Sum(b, e.Parcel)
	if e.Remaining > q.maxTravel {
		q.maxTravel = e.Remaining
	}
}

// release only serves push. Entries that are refused stay in bucket zero.
func (q *bucketQueue) release(dir Direction, deliver deliverFunc, _ bool) releaseResult {
	res := releaseResult{delivered: q.cfg.Empty(), returned: q.cfg.Empty()}
	ready := q.buckets[0]
	if dir != Push || ready.Volume < q.cfg.Accuracy() {
		return res
	}
	reply := deliver(ready, DefaultTag)
	removed := q.cfg.Extract(ready, reply)
	res.delivered = removed
	res.flowOut = removed.Volume
	q.buckets[0] = reply
	return res
}

func (q *bucketQueue) tick(decay func(model.Parcel) model.Parcel) {
	if decay != nil {
		for k, b := range q.buckets {
			q.buckets[k] = decay(b)
		}
	}
	next := make(map[int]model.Parcel, len(q.buckets))
	next[0] = q.cfg.Sum(q.bucket(0), q.bucket(1))
	for i := 1; i < q.maxTravel; i++ {
		next[i] = q.bucket(i + 1)
	}
	if q.maxTravel > 0 {
		next[q.maxTravel] = q.cfg.Empty()
	}
	q.buckets = next
}

func (q *bucketQueue) bucket(i int) model.Parcel {
	if b, ok := q.buckets[i]; ok {
		return b
	}
	return q.cfg.Empty()
}

func (q *bucketQueue) total() model.Parcel {
	out := q.cfg.Empty()
	for _, k := range q.keys() {
		out = q.cfg.Sum(out, q.buckets[k])
	}
	return out
}

func (q *bucketQueue) snapshot() []QueueEntry {
	var out []QueueEntry
	for _, k := range q.keys() {
		b := q.buckets[k]
		if b.Volume == 0 {
			continue
		}
		out = append(out, QueueEntry{
			Parcel:    q.cfg.Clone(b),
			Remaining: k,
			Direction: Push,
			Tag:       DefaultTag,
		})
	}
	return out
}

func (q *bucketQueue) keys() []int {
	keys := make([]int, 0, len(q.buckets))
	for k := range q.buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (q *bucketQueue) clear() {
	q.buckets = map[int]model.Parcel{0: q.cfg.Empty()}
	q.maxTravel = 0
}
