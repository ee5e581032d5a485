// Package kb stores the forcing data nodes read each step: rainfall, flows,
// temperatures and constituent concentrations, keyed by node, variable and
// time.
package kb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrDataInputNotFound = errors.New("data input not found")
	ErrDataInputBadInput = errors.New("invalid data input")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSeriesUpdated EventType = iota
)

// Event is emitted to subscribers when a series changes.
type Event struct {
	Type     EventType
	Node     string
	Variable string
	Points   int
}

type seriesKey struct {
	node     string
	variable string
}

// KnowledgeBase is an in-memory, thread-safe forcing-data store. A variable
// is either a time series or a constant that holds at every time.
type KnowledgeBase struct {
	mu sync.RWMutex

	series    map[seriesKey]map[int64]float64
	constants map[seriesKey]float64

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		series:    make(map[seriesKey]map[int64]float64),
		constants: make(map[seriesKey]float64),
	}
}

func validKey(node, variable string) error {
	if node == "" || variable == "" {
		return fmt.Errorf("%w: node=%q variable=%q", ErrDataInputBadInput, node, variable)
	}
	return nil
}

// Set records one value.
func (kb *KnowledgeBase) Set(node, variable string, t time.Time, v float64) error {
	return kb.AddSeries(node, variable, []time.Time{t}, []float64{v})
}

// SetConstant records a value that holds at every time not covered by the
// variable's series.
func (kb *KnowledgeBase) SetConstant(node, variable string, v float64) error {
	if err := validKey(node, variable); err != nil {
		return err
	}
	kb.mu.Lock()
	kb.constants[seriesKey{node, variable}] = v
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSeriesUpdated, Node: node, Variable: variable})
	return nil
}

// AddSeries merges paired times and values into a variable's series.
func (kb *KnowledgeBase) AddSeries(node, variable string, times []time.Time, values []float64) error {
	if err := validKey(node, variable); err != nil {
		return err
	}
	if len(times) != len(values) {
		return fmt.Errorf("%w: %d times but %d values", ErrDataInputBadInput, len(times), len(values))
	}

	kb.mu.Lock()
	key := seriesKey{node, variable}
	s, ok := kb.series[key]
	if !ok {
		s = make(map[int64]float64, len(times))
		kb.series[key] = s
	}
	for i, t := range times {
		s[t.Unix()] = values[i]
	}
	event := Event{Type: EventSeriesUpdated, Node: node, Variable: variable, Points: len(s)}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}

// DataInput returns the value of a node's variable at t. A series value at
// exactly t wins over a constant.
func (kb *KnowledgeBase) DataInput(node, variable string, t time.Time) (float64, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	key := seriesKey{node, variable}
	if s, ok := kb.series[key]; ok {
		if v, ok := s[t.Unix()]; ok {
			return v, nil
		}
	}
	if v, ok := kb.constants[key]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: node %q variable %q at %s", ErrDataInputNotFound, node, variable, t.Format(time.RFC3339))
}

// Variables lists the variables known for node, sorted.
func (kb *KnowledgeBase) Variables(node string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	seen := make(map[string]bool)
	for k := range kb.series {
		if k.node == node {
			seen[k.variable] = true
		}
	}
	for k := range kb.constants {
		if k.node == node {
			seen[k.variable] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// LoadCSV reads node,variable,time,value rows after a header line. An empty
// time cell records a constant. It returns the number of rows loaded.
func (kb *KnowledgeBase) LoadCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"node", "variable", "time", "value"} {
		if _, ok := cols[want]; !ok {
			return 0, fmt.Errorf("%w: missing column %q", ErrDataInputBadInput, want)
		}
	}

	rows := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("row %d: %w", rows+1, err)
		}
		node, variable := rec[cols["node"]], rec[cols["variable"]]
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["value"]]), 64)
		if err != nil {
			return rows, fmt.Errorf("%w: row %d value: %v", ErrDataInputBadInput, rows+1, err)
		}
		if ts := strings.TrimSpace(rec[cols["time"]]); ts == "" {
			err = kb.SetConstant(node, variable, v)
		} else {
			t, perr := parseTime(ts)
			if perr != nil {
				return rows, fmt.Errorf("%w: row %d: %v", ErrDataInputBadInput, rows+1, perr)
			}
			err = kb.Set(node, variable, t, v)
		}
		if err != nil {
			return rows, fmt.Errorf("row %d: %w", rows+1, err)
		}
		rows++
	}
}
