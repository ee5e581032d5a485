package kb

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var day0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func TestSetAndDataInput(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.Set("river-1", "temperature", day0, 11.5); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := store.DataInput("river-1", "temperature", day0)
	if err != nil || got != 11.5 {
		t.Fatalf("DataInput = %v, %v; want 11.5", got, err)
	}
}

func TestDataInputMissing(t *testing.T) {
	store := NewKnowledgeBase()
	_, err := store.DataInput("river-1", "temperature", day0)
	if !errors.Is(err, ErrDataInputNotFound) {
		t.Fatalf("expected ErrDataInputNotFound, got %v", err)
	}
}

func TestConstantFallback(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.SetConstant("river-1", "temperature", 10); err != nil {
		t.Fatalf("SetConstant error: %v", err)
	}
	if err := store.Set("river-1", "temperature", day0, 4); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got, _ := store.DataInput("river-1", "temperature", day0); got != 4 {
		t.Fatalf("series value = %v, want 4", got)
	}
	if got, _ := store.DataInput("river-1", "temperature", day0.AddDate(0, 0, 3)); got != 10 {
		t.Fatalf("constant value = %v, want 10", got)
	}
}

func TestAddSeriesValidation(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddSeries("", "flow", nil, nil); !errors.Is(err, ErrDataInputBadInput) {
		t.Fatalf("expected bad input for empty node, got %v", err)
	}
	if err := store.AddSeries("c1", "flow", []time.Time{day0}, nil); !errors.Is(err, ErrDataInputBadInput) {
		t.Fatalf("expected bad input for length mismatch, got %v", err)
	}
}

func TestLoadCSV(t *testing.T) {
	const data = `node,variable,time,value
# forcing for the upland catchment
c1,flow,2024-03-01,12.5
c1,flow,2024-03-02T00:00:00Z,8
c1,phosphate,,0.002
`
	store := NewKnowledgeBase()
	n, err := store.LoadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("LoadCSV error: %v", err)
	}
	if n != 3 {
		t.Fatalf("LoadCSV rows = %d, want 3", n)
	}
	if got, _ := store.DataInput("c1", "flow", day0.AddDate(0, 0, 1)); got != 8 {
		t.Fatalf("flow day 2 = %v, want 8", got)
	}
	if got, _ := store.DataInput("c1", "phosphate", day0.AddDate(1, 0, 0)); got != 0.002 {
		t.Fatalf("phosphate constant = %v, want 0.002", got)
	}
	vars := store.Variables("c1")
	if len(vars) != 2 || vars[0] != "flow" || vars[1] != "phosphate" {
		t.Fatalf("Variables = %v", vars)
	}
}

func TestLoadCSVRejectsBadRows(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.LoadCSV(strings.NewReader("node,variable,value\n")); !errors.Is(err, ErrDataInputBadInput) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	if _, err := store.LoadCSV(strings.NewReader("node,variable,time,value\nc1,flow,yesterday,1\n")); !errors.Is(err, ErrDataInputBadInput) {
		t.Fatalf("expected bad time error, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) { got = append(got, e) })

	if err := store.AddSeries("c1", "flow", []time.Time{day0, day0.AddDate(0, 0, 1)}, []float64{1, 2}); err != nil {
		t.Fatalf("AddSeries error: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventSeriesUpdated || got[0].Points != 2 {
		t.Fatalf("events = %#v", got)
	}

	unsubscribe()
	_ = store.Set("c1", "flow", day0, 3)
	if len(got) != 1 {
		t.Fatalf("received event after unsubscribe: %#v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.DataInput("c1", "flow", day0)
			_ = store.Variables("c1")
		}()
		go func() {
			defer wg.Done()
			_ = store.Set("c1", "flow", day0, float64(i))
		}()
	}
	wg.Wait()
}
