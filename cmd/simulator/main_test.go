package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/watershed-simulator/internal/config"
	"github.com/signalsfoundry/watershed-simulator/internal/logging"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root, err := newRootCmd(&stdout, &stderr)
	if err != nil {
		t.Fatalf("newRootCmd: %v", err)
	}
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// TestRunSampleScenario drives the shipped valley scenario end to end.
func TestRunSampleScenario(t *testing.T) {
	stdout, stderr, err := executeCLI(t, "run",
		"--scenario", filepath.Join("..", "..", "configs", "valley.yaml"),
		"--steps", "6",
		"--log-format", "json",
	)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "steps: 6") {
		t.Fatalf("expected six steps in summary, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "mass balance discrepancies: 0") {
		t.Fatalf("expected a balanced run, got:\n%s\nstderr:\n%s", stdout, stderr)
	}
	if !strings.Contains(stdout, "sea") {
		t.Fatalf("expected the outlet in the summary, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, `"run_id"`) {
		t.Fatalf("expected run-scoped json logs, got:\n%s", stderr)
	}
}

func TestRunRequiresScenario(t *testing.T) {
	t.Setenv("WATERSIM_SCENARIO", "")
	if _, _, err := executeCLI(t, "run"); err == nil {
		t.Fatalf("expected an error without --scenario")
	}
}

func TestRunFailsOnMissingForcingData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dry.json")
	doc := `{"nodes": [{"name": "hills", "type": "catchment"}, {"name": "sea", "type": "waste"}],
	         "arcs": [{"name": "hills-sea", "in_port": "hills", "out_port": "sea"}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	_, stderr, err := executeCLI(t, "run", "--scenario", path, "--steps", "1")
	if err == nil {
		t.Fatalf("expected missing flow to fail the run")
	}
	if !strings.Contains(stderr, "simulation failed") {
		t.Fatalf("expected failure to be logged, got:\n%s", stderr)
	}
}

func TestSimulateReportsOutlets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pond.toml")
	doc := `
[[nodes]]
name = "pond"
type = "storage"
[nodes.params]
capacity = 100
initial_storage = 30

[[nodes]]
name = "drain"
type = "waste"

[[arcs]]
name = "pond-drain"
in_port = "pond"
out_port = "drain"
capacity = 10
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	cfg := config.Run{
		Scenario:         path,
		Steps:            2,
		Start:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Tick:             time.Hour,
		CheckMassBalance: true,
	}
	summary, err := simulate(context.Background(), cfg, logging.Noop())
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if summary.Steps != 2 || summary.Discrepancies != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := summary.Outlets["drain"].Volume; got != 20 {
		t.Fatalf("drain received %v, want 20", got)
	}
}

func TestTypesListsRegisteredFactories(t *testing.T) {
	stdout, _, err := executeCLI(t, "types")
	if err != nil {
		t.Fatalf("types: %v", err)
	}
	for _, want := range []string{"catchment", "storage", "waste", "queue_arc", "decay_arc"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in:\n%s", want, stdout)
		}
	}
}
