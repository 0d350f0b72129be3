package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
)

// TestIntegration_HeadlessReplay runs a short replay end to end and checks
// the written snapshot.
func TestIntegration_HeadlessReplay(t *testing.T) {
	dir := t.TempDir()
	impulses := filepath.Join(dir, "impulses.json")
	if err := os.WriteFile(impulses, []byte(`{"L":{"steps":[5],"x":[0.2],"y":[0.5],"z":[0]}}`), 0o644); err != nil {
		t.Fatalf("write impulses: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), options{
		Ticks:        60,
		Interval:     time.Millisecond,
		Window:       10,
		RenderDelay:  4,
		ImpulsesPath: impulses,
		SnapshotDir:  filepath.Join(dir, "snaps"),
	}, logging.Noop(), &out)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Replay complete") {
		t.Fatalf("output missing completion line:\n%s", out.String())
	}

	matches, err := filepath.Glob(filepath.Join(dir, "snaps", "step-*.alv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("snapshots written = %v (%v), want exactly one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if _, err := snapshot.Decode(data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
}

func TestLoadImpulsesRejectsUnknownActor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"X":{}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadImpulses(path); err == nil {
		t.Fatalf("loadImpulses() succeeded for unknown actor")
	}
}
