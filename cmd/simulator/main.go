package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/alive-physics/internal/config"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/rpc"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/model"
	"github.com/signalsfoundry/alive-physics/rooms"
	"github.com/signalsfoundry/alive-physics/timectrl"
)

// options drives one headless replay.
type options struct {
	Ticks        uint32
	Interval     time.Duration
	Window       uint32
	RenderDelay  uint32
	ImpulsesPath string
	SnapshotDir  string
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ticks := flag.Uint("ticks", 120, "number of clock ticks to run")
	interval := flag.Duration("interval", time.Millisecond, "wall-clock duration of one tick")
	impulsesPath := flag.String("impulses", "", "JSON file of per-actor impulse arrays keyed by actor letter")
	snapshotDir := flag.String("snapshot-dir", cfg.SnapshotDir, "directory the final canonical snapshot is written to (empty skips)")
	delay := flag.Uint("render-delay", uint(cfg.RenderDelay), "steps the render cursor trails the clock")
	flag.Parse()

	opts := options{
		Ticks:        uint32(*ticks),
		Interval:     *interval,
		Window:       cfg.Window,
		RenderDelay:  uint32(*delay),
		ImpulsesPath: *impulsesPath,
		SnapshotDir:  *snapshotDir,
	}
	if err := run(context.Background(), opts, logging.NewFromEnv(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

func loadImpulses(path string) (model.ImpulseArrays, error) {
	if path == "" {
		return model.ImpulseArrays{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ImpulseArrays{}, err
	}
	var wire rpc.Impulses
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.ImpulseArrays{}, fmt.Errorf("parse impulses %q: %w", path, err)
	}
	return wire.ToArrays()
}

// run ticks a step clock, renders every tick at the follower's step through
// a windowed advancer and prints actor A's pose. The final canonical state
// is written to opts.SnapshotDir.
func run(ctx context.Context, opts options, log logging.Logger, out io.Writer) error {
	arrays, err := loadImpulses(opts.ImpulsesPath)
	if err != nil {
		return err
	}

	dir := rooms.NewDirectory(rooms.WithWindow(opts.Window), rooms.WithLogger(log))
	room, err := dir.Open(ctx, "simulator")
	if err != nil {
		return err
	}

	clock := timectrl.NewStepController(0, opts.Interval)
	follower := timectrl.NewFollower(opts.RenderDelay)

	var (
		renderErr error
		rendered  int
	)
	clock.AddListener(func(origin uint32) {
		if renderErr != nil {
			return
		}
		step := follower.Advance(origin)
		res, err := room.PosesForStep(ctx, step, arrays)
		if err != nil {
			renderErr = err
			return
		}
		if res.Stale {
			fmt.Fprintf(out, "[%4d] render %4d stale (cursor %d)\n", origin, step, res.Cursor)
			return
		}
		rendered++
		a := res.Poses.Get(model.ActorA)
		fmt.Fprintf(out, "[%4d] render %4d cursor %4d A @ (%.3f, %.3f, %.3f)\n",
			origin, step, res.Cursor, a.Translation.X(), a.Translation.Y(), a.Translation.Z())
	})

	fmt.Fprintf(out, "Starting replay: ticks=%d interval=%s window=%d delay=%d\n",
		opts.Ticks, opts.Interval, opts.Window, opts.RenderDelay)
	<-clock.Start(ctx, opts.Ticks)
	if renderErr != nil {
		return renderErr
	}

	data, step, digest, err := room.Store().Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Replay complete: %d frames rendered, canonical step %d, digest %016x\n", rendered, step, digest)

	if opts.SnapshotDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.SnapshotDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(opts.SnapshotDir, fmt.Sprintf("step-%08d.alv", step))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if _, err := snapshot.Decode(data); err != nil {
		return fmt.Errorf("written snapshot does not decode: %w", err)
	}
	fmt.Fprintf(out, "Wrote snapshot %s (%d bytes)\n", path, len(data))
	return nil
}
