package window

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/registry"
	"github.com/signalsfoundry/alive-physics/internal/sim/state"
	"github.com/signalsfoundry/alive-physics/model"
)

func newTestAdvancer(t *testing.T, window uint32, opts ...Option) *Advancer {
	t.Helper()
	store, err := state.NewColdStore(logging.Noop())
	if err != nil {
		t.Fatalf("NewColdStore() error = %v", err)
	}
	a, err := New(store, window, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func impulseAt(actor model.Actor, steps ...uint32) model.ImpulseArrays {
	var arrays model.ImpulseArrays
	for _, step := range steps {
		arrays.For(actor).Append(step, 0.25, 0.5, 0)
	}
	return arrays
}

// referencePoses steps a fresh scene straight to target with every impulse
// applied and reads the poses off it.
func referencePoses(t *testing.T, target uint32, arrays model.ImpulseArrays) []float32 {
	t.Helper()
	store, err := state.NewColdStore(logging.Noop())
	if err != nil {
		t.Fatalf("NewColdStore() error = %v", err)
	}
	sched, err := impulse.Build(arrays)
	if err != nil {
		t.Fatalf("impulse.Build() error = %v", err)
	}
	st, _ := store.Clone()
	if _, err := state.AdvanceState(st, 0, target, sched); err != nil {
		t.Fatalf("AdvanceState() error = %v", err)
	}
	reg, err := registry.Resolve(st)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	poses, err := reg.Poses(st)
	if err != nil {
		t.Fatalf("Poses() error = %v", err)
	}
	return poses.Flatten()
}

func digest(t *testing.T, a *Advancer) uint64 {
	t.Helper()
	d, _, err := a.Store().Digest()
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	return d
}

func TestCatchUpScenario(t *testing.T) {
	a := newTestAdvancer(t, 30)
	arrays := impulseAt(model.ActorA, 10)

	res, err := a.PosesForStep(context.Background(), 50, arrays)
	if err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if res.Stale {
		t.Fatalf("PosesForStep(50) stale, want rendered")
	}
	if res.CatchUp != 20 || res.Cursor != 20 || res.Rendered != 30 {
		t.Fatalf("catch_up/cursor/rendered = %d/%d/%d, want 20/20/30", res.CatchUp, res.Cursor, res.Rendered)
	}
	if got := a.Store().Cursor(); got != 20 {
		t.Fatalf("store cursor = %d, want 20", got)
	}

	got := res.Flatten()
	if len(got) != model.ActorCount*model.PoseFloats {
		t.Fatalf("len(Flatten()) = %d, want %d", len(got), model.ActorCount*model.PoseFloats)
	}
	want := referencePoses(t, 50, arrays)
	if !slices.Equal(got, want) {
		t.Fatalf("windowed poses differ from a straight run:\n got %v\nwant %v", got, want)
	}

	// The step-10 impulse must actually have landed: both A's rendered pose
	// and the canonical state at cursor 20 differ from an undisturbed run.
	quiet := newTestAdvancer(t, 30)
	quietRes, err := quiet.PosesForStep(context.Background(), 50, model.ImpulseArrays{})
	if err != nil {
		t.Fatalf("PosesForStep() without impulses error = %v", err)
	}
	quietFlat := quietRes.Flatten()
	a0 := model.ActorA.Index() * model.PoseFloats
	if slices.Equal(got[a0:a0+model.PoseFloats], quietFlat[a0:a0+model.PoseFloats]) {
		t.Fatalf("actor A pose at 50 matches the run without impulses: %v", got[a0:a0+model.PoseFloats])
	}
	if quiet.Store().Cursor() != 20 {
		t.Fatalf("undisturbed store cursor = %d, want 20", quiet.Store().Cursor())
	}
	if digest(t, a) == digest(t, quiet) {
		t.Fatalf("canonical digest at cursor 20 ignores the step-10 impulse")
	}
}

func TestStaleTargets(t *testing.T) {
	a := newTestAdvancer(t, 30)
	ctx := context.Background()
	if _, err := a.PosesForStep(ctx, 50, impulseAt(model.ActorA, 10)); err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	before := digest(t, a)

	for _, target := range []uint32{20, 19, 0} {
		res, err := a.PosesForStep(ctx, target, model.ImpulseArrays{})
		if err != nil {
			t.Fatalf("PosesForStep(%d) error = %v", target, err)
		}
		if !res.Stale {
			t.Fatalf("PosesForStep(%d) not stale with cursor 20", target)
		}
		if res.Flatten() != nil {
			t.Fatalf("stale Flatten() = %v, want nil", res.Flatten())
		}
		if res.Cursor != 20 {
			t.Fatalf("stale result cursor = %d, want 20", res.Cursor)
		}
	}
	if digest(t, a) != before || a.Store().Cursor() != 20 {
		t.Fatalf("stale query mutated the canonical state")
	}
}

func TestStaleSkipsImpulseValidation(t *testing.T) {
	a := newTestAdvancer(t, 30)
	var arrays model.ImpulseArrays
	arrays.For(model.ActorL).Append(0, float32(math.NaN()), 0, 0)

	res, err := a.PosesForStep(context.Background(), 0, arrays)
	if err != nil {
		t.Fatalf("PosesForStep(0) error = %v", err)
	}
	if !res.Stale {
		t.Fatalf("PosesForStep(0) with cursor 0 not stale")
	}
}

func TestWindowBound(t *testing.T) {
	tests := []struct {
		name        string
		target      uint32
		wantCatchUp uint32
		wantRender  uint32
	}{
		{"one step", 1, 0, 1},
		{"exactly the window", 30, 0, 30},
		{"one past the window", 31, 1, 30},
		{"far ahead", 500, 470, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdvancer(t, 30)
			res, err := a.PosesForStep(context.Background(), tt.target, model.ImpulseArrays{})
			if err != nil {
				t.Fatalf("PosesForStep() error = %v", err)
			}
			if res.CatchUp != tt.wantCatchUp || res.Rendered != tt.wantRender {
				t.Fatalf("catch_up/rendered = %d/%d, want %d/%d", res.CatchUp, res.Rendered, tt.wantCatchUp, tt.wantRender)
			}
			if res.Rendered > a.Window() {
				t.Fatalf("rendered %d steps, window is %d", res.Rendered, a.Window())
			}
			if got := a.Store().Cursor(); got != tt.wantCatchUp {
				t.Fatalf("store cursor = %d, want %d", got, tt.wantCatchUp)
			}
		})
	}
}

func TestSpeculationDoesNotMutateCanonicalState(t *testing.T) {
	a := newTestAdvancer(t, 30)
	before := digest(t, a)

	res, err := a.PosesForStep(context.Background(), 25, impulseAt(model.ActorV, 3, 12))
	if err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if res.CatchUp != 0 {
		t.Fatalf("catch_up = %d, want 0", res.CatchUp)
	}
	if digest(t, a) != before || a.Store().Cursor() != 0 {
		t.Fatalf("speculative query changed the canonical state")
	}
}

func TestSpeculativeImpulsesAffectPosesOnly(t *testing.T) {
	ctx := context.Background()
	plain := newTestAdvancer(t, 30)
	pushed := newTestAdvancer(t, 30)

	p, err := plain.PosesForStep(ctx, 20, model.ImpulseArrays{})
	if err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	q, err := pushed.PosesForStep(ctx, 20, impulseAt(model.ActorE, 5))
	if err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if slices.Equal(p.Flatten(), q.Flatten()) {
		t.Fatalf("impulse inside the rendered range did not change the poses")
	}
	if digest(t, plain) != digest(t, pushed) {
		t.Fatalf("impulse inside the rendered range reached the canonical state")
	}
}

func TestQueriesAreDeterministic(t *testing.T) {
	ctx := context.Background()
	arrays := impulseAt(model.ActorI, 4, 33, 70)
	targets := []uint32{12, 45, 45, 90, 91, 140}

	run := func() [][]float32 {
		a := newTestAdvancer(t, 30)
		var out [][]float32
		for _, target := range targets {
			res, err := a.PosesForStep(ctx, target, arrays)
			if err != nil {
				t.Fatalf("PosesForStep(%d) error = %v", target, err)
			}
			out = append(out, res.Flatten())
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if !slices.Equal(first[i], second[i]) {
			t.Fatalf("query %d (target %d) differs between runs", i, targets[i])
		}
	}
}

func TestInvalidImpulseLeavesStoreUntouched(t *testing.T) {
	a := newTestAdvancer(t, 30)
	var arrays model.ImpulseArrays
	arrays.For(model.ActorA).Append(3, float32(math.Inf(1)), 0, 0)

	_, err := a.PosesForStep(context.Background(), 100, arrays)
	if !errors.Is(err, impulse.ErrInvalidImpulse) {
		t.Fatalf("PosesForStep() error = %v, want ErrInvalidImpulse", err)
	}
	if a.Store().Cursor() != 0 {
		t.Fatalf("store cursor = %d after rejected query, want 0", a.Store().Cursor())
	}
}

func TestInstallRewindsQueries(t *testing.T) {
	ctx := context.Background()
	a := newTestAdvancer(t, 30)
	data, step, err := a.Store().Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, err := a.PosesForStep(ctx, 80, model.ImpulseArrays{}); err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if err := a.Install(ctx, data, step); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	res, err := a.PosesForStep(ctx, 40, model.ImpulseArrays{})
	if err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if res.Stale || res.CatchUp != 10 {
		t.Fatalf("after install: stale=%v catch_up=%d, want rendered with catch_up 10", res.Stale, res.CatchUp)
	}
}

func TestNewValidation(t *testing.T) {
	store, err := state.NewColdStore(logging.Noop())
	if err != nil {
		t.Fatalf("NewColdStore() error = %v", err)
	}
	if _, err := New(store, 0, nil); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("New(window 0) error = %v, want ErrInvalidWindow", err)
	}
	if _, err := New(nil, DefaultWindow, nil); !errors.Is(err, state.ErrNilState) {
		t.Fatalf("New(nil store) error = %v, want ErrNilState", err)
	}
}

type queryRecord struct {
	result  string
	catchUp uint32
}

type stubRecorder struct {
	mu          sync.Mutex
	queries     []queryRecord
	speculative int
}

func (r *stubRecorder) ObserveAdvance(path string, steps, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speculative += steps
}

func (r *stubRecorder) ObserveQuery(result string, catchUp uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, queryRecord{result, catchUp})
}

func TestAdvancerMetrics(t *testing.T) {
	rec := &stubRecorder{}
	a := newTestAdvancer(t, 30, WithMetricsRecorder(rec))
	ctx := context.Background()

	if _, err := a.PosesForStep(ctx, 50, model.ImpulseArrays{}); err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}
	if _, err := a.PosesForStep(ctx, 5, model.ImpulseArrays{}); err != nil {
		t.Fatalf("PosesForStep() error = %v", err)
	}

	want := []queryRecord{{"rendered", 20}, {"stale", 0}}
	if !slices.Equal(rec.queries, want) {
		t.Fatalf("queries = %v, want %v", rec.queries, want)
	}
	if rec.speculative != 30 {
		t.Fatalf("speculative steps = %d, want 30", rec.speculative)
	}
}

func TestConcurrentQueries(t *testing.T) {
	a := newTestAdvancer(t, 30)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(offset uint32) {
			defer wg.Done()
			for target := uint32(10); target <= 120; target += 10 {
				if _, err := a.PosesForStep(ctx, target+offset, model.ImpulseArrays{}); err != nil {
					t.Errorf("PosesForStep() error = %v", err)
					return
				}
			}
		}(uint32(i))
	}
	wg.Wait()

	if got := a.Store().Cursor(); got != 93 {
		t.Fatalf("store cursor = %d, want 93", got)
	}
}
