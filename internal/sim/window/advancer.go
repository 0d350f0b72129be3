// Package window answers pose queries for a target step by keeping the
// canonical state within a fixed number of steps of the target and
// speculatively stepping a disposable clone the rest of the way.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/observability"
	"github.com/signalsfoundry/alive-physics/internal/registry"
	"github.com/signalsfoundry/alive-physics/internal/sim/state"
	"github.com/signalsfoundry/alive-physics/model"
)

// DefaultWindow is the speculative distance used when none is configured.
const DefaultWindow uint32 = 30

// ErrInvalidWindow is returned for a zero window.
var ErrInvalidWindow = errors.New("window must be positive")

// Result is the outcome of a pose query.
type Result struct {
	// Stale reports that the target was at or behind the canonical cursor.
	// Nothing else in a stale result except Target and Cursor is set.
	Stale bool

	Target uint32
	// Cursor is the canonical step after the query.
	Cursor uint32
	// CatchUp is the number of steps committed to the canonical state.
	CatchUp uint32
	// Rendered is the number of steps run on the throwaway clone.
	Rendered uint32

	Poses model.PoseSet
}

// Flatten returns 7 floats per actor in canonical order, or nil when the
// result is stale.
func (r Result) Flatten() []float32 {
	if r.Stale {
		return nil
	}
	return r.Poses.Flatten()
}

// MetricsRecorder receives speculative stepping and query measurements.
type MetricsRecorder interface {
	ObserveAdvance(path string, steps, impulses int, d time.Duration)
	ObserveQuery(result string, catchUp uint32)
}

// Option customises Advancer construction.
type Option func(*Advancer)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(a *Advancer) {
		a.metrics = m
	}
}

// Advancer serves pose queries against one canonical store.
type Advancer struct {
	// mu serialises queries and installs so the cursor read, catch-up and
	// clone of one query never interleave with another.
	mu sync.Mutex

	store   *state.Store
	window  uint32
	log     logging.Logger
	metrics MetricsRecorder
}

// New returns an advancer over store with the given window.
func New(store *state.Store, window uint32, log logging.Logger, opts ...Option) (*Advancer, error) {
	if store == nil {
		return nil, state.ErrNilState
	}
	if window == 0 {
		return nil, ErrInvalidWindow
	}
	if log == nil {
		log = logging.Noop()
	}
	a := &Advancer{
		store:  store,
		window: window,
		log:    log.With(logging.Room(store.Room())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Window returns the configured speculative distance.
func (a *Advancer) Window() uint32 { return a.window }

// Store returns the canonical store behind the advancer.
func (a *Advancer) Store() *state.Store { return a.store }

// PosesForStep returns the poses of all actors at target given the full
// impulse history in arrays.
//
// A target at or behind the canonical cursor yields a stale result without
// touching anything. Otherwise the canonical state is advanced just far
// enough that target lies at most Window steps ahead, a clone is stepped
// the remaining distance and the poses are read from the clone.
func (a *Advancer) PosesForStep(ctx context.Context, target uint32, arrays model.ImpulseArrays) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "window.PosesForStep", a.store.Room(),
		observability.AttrTarget.Int64(int64(target)))
	defer span.End()

	res, err := a.posesForStep(ctx, target, arrays)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.observeQuery(observability.ResultError, 0)
	case res.Stale:
		span.SetAttributes(attribute.Bool("physics.stale", true))
		a.observeQuery(observability.ResultStale, 0)
	default:
		span.SetAttributes(
			attribute.Int64("physics.catch_up", int64(res.CatchUp)),
			attribute.Int64("physics.rendered", int64(res.Rendered)),
		)
		a.observeQuery(observability.ResultRendered, res.CatchUp)
	}
	return res, err
}

func (a *Advancer) posesForStep(ctx context.Context, target uint32, arrays model.ImpulseArrays) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cursor := a.store.Cursor()
	if target <= cursor {
		a.log.Debug(ctx, "stale pose query",
			logging.Step("target", target),
			logging.Step("cursor", cursor),
		)
		return Result{Stale: true, Target: target, Cursor: cursor}, nil
	}

	sched, err := impulse.Build(arrays)
	if err != nil {
		return Result{}, err
	}
	if short := sched.Truncated(); len(short) > 0 {
		a.log.Warn(ctx, "impulse arrays of unequal length truncated",
			logging.Any("actors", short),
		)
	}

	distance := target - cursor
	var catchUp uint32
	if distance > a.window {
		catchUp = distance - a.window
	}
	if catchUp > 0 {
		if err := a.store.Advance(ctx, catchUp, sched.Range(cursor, cursor+catchUp)); err != nil {
			return Result{}, fmt.Errorf("canonical catch-up: %w", err)
		}
	}

	clone, from := a.store.Clone()
	if target <= from {
		return Result{Stale: true, Target: target, Cursor: from}, nil
	}
	render := target - from

	start := time.Now()
	applied, err := state.AdvanceState(clone, from, render, sched.Range(from, target))
	if err != nil {
		return Result{}, fmt.Errorf("speculative advance: %w", err)
	}
	if a.metrics != nil {
		a.metrics.ObserveAdvance(observability.PathSpeculative, int(render), applied, time.Since(start))
	}

	reg, err := registry.Resolve(clone)
	if err != nil {
		return Result{}, err
	}
	poses, err := reg.Poses(clone)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Target:   target,
		Cursor:   from,
		CatchUp:  catchUp,
		Rendered: render,
		Poses:    poses,
	}, nil
}

// Install replaces the canonical state with a snapshot taken at step,
// serialised against in-flight queries.
func (a *Advancer) Install(ctx context.Context, data []byte, step uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Install(ctx, data, step)
}

func (a *Advancer) observeQuery(result string, catchUp uint32) {
	if a.metrics != nil {
		a.metrics.ObserveQuery(result, catchUp)
	}
}
