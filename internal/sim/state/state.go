// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/alive-physics/core"
	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/observability"
	"github.com/signalsfoundry/alive-physics/internal/registry"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
)

var (
	// ErrStepOverflow indicates an advance would wrap the 32-bit step cursor.
	ErrStepOverflow = errors.New("step cursor overflow")
	// ErrNilState indicates a nil state was offered for installation.
	ErrNilState = errors.New("nil state")
)

// Store holds the canonical simulation state of one room and the step its
// contents correspond to. Every mutation happens under an exclusive lock;
// reads that copy state out take the shared lock.
type Store struct {
	// mu guards state and cursor.
	mu sync.RWMutex

	// state is the canonical world. It is only ever replaced by Install or
	// mutated by Advance.
	state *core.State

	// cursor is the step the canonical world has reached.
	cursor uint32

	// room labels logs, spans and metrics.
	room string

	// codec serializes snapshots.
	codec snapshot.Codec

	// log is an optional structured logger for store-level events.
	log logging.Logger

	// metrics is an optional recorder for stepping and snapshot metrics.
	metrics MetricsRecorder
}

// MetricsRecorder receives stepping and snapshot measurements.
type MetricsRecorder interface {
	ObserveAdvance(path string, steps, impulses int, d time.Duration)
	SetCursor(room string, cursor uint32)
	ObserveSnapshot(room, op string, size int, d time.Duration)
}

// Option customises Store construction.
type Option func(*Store)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithCodec overrides the snapshot codec.
func WithCodec(c snapshot.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithRoom names the room the store belongs to.
func WithRoom(room string) Option {
	return func(s *Store) {
		s.room = room
	}
}

// NewStore takes ownership of initial, whose contents correspond to cursor.
func NewStore(initial *core.State, cursor uint32, log logging.Logger, opts ...Option) *Store {
	if log == nil {
		log = logging.Noop()
	}
	s := &Store{
		state:  initial,
		cursor: cursor,
		codec:  snapshot.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.With(logging.Room(s.room))
	s.publishCursor(cursor)
	return s
}

// NewColdStore returns a store holding the freshly built scene at step 0.
func NewColdStore(log logging.Logger, opts ...Option) (*Store, error) {
	scene, err := core.NewScene()
	if err != nil {
		return nil, fmt.Errorf("build scene: %w", err)
	}
	return NewStore(scene, 0, log, opts...), nil
}

// Room returns the store's room name.
func (s *Store) Room() string { return s.room }

// Codec returns the snapshot codec in use.
func (s *Store) Codec() snapshot.Codec { return s.codec }

// Cursor returns the current canonical step.
func (s *Store) Cursor() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Advance steps the canonical state forward by steps, applying every
// impulse in sched keyed at a step in [cursor, cursor+steps) immediately
// before that step's integration. Registry violations are detected before
// any mutation and leave the store untouched.
func (s *Store) Advance(ctx context.Context, steps uint32, sched *impulse.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, "state.Advance", s.room, observability.AttrSteps.Int64(int64(steps)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.cursor
	if uint64(from)+uint64(steps) > math.MaxUint32 {
		err := fmt.Errorf("%w: cursor %d + %d steps", ErrStepOverflow, from, steps)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(observability.AttrCursor.Int64(int64(from)))

	start := time.Now()
	applied, err := AdvanceState(s.state, from, steps, sched)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error(ctx, "canonical advance failed",
			logging.Step("cursor", from),
			logging.Step("steps", steps),
			logging.Err(err),
		)
		return err
	}
	s.cursor = from + steps
	if s.metrics != nil {
		s.metrics.ObserveAdvance(observability.PathCanonical, int(steps), applied, time.Since(start))
	}
	s.publishCursor(s.cursor)

	s.log.Debug(ctx, "canonical state advanced",
		logging.Step("from", from),
		logging.Step("cursor", s.cursor),
		logging.Int("impulses", applied),
	)
	return nil
}

// Install decodes data and, only if that succeeds, replaces the canonical
// state and sets the cursor to step. This is the only operation that may
// move the cursor backwards.
func (s *Store) Install(ctx context.Context, data []byte, step uint32) error {
	ctx, span := observability.StartSpan(ctx, "state.Install", s.room, observability.AttrTarget.Int64(int64(step)))
	defer span.End()

	start := time.Now()
	decoded, err := s.codec.Decode(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn(ctx, "rejected snapshot", logging.Step("step", step), logging.Err(err))
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(s.room, "decode", len(data), time.Since(start))
	}
	return s.InstallState(ctx, decoded, step)
}

// InstallState replaces the canonical state with st, taking ownership of
// it. The state must contain exactly one body per actor.
func (s *Store) InstallState(ctx context.Context, st *core.State, step uint32) error {
	if st == nil {
		return ErrNilState
	}
	if _, err := registry.Resolve(st); err != nil {
		s.log.Error(ctx, "rejected state without a valid actor set", logging.Err(err))
		return err
	}

	s.mu.Lock()
	prev := s.cursor
	s.state = st
	s.cursor = step
	s.mu.Unlock()

	s.publishCursor(step)
	s.log.Info(ctx, "installed canonical state",
		logging.Step("previous_cursor", prev),
		logging.Step("cursor", step),
	)
	return nil
}

// Clone returns a deep copy of the canonical state and the cursor it
// corresponds to. The copy may be stepped freely.
func (s *Store) Clone() (*core.State, uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.cursor
}

// Snapshot encodes the canonical state.
func (s *Store) Snapshot(ctx context.Context) ([]byte, uint32, error) {
	_, span := observability.StartSpan(ctx, "state.Snapshot", s.room)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	data, err := s.codec.Encode(s.state)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(s.room, "encode", len(data), time.Since(start))
	}
	return data, s.cursor, nil
}

// Export encodes and fingerprints the canonical state under one read lock,
// so the snapshot, digest and step all describe the same world.
func (s *Store) Export(ctx context.Context) ([]byte, uint32, uint64, error) {
	_, span := observability.StartSpan(ctx, "state.Export", s.room)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	data, err := s.codec.Encode(s.state)
	if err != nil {
		span.RecordError(err)
		return nil, 0, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(s.room, "encode", len(data), time.Since(start))
	}
	digest, err := snapshot.Digest(s.state)
	if err != nil {
		return nil, 0, 0, err
	}
	return data, s.cursor, digest, nil
}

// Digest fingerprints the canonical state.
func (s *Store) Digest() (uint64, uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := snapshot.Digest(s.state)
	return d, s.cursor, err
}

func (s *Store) publishCursor(cursor uint32) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetCursor(s.room, cursor)
}
