// Package rooms keeps one canonical replay cache per collaborative room.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/sim/state"
	"github.com/signalsfoundry/alive-physics/internal/sim/window"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/model"
)

var (
	// ErrRoomNotFound is returned when a room has not been opened.
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidRoomID is returned for an empty room id.
	ErrInvalidRoomID = errors.New("invalid room id")
	// ErrTooManyRooms is returned when the directory is full.
	ErrTooManyRooms = errors.New("too many rooms")
)

// EventType indicates what kind of change happened in the directory.
type EventType int

const (
	EventRoomOpened EventType = iota
	EventSnapshotInstalled
	EventRoomClosed
)

func (t EventType) String() string {
	switch t {
	case EventRoomOpened:
		return "opened"
	case EventSnapshotInstalled:
		return "snapshot_installed"
	case EventRoomClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers when a room changes.
type Event struct {
	Type EventType
	Room string
	// Cursor is the canonical step after the change.
	Cursor uint32
}

// Metrics is what the directory needs from a metrics sink: the recorders
// of the store and the advancer, plus cleanup of per-room series.
type Metrics interface {
	state.MetricsRecorder
	window.MetricsRecorder
	ForgetRoom(room string)
}

// Room is one canonical cache and the advancer serving it.
type Room struct {
	id       string
	store    *state.Store
	advancer *window.Advancer
	dir      *Directory
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Store returns the room's canonical store.
func (r *Room) Store() *state.Store { return r.store }

// Advancer returns the room's windowed advancer.
func (r *Room) Advancer() *window.Advancer { return r.advancer }

// Cursor returns the room's canonical step.
func (r *Room) Cursor() uint32 { return r.store.Cursor() }

// PosesForStep answers a pose query against the room.
func (r *Room) PosesForStep(ctx context.Context, target uint32, arrays model.ImpulseArrays) (window.Result, error) {
	return r.advancer.PosesForStep(logging.ContextWithRoom(ctx, r.id), target, arrays)
}

// Install replaces the room's canonical state and notifies subscribers.
func (r *Room) Install(ctx context.Context, data []byte, step uint32) error {
	if err := r.advancer.Install(logging.ContextWithRoom(ctx, r.id), data, step); err != nil {
		return err
	}
	r.dir.notify(Event{Type: EventSnapshotInstalled, Room: r.id, Cursor: step})
	return nil
}

// Option customises Directory construction.
type Option func(*Directory)

// WithWindow sets the speculative window of every room.
func WithWindow(w uint32) Option {
	return func(d *Directory) { d.window = w }
}

// WithLogger sets the logger passed to every room.
func WithLogger(l logging.Logger) Option {
	return func(d *Directory) { d.log = l }
}

// WithMetrics attaches a metrics sink to every room.
func WithMetrics(m Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

// WithCodec sets the snapshot codec of every room.
func WithCodec(c snapshot.Codec) Option {
	return func(d *Directory) { d.codec = c }
}

// WithMaxRooms caps the number of open rooms. Zero means unlimited.
func WithMaxRooms(n int) Option {
	return func(d *Directory) { d.maxRooms = n }
}

// Directory is an in-memory, thread-safe set of rooms kept in open order.
type Directory struct {
	mu sync.RWMutex

	rooms *orderedmap.OrderedMap[string, *Room]
	subs  []func(Event)

	window   uint32
	maxRooms int
	codec    snapshot.Codec
	log      logging.Logger
	metrics  Metrics
}

// NewDirectory constructs an empty directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		rooms:  orderedmap.NewOrderedMap[string, *Room](),
		window: window.DefaultWindow,
		codec:  snapshot.Default,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the speculative window rooms are created with.
func (d *Directory) Window() uint32 { return d.window }

// Open returns the room with the given id, creating it from the cold-start
// scene on first use.
func (d *Directory) Open(ctx context.Context, id string) (*Room, error) {
	if id == "" {
		return nil, ErrInvalidRoomID
	}

	d.mu.Lock()
	if r, ok := d.rooms.Get(id); ok {
		d.mu.Unlock()
		return r, nil
	}
	if d.maxRooms > 0 && d.rooms.Len() >= d.maxRooms {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyRooms, d.maxRooms)
	}
	r, err := d.newRoom(id)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("open room %q: %w", id, err)
	}
	d.rooms.Set(id, r)
	d.mu.Unlock()

	d.log.Info(logging.ContextWithRoom(ctx, id), "room opened", logging.Room(id))
	d.notify(Event{Type: EventRoomOpened, Room: id})
	return r, nil
}

func (d *Directory) newRoom(id string) (*Room, error) {
	storeOpts := []state.Option{state.WithRoom(id), state.WithCodec(d.codec)}
	var advOpts []window.Option
	if d.metrics != nil {
		storeOpts = append(storeOpts, state.WithMetricsRecorder(d.metrics))
		advOpts = append(advOpts, window.WithMetricsRecorder(d.metrics))
	}
	store, err := state.NewColdStore(d.log, storeOpts...)
	if err != nil {
		return nil, err
	}
	adv, err := window.New(store, d.window, d.log, advOpts...)
	if err != nil {
		return nil, err
	}
	return &Room{id: id, store: store, advancer: adv, dir: d}, nil
}

// Get returns the room with the given id.
func (d *Directory) Get(id string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, id)
	}
	return r, nil
}

// List returns the open room ids in the order they were opened.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms.Keys()
}

// Len returns the number of open rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms.Len()
}

// Close drops a room and its canonical state.
func (d *Directory) Close(ctx context.Context, id string) error {
	d.mu.Lock()
	r, ok := d.rooms.Get(id)
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRoomNotFound, id)
	}
	d.rooms.Delete(id)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.ForgetRoom(id)
	}
	d.log.Info(logging.ContextWithRoom(ctx, id), "room closed", logging.Room(id))
	d.notify(Event{Type: EventRoomClosed, Room: id, Cursor: r.Cursor()})
	return nil
}

func (d *Directory) notify(ev Event) {
	d.mu.RLock()
	subs := append([]func(Event){}, d.subs...)
	d.mu.RUnlock()

	// Outside the lock so subscribers may call back into the directory.
	for _, sub := range subs {
		if sub != nil {
			sub(ev)
		}
	}
}

// Subscribe registers a callback for directory events. It returns an
// unsubscribe function.
func (d *Directory) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
	idx := len(d.subs) - 1

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if idx < 0 || idx >= len(d.subs) {
			return
		}
		// Leave a nil hole so indices held by other subscribers stay valid.
		d.subs[idx] = nil
		idx = -1
	}
}
