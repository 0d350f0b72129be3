// Package ws serves pose queries to browser clients over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/rpc"
	"github.com/signalsfoundry/alive-physics/rooms"
)

// Message types.
const (
	TypePoses     = "poses"
	TypeCursor    = "cursor"
	TypeInstalled = "installed"
	TypeError     = "error"
)

type clientMessage struct {
	Type       string       `json:"type"`
	TargetStep uint32       `json:"targetStep"`
	Impulses   rpc.Impulses `json:"impulses,omitempty"`
}

// ServerMessage is every frame the handler writes.
type ServerMessage struct {
	Type       string    `json:"type"`
	Room       string    `json:"room,omitempty"`
	TargetStep uint32    `json:"targetStep,omitempty"`
	Stale      bool      `json:"stale,omitempty"`
	Cursor     uint32    `json:"cursor"`
	CatchUp    uint32    `json:"catchUp,omitempty"`
	Rendered   uint32    `json:"rendered,omitempty"`
	Poses      []float32 `json:"poses,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Defaults applied when HandlerConfig leaves a limit at zero.
const (
	DefaultWriteWait = 10 * time.Second
	DefaultReadLimit = 64 << 10
	pushBuffer       = 16
)

type HandlerConfig struct {
	Logger logging.Logger
	// WriteWait bounds every frame write; a peer that stops reading is
	// disconnected instead of stalling the writer.
	WriteWait time.Duration
	// ReadLimit caps the size of one client frame in bytes.
	ReadLimit int64
	// AllowedOrigins lists the Origin header values accepted on upgrade.
	// Empty keeps the same-origin check; "*" accepts any origin.
	AllowedOrigins []string
}

// Handler upgrades GET /ws?room=<id> and answers JSON pose and cursor
// queries for that room until the client disconnects.
type Handler struct {
	dir       *rooms.Directory
	log       logging.Logger
	upgrader  websocket.Upgrader
	writeWait time.Duration
	readLimit int64
}

func NewHandler(dir *rooms.Directory, cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	h := &Handler{
		dir:       dir,
		log:       log,
		writeWait: cfg.WriteWait,
		readLimit: cfg.ReadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
	if h.writeWait <= 0 {
		h.writeWait = DefaultWriteWait
	}
	if h.readLimit <= 0 {
		h.readLimit = DefaultReadLimit
	}
	return h
}

// checkOrigin returns nil for an empty list so gorilla applies its
// same-origin rule. Requests without an Origin header come from
// non-browser clients and are accepted.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// session serialises writes to one connection; gorilla allows a single
// concurrent writer.
type session struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
}

func (s *session) writeJSON(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	ctx := logging.ContextWithRoom(r.Context(), roomID)
	ctx, log := logging.WithRequestLogger(ctx, h.log)

	room, err := h.dir.Open(ctx, roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.readLimit)
	sess := &session{conn: conn, writeWait: h.writeWait}

	// Directory events arrive on the installer's goroutine and must not
	// block it; pushes go through this connection's writer.
	pushes := make(chan ServerMessage, pushBuffer)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case msg := <-pushes:
				if err := sess.writeJSON(msg); err != nil {
					log.Debug(ctx, "websocket push failed", logging.Err(err))
					_ = conn.Close()
					return
				}
			}
		}
	}()

	unsubscribe := h.dir.Subscribe(func(ev rooms.Event) {
		if ev.Room != roomID {
			return
		}
		msg := ServerMessage{Type: TypeInstalled, Room: roomID, Cursor: ev.Cursor}
		if ev.Type == rooms.EventRoomClosed {
			msg.Type = TypeError
			msg.Error = "room closed"
		} else if ev.Type != rooms.EventSnapshotInstalled {
			return
		}
		select {
		case pushes <- msg:
		default:
			log.Warn(ctx, "dropping push for slow websocket client", logging.String("type", msg.Type))
		}
	})
	defer unsubscribe()

	if err := sess.writeJSON(ServerMessage{Type: TypeCursor, Room: roomID, Cursor: room.Cursor()}); err != nil {
		return
	}
	log.Info(ctx, "websocket client connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.Debug(ctx, "websocket client disconnected", logging.Err(err))
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn(ctx, "discarding malformed message", logging.Err(err))
			continue
		}

		reply, ok := h.handle(ctx, room, msg)
		if !ok {
			log.Warn(ctx, "discarding message of unknown type", logging.String("type", msg.Type))
			continue
		}
		if err := sess.writeJSON(reply); err != nil {
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, room *rooms.Room, msg clientMessage) (ServerMessage, bool) {
	switch msg.Type {
	case TypeCursor:
		return ServerMessage{Type: TypeCursor, Room: room.ID(), Cursor: room.Cursor()}, true

	case TypePoses:
		arrays, err := msg.Impulses.ToArrays()
		if err != nil {
			return errorMessage(room, err), true
		}
		res, err := room.PosesForStep(ctx, msg.TargetStep, arrays)
		if err != nil {
			return errorMessage(room, err), true
		}
		return ServerMessage{
			Type:       TypePoses,
			Room:       room.ID(),
			TargetStep: res.Target,
			Stale:      res.Stale,
			Cursor:     res.Cursor,
			CatchUp:    res.CatchUp,
			Rendered:   res.Rendered,
			Poses:      res.Flatten(),
		}, true

	default:
		return ServerMessage{}, false
	}
}

func errorMessage(room *rooms.Room, err error) ServerMessage {
	return ServerMessage{Type: TypeError, Room: room.ID(), Cursor: room.Cursor(), Error: err.Error()}
}
