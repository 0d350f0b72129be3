package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/rooms"
)

func websocketURL(t *testing.T, base, room string) string {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("failed to parse server url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()
	return u.String()
}

func dial(t *testing.T, dir *rooms.Directory, room string) *websocket.Conn {
	t.Helper()
	return dialWith(t, dir, room, HandlerConfig{})
}

func dialWith(t *testing.T, dir *rooms.Directory, room string, cfg HandlerConfig) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(dir, cfg))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL, room), nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("failed to decode message %s: %v", payload, err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(v)); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}

func TestPoseQueryOverWebsocket(t *testing.T) {
	dir := rooms.NewDirectory()
	conn := dial(t, dir, "lobby")

	if hello := readMessage(t, conn); hello.Type != TypeCursor || hello.Cursor != 0 {
		t.Fatalf("initial message = %+v, want cursor 0", hello)
	}

	send(t, conn, `not json`)
	send(t, conn, `{"type":"dance"}`)
	send(t, conn, `{"type":"poses","targetStep":50,"impulses":{"A":{"steps":[10],"x":[0.1],"y":[0.2],"z":[0]}}}`)

	msg := readMessage(t, conn)
	if msg.Type != TypePoses || msg.Stale {
		t.Fatalf("reply = %+v, want poses", msg)
	}
	if msg.Cursor != 20 || msg.CatchUp != 20 || msg.Rendered != 30 || len(msg.Poses) != 35 {
		t.Fatalf("reply cursor/catch_up/rendered/len = %d/%d/%d/%d, want 20/20/30/35",
			msg.Cursor, msg.CatchUp, msg.Rendered, len(msg.Poses))
	}

	send(t, conn, `{"type":"poses","targetStep":20}`)
	if stale := readMessage(t, conn); !stale.Stale || stale.Poses != nil {
		t.Fatalf("reply = %+v, want stale", stale)
	}

	send(t, conn, `{"type":"cursor"}`)
	if cur := readMessage(t, conn); cur.Type != TypeCursor || cur.Cursor != 20 {
		t.Fatalf("reply = %+v, want cursor 20", cur)
	}
}

func TestInvalidImpulseReturnsError(t *testing.T) {
	conn := dial(t, rooms.NewDirectory(), "lobby")
	readMessage(t, conn)

	send(t, conn, `{"type":"poses","targetStep":5,"impulses":{"Z":{}}}`)
	if msg := readMessage(t, conn); msg.Type != TypeError || msg.Error == "" {
		t.Fatalf("reply = %+v, want error", msg)
	}
}

func TestInstallIsPushed(t *testing.T) {
	dir := rooms.NewDirectory()
	conn := dial(t, dir, "lobby")
	readMessage(t, conn)

	room, err := dir.Get("lobby")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	st, _ := room.Store().Clone()
	data, err := snapshot.Encode(st)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := room.Install(context.Background(), data, 90); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if msg := readMessage(t, conn); msg.Type != TypeInstalled || msg.Cursor != 90 {
		t.Fatalf("pushed message = %+v, want installed at 90", msg)
	}
}

func TestMissingRoomRejected(t *testing.T) {
	srv := httptest.NewServer(NewHandler(rooms.NewDirectory(), HandlerConfig{}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err == nil {
		t.Fatalf("dial without room succeeded")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("response = %v, want 400", resp)
	}
	resp.Body.Close()
}

func encodedRoom(t *testing.T, dir *rooms.Directory, id string) (*rooms.Room, []byte) {
	t.Helper()
	room, err := dir.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	st, _ := room.Store().Clone()
	data, err := snapshot.Encode(st)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return room, data
}

func TestUnreadClientDoesNotBlockInstall(t *testing.T) {
	dir := rooms.NewDirectory()
	conn := dialWith(t, dir, "lobby", HandlerConfig{WriteWait: 200 * time.Millisecond})
	readMessage(t, conn)
	room, data := encodedRoom(t, dir, "lobby")

	// The client never reads again; every install still has to return.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 4*pushBuffer; i++ {
			if err := room.Install(context.Background(), data, uint32(i+1)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Install() blocked behind an unread websocket client")
	}
	if got := room.Cursor(); got != 4*pushBuffer {
		t.Fatalf("Cursor() = %d, want %d", got, 4*pushBuffer)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	conn := dialWith(t, rooms.NewDirectory(), "lobby", HandlerConfig{ReadLimit: 256})
	readMessage(t, conn)

	send(t, conn, `{"type":"cursor","pad":"`+strings.Repeat("x", 1024)+`"}`)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("ReadMessage() after oversized frame succeeded, want closed connection")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{"same origin default", nil, "", true},
		{"cross origin default", nil, "http://elsewhere.example", false},
		{"wildcard", []string{"*"}, "http://elsewhere.example", true},
		{"listed", []string{"http://app.example"}, "http://app.example", true},
		{"unlisted", []string{"http://app.example"}, "http://elsewhere.example", false},
		{"no header", []string{"http://app.example"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewHandler(rooms.NewDirectory(), HandlerConfig{AllowedOrigins: tt.allowed}))
			defer srv.Close()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL, "lobby"), header)
			if resp != nil {
				resp.Body.Close()
			}
			if conn != nil {
				conn.Close()
			}
			if ok := err == nil; ok != tt.wantOK {
				t.Fatalf("dial with origin %q: err = %v, want ok = %v", tt.origin, err, tt.wantOK)
			}
		})
	}
}
