package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/presence"
	"github.com/mcdev12/spoker/go/internal/room/roomsync"
	"github.com/mcdev12/spoker/go/internal/room/vote"
	"github.com/mcdev12/spoker/go/internal/store"
	"github.com/mcdev12/spoker/go/internal/store/memstore"
)

type fixture struct {
	store *store.Store
	svc   *Service
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New(memstore.New(), store.DefaultConfig())
	t.Cleanup(func() { _ = s.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))

	ctrl := vote.NewController(s, clock, vote.DefaultConfig())
	if _, err := ctrl.CreateRoom(context.Background(), "r1",
		models.RoomInfo{Name: "Sprint"},
		models.RoomConfig{HideLabel: models.HideLabelFish},
		models.Task{ID: "T1", Name: "Task 1"},
		models.RoomUser{UID: "o", Name: "Olive"},
	); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	svc := NewService(DefaultConfig(), s, roomsync.Deps{
		Store:    s,
		Votes:    ctrl,
		Presence: presence.NewTracker(s),
		Clock:    clock,
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = svc.Stop() })

	return &fixture{store: s, svc: svc, srv: srv}
}

func (f *fixture) dial(t *testing.T, roomID, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/room?room_id=" + roomID + "&user_id=" + uid
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, in ClientIntent) {
	t.Helper()
	if err := ws.WriteJSON(in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func read(t *testing.T, ws *websocket.Conn) RoomEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev RoomEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return ev
}

// readUntil returns the first event accepted by ok.
func readUntil(t *testing.T, ws *websocket.Conn, ok func(RoomEvent) bool) RoomEvent {
	t.Helper()
	for {
		if ev := read(t, ws); ok(ev) {
			return ev
		}
	}
}

func snapshotWhere(t *testing.T, ok func(SnapshotPayload) bool) func(RoomEvent) bool {
	return func(ev RoomEvent) bool {
		if ev.Type != EventTypeSnapshot {
			return false
		}
		var p SnapshotPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		return ok(p)
	}
}

func replyTo(requestID string) func(RoomEvent) bool {
	return func(ev RoomEvent) bool {
		switch ev.Type {
		case EventTypeAck:
			var p AckPayload
			return json.Unmarshal(ev.Data, &p) == nil && p.RequestID == requestID
		case EventTypeError:
			var p ErrorPayload
			return json.Unmarshal(ev.Data, &p) == nil && p.RequestID == requestID
		}
		return false
	}
}

func TestSocketStreamsSnapshots(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "r1", "a")

	ev := read(t, ws)
	if ev.Type != EventTypeSnapshot || ev.RoomID != "r1" {
		t.Fatalf("first event = %s for %q, want snapshot for r1", ev.Type, ev.RoomID)
	}
	var p SnapshotPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if p.Room == nil || p.Room.Task.ID != "T1" {
		t.Fatalf("snapshot room = %+v, want current task T1", p.Room)
	}
	if p.Glyphs != models.HideLabelFish.Glyphs() {
		t.Fatalf("glyphs = %+v, want fish", p.Glyphs)
	}
	if p.Revision == 0 {
		t.Fatal("snapshot revision is zero")
	}
}

func TestSocketJoinVoteAndDisconnect(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "r1", "a")
	read(t, ws)

	send(t, ws, ClientIntent{Type: IntentJoin, RequestID: "1", Name: "Ana", Role: models.RoleParticipant})
	if ev := readUntil(t, ws, replyTo("1")); ev.Type != EventTypeAck {
		t.Fatalf("join reply = %s, want ack", ev.Type)
	}
	readUntil(t, ws, snapshotWhere(t, func(p SnapshotPayload) bool {
		u, ok := p.Room.Members["a"]
		return ok && u.Name == "Ana"
	}))

	point := 5.0
	send(t, ws, ClientIntent{Type: IntentCastVote, RequestID: "2", Point: &point})
	if ev := readUntil(t, ws, replyTo("2")); ev.Type != EventTypeAck {
		t.Fatalf("vote reply = %s, want ack", ev.Type)
	}
	readUntil(t, ws, snapshotWhere(t, func(p SnapshotPayload) bool {
		return p.Tally.Voted == 1
	}))

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := f.store.Get(context.Background(), store.RoomPath("r1", "users", "a"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !snap.Exists {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("member still present after socket closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSocketRejectsBadIntents(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "r1", "a")
	read(t, ws)

	tests := []struct {
		name string
		in   ClientIntent
		code string
	}{
		{"unknown type", ClientIntent{Type: "shout", RequestID: "1"}, "bad_request"},
		{"vote without point", ClientIntent{Type: IntentCastVote, RequestID: "2"}, "bad_request"},
		{"finalize as non-owner", ClientIntent{Type: IntentFinalize, RequestID: "3", Estimate: new(float64)}, "unauthorized"},
		{"bad role", ClientIntent{Type: IntentJoin, RequestID: "4", Name: "Ana", Role: "captain"}, "invalid_role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, ws, tt.in)
			ev := readUntil(t, ws, replyTo(tt.in.RequestID))
			if ev.Type != EventTypeError {
				t.Fatalf("reply = %s, want error", ev.Type)
			}
			var p ErrorPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if p.Code != tt.code {
				t.Fatalf("code = %q (%s), want %q", p.Code, p.Message, tt.code)
			}
		})
	}
}

func TestSocketMalformedMessage(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "r1", "a")
	read(t, ws)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	ev := readUntil(t, ws, func(ev RoomEvent) bool { return ev.Type == EventTypeError })
	var p ErrorPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.Code != "bad_request" {
		t.Fatalf("code = %q, want bad_request", p.Code)
	}
}

func TestSocketMissingRoom(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "ghost", "a")

	ev := read(t, ws)
	if ev.Type != EventTypeRoomMissing {
		t.Fatalf("first event = %s, want room_missing", ev.Type)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("connection still open after room_missing")
	}
}

func TestSnapshotOmitsPassword(t *testing.T) {
	f := newFixture(t)
	err := f.store.Apply(context.Background(), store.Write{
		Room: "r1",
		Set:  map[string]any{"room/password": "hunter2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ws := f.dial(t, "r1", "a")

	ev := readUntil(t, ws, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Room != nil }))
	if strings.Contains(string(ev.Data), "hunter2") || strings.Contains(string(ev.Data), `"password"`) {
		t.Fatalf("snapshot carries the password: %s", ev.Data)
	}
	// The stored room keeps it.
	snap, err := f.store.Get(context.Background(), store.RoomPath("r1"))
	if err != nil {
		t.Fatal(err)
	}
	var room models.Room
	if err := snap.Decode(&room); err != nil {
		t.Fatal(err)
	}
	if room.Info.Password == nil || *room.Info.Password != "hunter2" {
		t.Fatalf("stored password = %v", room.Info.Password)
	}
}

func TestHandlerValidatesRequest(t *testing.T) {
	f := newFixture(t)
	h := NewWebSocketHandler(f.svc.connectionManager)

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{"missing room", "/ws/room?user_id=a", "", http.StatusBadRequest, "room_id is required"},
		{"invalid room", "/ws/room?room_id=a.b&user_id=a", "", http.StatusBadRequest, "invalid room_id format"},
		{"missing user", "/ws/room?room_id=r1", "", http.StatusUnauthorized, "user_id is required"},
		{"user with slash", "/ws/room?room_id=r1&user_id=a%2Fpoint", "", http.StatusBadRequest, "invalid user_id format"},
		{"numeric user", "/ws/room?room_id=r1&user_id=0", "", http.StatusBadRequest, "invalid user_id format"},
		{"bad user from header", "/ws/room?room_id=r1", "a/point", http.StatusBadRequest, "invalid user_id format"},
		// Passes validation; not a websocket handshake so the upgrader refuses it.
		{"user from header", "/ws/room?room_id=r1", "a", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.HandleRoomConnection(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestConnectionStats(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "r1", "a")
	read(t, ws)

	resp, err := http.Get(f.srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		TotalConnections int            `json:"total_connections"`
		ActiveRooms      int            `json:"active_rooms"`
		RoomConnections  map[string]int `json:"room_connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalConnections != 1 || stats.ActiveRooms != 1 || stats.RoomConnections["r1"] != 1 {
		t.Fatalf("stats = %+v, want one connection in r1", stats)
	}
}
