package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/spoker/go/internal/room/vote"
	"github.com/mcdev12/spoker/go/internal/store"
	"github.com/mcdev12/spoker/go/internal/store/memstore"
)

type clients struct {
	create *connect.Client[structpb.Struct, structpb.Struct]
	get    *connect.Client[structpb.Struct, structpb.Struct]
}

func newClients(t *testing.T) clients {
	t.Helper()
	s := store.New(memstore.New(), store.DefaultConfig())
	t.Cleanup(func() { _ = s.Close() })
	ctrl := vote.NewController(s, clockwork.NewFakeClock(), vote.DefaultConfig())

	mux := http.NewServeMux()
	mux.Handle(NewHandler(NewService(ctrl, s)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return clients{
		create: connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+CreateRoomProcedure),
		get:    connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+GetRoomProcedure),
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func createRequest(t *testing.T, roomID string) *connect.Request[structpb.Struct] {
	return connect.NewRequest(mustStruct(t, map[string]any{
		"roomId": roomID,
		"room":   map[string]any{"name": "Sprint 42", "isPrivate": true, "password": "hunter2"},
		"config": map[string]any{"hideLabel": "cow", "isFreezeAfterVote": true},
		"task":   map[string]any{"name": "Login page"},
		"owner":  map[string]any{"uid": "o", "name": "Olive"},
	}))
}

func field(s *structpb.Struct, path ...string) *structpb.Value {
	v := structpb.NewStructValue(s)
	for _, p := range path {
		v = v.GetStructValue().GetFields()[p]
	}
	return v
}

func TestCreateThenGetRoom(t *testing.T) {
	c := newClients(t)
	ctx := context.Background()

	created, err := c.create.CallUnary(ctx, createRequest(t, "sprint-42"))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if got := field(created.Msg, "state", "task", "id").GetStringValue(); got == "" {
		t.Fatal("created task has no id")
	}
	if got := field(created.Msg, "state", "users", "o", "role").GetStringValue(); got != "owner" {
		t.Fatalf("owner role = %q, want owner", got)
	}

	got, err := c.get.CallUnary(ctx, connect.NewRequest(mustStruct(t, map[string]any{"roomId": "sprint-42"})))
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if name := field(got.Msg, "state", "task", "name").GetStringValue(); name != "Login page" {
		t.Fatalf("task name = %q, want Login page", name)
	}
	if label := field(got.Msg, "state", "config", "hideLabel").GetStringValue(); label != "cow" {
		t.Fatalf("hideLabel = %q, want cow", label)
	}
	if _, ok := field(got.Msg, "state", "room").GetStructValue().GetFields()["password"]; ok {
		t.Fatal("password returned to client")
	}
	if rev := field(got.Msg, "revision").GetNumberValue(); rev == 0 {
		t.Fatal("revision missing")
	}
	if voters := field(got.Msg, "tally", "voters").GetNumberValue(); voters != 0 {
		t.Fatalf("voters = %v, want 0", voters)
	}
}

func TestCreateRoomOwnerFromHeader(t *testing.T) {
	c := newClients(t)
	req := createRequest(t, "r1")
	req.Header().Set(UserIDHeader, "from-header")

	resp, err := c.create.CallUnary(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	users := field(resp.Msg, "state", "users").GetStructValue().GetFields()
	if _, ok := users["from-header"]; !ok || len(users) != 1 {
		t.Fatalf("users = %v, want only from-header", users)
	}
}

func TestCreateRoomErrors(t *testing.T) {
	c := newClients(t)
	ctx := context.Background()
	if _, err := c.create.CallUnary(ctx, createRequest(t, "taken")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	tests := []struct {
		name string
		msg  map[string]any
		code connect.Code
	}{
		{"duplicate", map[string]any{"roomId": "taken", "task": map[string]any{"name": "x"}, "owner": map[string]any{"uid": "o"}}, connect.CodeAlreadyExists},
		{"bad id", map[string]any{"roomId": "a/b", "task": map[string]any{"name": "x"}, "owner": map[string]any{"uid": "o"}}, connect.CodeInvalidArgument},
		{"no owner", map[string]any{"roomId": "r2", "task": map[string]any{"name": "x"}}, connect.CodeUnauthenticated},
		{"blank task", map[string]any{"roomId": "r3", "task": map[string]any{"name": " "}, "owner": map[string]any{"uid": "o"}}, connect.CodeInvalidArgument},
		{"bad label", map[string]any{"roomId": "r4", "config": map[string]any{"hideLabel": "dragon"}, "task": map[string]any{"name": "x"}, "owner": map[string]any{"uid": "o"}}, connect.CodeInvalidArgument},
		{"owner uid with slash", map[string]any{"roomId": "r5", "task": map[string]any{"name": "x"}, "owner": map[string]any{"uid": "a/point"}}, connect.CodeInvalidArgument},
		{"numeric owner uid", map[string]any{"roomId": "r6", "task": map[string]any{"name": "x"}, "owner": map[string]any{"uid": "0"}}, connect.CodeInvalidArgument},
		{"wrong type", map[string]any{"roomId": 7.0}, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.create.CallUnary(ctx, connect.NewRequest(mustStruct(t, tt.msg)))
			if got := connect.CodeOf(err); got != tt.code {
				t.Fatalf("code = %v (%v), want %v", got, err, tt.code)
			}
		})
	}
}

func TestGetRoomErrors(t *testing.T) {
	c := newClients(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		roomID string
		code   connect.Code
	}{
		{"missing", "nope", connect.CodeNotFound},
		{"bad id", "a.b", connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.get.CallUnary(ctx, connect.NewRequest(mustStruct(t, map[string]any{"roomId": tt.roomID})))
			if got := connect.CodeOf(err); got != tt.code {
				t.Fatalf("code = %v (%v), want %v", got, err, tt.code)
			}
		})
	}
}
