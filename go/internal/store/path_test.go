package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestParsePath(t *testing.T) {
	roomID, segs, err := ParsePath("rooms/abc/users/u1/point")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if roomID != "abc" || !reflect.DeepEqual(segs, []string{"users", "u1", "point"}) {
		t.Fatalf("got %q %v", roomID, segs)
	}

	for _, p := range []string{"", "rooms", "boards/abc", "rooms/a.b", "rooms/abc//task"} {
		if _, _, err := ParsePath(p); !errors.Is(err, ErrBadPath) {
			t.Fatalf("ParsePath(%q) = %v, want ErrBadPath", p, err)
		}
	}
}

func TestAssign(t *testing.T) {
	tests := []struct {
		name  string
		root  any
		path  []string
		value any
		want  any
	}{
		{
			name:  "set nested into empty",
			root:  map[string]any{},
			path:  []string{"users", "u1", "point"},
			value: 3.0,
			want:  map[string]any{"users": map[string]any{"u1": map[string]any{"point": 3.0}}},
		},
		{
			name:  "delete prunes empty parents",
			root:  map[string]any{"a": 1.0, "users": map[string]any{"u1": map[string]any{"point": 3.0}}},
			path:  []string{"users", "u1", "point"},
			value: nil,
			want:  map[string]any{"a": 1.0},
		},
		{
			name:  "append at length",
			root:  map[string]any{"queue": []any{"x"}},
			path:  []string{"queue", "1"},
			value: "y",
			want:  map[string]any{"queue": []any{"x", "y"}},
		},
		{
			name:  "first element creates array",
			root:  map[string]any{},
			path:  []string{"queue", "0"},
			value: "x",
			want:  map[string]any{"queue": []any{"x"}},
		},
		{
			name:  "remove element shifts",
			root:  map[string]any{"queue": []any{"x", "y", "z"}},
			path:  []string{"queue", "0"},
			value: nil,
			want:  map[string]any{"queue": []any{"y", "z"}},
		},
		{
			name:  "delete missing is a no-op",
			root:  map[string]any{"a": 1.0},
			path:  []string{"b", "c"},
			value: nil,
			want:  map[string]any{"a": 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := assign(tt.root, tt.path, tt.value)
			if err != nil {
				t.Fatalf("assign: %v", err)
			}
			if got == nil {
				got = map[string]any{}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAssignIndexPastEnd(t *testing.T) {
	_, err := assign(map[string]any{"queue": []any{"x"}}, []string{"queue", "3"}, "y")
	if !errors.Is(err, ErrBadPath) {
		t.Fatalf("got %v, want ErrBadPath", err)
	}
}

func TestWriteRejectsOverlappingPaths(t *testing.T) {
	w := Write{Room: "r1", Set: map[string]any{
		"task":           map[string]any{"id": "t"},
		"task/lastVoted": nil,
	}}
	if _, err := w.prepare(); !errors.Is(err, ErrBadPath) {
		t.Fatalf("got %v, want ErrBadPath", err)
	}

	ok := Write{Room: "r1", Set: map[string]any{
		"users/u-1":     nil,
		"users/u/point": 1,
	}}
	if _, err := ok.prepare(); err != nil {
		t.Fatalf("sibling paths rejected: %v", err)
	}
}

func TestNormalizeTypedNilIsAbsent(t *testing.T) {
	var p *float64
	v, err := normalize(p)
	if err != nil || v != nil {
		t.Fatalf("normalize(nil pointer) = %v, %v", v, err)
	}
	v, err = normalize([]string{})
	if err != nil || v != nil {
		t.Fatalf("normalize(empty slice) = %v, %v", v, err)
	}
}

func TestAssignIndexUnderAbsentParent(t *testing.T) {
	for _, root := range []any{map[string]any{}, map[string]any{"queue": "scalar"}} {
		_, err := assign(root, []string{"queue", "1"}, map[string]any{"name": "T3"})
		if !errors.Is(err, ErrBadPath) {
			t.Fatalf("assign into %v = %v, want ErrBadPath", root, err)
		}
	}
}

func TestWriteRejectsUnsafeSegments(t *testing.T) {
	for _, p := range []string{"users/a b", "users/a.b/point", "users//point", "users/é"} {
		w := Write{Room: "r1", Set: map[string]any{p: 1}}
		if _, err := w.prepare(); !errors.Is(err, ErrBadPath) {
			t.Fatalf("prepare(%q) = %v, want ErrBadPath", p, err)
		}
	}
}
