package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcdev12/spoker/go/internal/models"
)

// RoomsRoot is the top-level node every room lives under.
const RoomsRoot = "rooms"

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// RoomPath builds rooms/{roomID}[/segs...].
func RoomPath(roomID string, segs ...string) string {
	return strings.Join(append([]string{RoomsRoot, roomID}, segs...), "/")
}

// Join builds a room-relative path such as users/{uid}/point.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// ParsePath splits an absolute rooms/{roomID}/... path.
func ParsePath(p string) (string, []string, error) {
	segs, err := splitPath(p)
	if err != nil {
		return "", nil, err
	}
	if len(segs) < 2 || segs[0] != RoomsRoot {
		return "", nil, fmt.Errorf("%w: %q is not under %s/", ErrBadPath, p, RoomsRoot)
	}
	if err := models.ValidateRoomID(segs[1]); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	return segs[1], segs[2:], nil
}

func splitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if !segmentPattern.MatchString(s) {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, p)
		}
	}
	return segs, nil
}

// normalize converts v to its generic JSON form. Empty containers and
// JSON null become nil, which means absent.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, c := range n {
			if pc := prune(c); pc == nil {
				delete(n, k)
			} else {
				n[k] = pc
			}
		}
		if len(n) == 0 {
			return nil
		}
	case []any:
		out := n[:0]
		for _, c := range n {
			if pc := prune(c); pc != nil {
				out = append(out, pc)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return v
}

func lookup(node any, segs []string) (any, bool) {
	for _, seg := range segs {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	return node, node != nil
}

// assign sets value at segs below node and returns the new node. A nil
// value removes the entry; containers left empty are removed as well.
// Numeric segments index arrays and an index equal to the length appends.
func assign(node any, segs []string, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case map[string]any:
		child, err := assign(n[seg], rest, value)
		if err != nil {
			return nil, err
		}
		if child == nil {
			delete(n, seg)
		} else {
			n[seg] = child
		}
		if len(n) == 0 {
			return nil, nil
		}
		return n, nil

	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i > len(n) {
			return nil, fmt.Errorf("%w: index %q out of range for length %d", ErrBadPath, seg, len(n))
		}
		var cur any
		if i < len(n) {
			cur = n[i]
		}
		child, err := assign(cur, rest, value)
		if err != nil {
			return nil, err
		}
		switch {
		case child == nil && i < len(n):
			n = append(n[:i], n[i+1:]...)
		case child == nil:
		case i == len(n):
			n = append(n, child)
		default:
			n[i] = child
		}
		if len(n) == 0 {
			return nil, nil
		}
		return n, nil

	default:
		// Absent or scalar: build the containers leading to value. Only
		// index 0 may start an array; any other index has nothing to
		// extend.
		if value == nil {
			return node, nil
		}
		if isIndex(seg) && seg != "0" {
			return nil, fmt.Errorf("%w: index %q under an absent array", ErrBadPath, seg)
		}
		child, err := assign(nil, rest, value)
		if err != nil {
			return nil, err
		}
		if seg == "0" {
			return []any{child}, nil
		}
		return map[string]any{seg: child}, nil
	}
}

func isIndex(seg string) bool {
	_, err := strconv.Atoi(seg)
	return err == nil
}

func sameValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
