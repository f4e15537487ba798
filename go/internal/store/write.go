package store

import (
	"fmt"
	"sort"

	"github.com/mcdev12/spoker/go/internal/models"
)

// Write is an atomic multi-path update of one room. Paths are relative to
// rooms/{Room}. A nil Set value deletes the path. A Require entry must
// match the stored value for the write to apply; a nil expectation means
// the path must be absent.
type Write struct {
	Room    string
	Set     map[string]any
	Require map[string]any
}

type op struct {
	segs  []string
	value any
}

type prepared struct {
	sets     []op
	requires []op
}

func (w Write) prepare() (prepared, error) {
	var p prepared
	if err := models.ValidateRoomID(w.Room); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if len(w.Set) == 0 {
		return p, fmt.Errorf("%w: write to %s sets nothing", ErrBadPath, w.Room)
	}

	paths := make([]string, 0, len(w.Set))
	for k := range w.Set {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	for _, k := range paths {
		segs, err := splitPath(k)
		if err != nil {
			return p, err
		}
		if len(segs) == 0 {
			return p, fmt.Errorf("%w: empty set path", ErrBadPath)
		}
		for _, prev := range p.sets {
			if hasPrefix(segs, prev.segs) || hasPrefix(prev.segs, segs) {
				return p, fmt.Errorf("%w: %q overlaps %q", ErrBadPath, k, Join(prev.segs...))
			}
		}
		v, err := normalize(w.Set[k])
		if err != nil {
			return p, fmt.Errorf("set %s: %w", k, err)
		}
		p.sets = append(p.sets, op{segs: segs, value: v})
	}

	for k, expected := range w.Require {
		segs, err := splitPath(k)
		if err != nil {
			return p, err
		}
		v, err := normalize(expected)
		if err != nil {
			return p, fmt.Errorf("require %s: %w", k, err)
		}
		p.requires = append(p.requires, op{segs: segs, value: v})
	}
	return p, nil
}

// apply checks requirements against root and then applies every set.
func (p prepared) apply(root any) (any, error) {
	for _, r := range p.requires {
		cur, _ := lookup(root, r.segs)
		if !sameValue(cur, r.value) {
			return nil, fmt.Errorf("%w: %s", ErrPrecondition, Join(r.segs...))
		}
	}
	var err error
	for _, s := range p.sets {
		root, err = assign(root, s.segs, s.value)
		if err != nil {
			return nil, err
		}
	}
	if root == nil {
		root = map[string]any{}
	}
	return root, nil
}

func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}
