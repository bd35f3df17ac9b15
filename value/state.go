package value

import "sort"

// DefaultMaxAutoExtend bounds how far ScopedState.Set will grow a sequence
// with nulls to satisfy an out-of-range index write, per spec §4.1.
const DefaultMaxAutoExtend = 1024

// ScopedState is the mutable, dot-path-addressable key tree local to a
// session. A single ScopedState must never be mutated from more than one
// goroutine concurrently (spec §3 invariant); the orchestrator enforces
// this by giving each session exclusive ownership of its state.
type ScopedState struct {
	root          map[string]Value
	maxAutoExtend int
}

// NewScopedState creates an empty state tree, or one seeded from an
// initial mapping Value.
func NewScopedState(initial Value) *ScopedState {
	s := &ScopedState{root: map[string]Value{}, maxAutoExtend: DefaultMaxAutoExtend}
	if m, ok := initial.AsMap(); ok {
		for k, v := range m {
			s.root[k] = v.Clone()
		}
	}
	return s
}

// SetMaxAutoExtend overrides the configurable auto-extend bound.
func (s *ScopedState) SetMaxAutoExtend(n int) { s.maxAutoExtend = n }

// Get reads the Value addressed by path. Out-of-range reads (missing key,
// out-of-bounds index, or traversal through a scalar) return Null, not an
// error, per spec §4.1.
func (s *ScopedState) Get(path string) (Value, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return Null, err
	}
	if segs[0].IsIndex {
		return Null, &PathError{Path: path, Reason: "path must start with an identifier"}
	}
	cur, ok := s.root[segs[0].Key]
	if !ok {
		return Null, nil
	}
	for _, seg := range segs[1:] {
		if seg.IsIndex {
			items, ok := cur.AsSeq()
			if !ok || seg.Index < 0 || seg.Index >= len(items) {
				return Null, nil
			}
			cur = items[seg.Index]
			continue
		}
		m, ok := cur.AsMap()
		if !ok {
			return Null, nil
		}
		cur, ok = m[seg.Key]
		if !ok {
			return Null, nil
		}
	}
	return cur, nil
}

// Set writes v at path, creating intermediate mappings and, bounded by
// maxAutoExtend, extending sequences with nulls to satisfy an out-of-range
// index. Exceeding the bound fails with PathError.
func (s *ScopedState) Set(path string, v Value) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	if segs[0].IsIndex {
		return &PathError{Path: path, Reason: "path must start with an identifier"}
	}
	if len(segs) == 1 {
		s.root[segs[0].Key] = v.Clone()
		return nil
	}
	root, ok := s.root[segs[0].Key]
	if !ok {
		root = EmptyMap()
	}
	updated, err := s.setRecursive(root, segs[1:], v)
	if err != nil {
		return err
	}
	s.root[segs[0].Key] = updated
	return nil
}

func (s *ScopedState) setRecursive(cur Value, segs []Segment, v Value) (Value, error) {
	if len(segs) == 0 {
		return v.Clone(), nil
	}
	seg := segs[0]
	if seg.IsIndex {
		items, ok := cur.AsSeq()
		if !ok {
			items = nil
		} else {
			out := make([]Value, len(items))
			copy(out, items)
			items = out
		}
		if seg.Index >= len(items) {
			grow := seg.Index + 1 - len(items)
			if len(items)+grow > s.maxAutoExtend {
				return Null, &PathError{Path: JoinSegments(segs), Reason: "sequence auto-extend exceeds max_auto_extend"}
			}
			for k := 0; k < grow; k++ {
				items = append(items, Null)
			}
		}
		child := items[seg.Index]
		updated, err := s.setRecursive(child, segs[1:], v)
		if err != nil {
			return Null, err
		}
		items[seg.Index] = updated
		return Value{kind: KindSeq, seq: items}, nil
	}

	m, ok := cur.AsMap()
	var out map[string]Value
	if ok {
		out = make(map[string]Value, len(m))
		for k, e := range m {
			out[k] = e
		}
	} else {
		out = map[string]Value{}
	}
	child := out[seg.Key]
	updated, err := s.setRecursive(child, segs[1:], v)
	if err != nil {
		return Null, err
	}
	out[seg.Key] = updated
	return Value{kind: KindMap, m: out}, nil
}

// Delete removes the Value addressed by path. Deleting a nonexistent path
// is a no-op.
func (s *ScopedState) Delete(path string) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	if len(segs) == 1 {
		delete(s.root, segs[0].Key)
		return nil
	}
	root, ok := s.root[segs[0].Key]
	if !ok {
		return nil
	}
	updated, err := s.deleteRecursive(root, segs[1:])
	if err != nil {
		return err
	}
	s.root[segs[0].Key] = updated
	return nil
}

func (s *ScopedState) deleteRecursive(cur Value, segs []Segment) (Value, error) {
	if len(segs) == 1 {
		seg := segs[0]
		if seg.IsIndex {
			items, ok := cur.AsSeq()
			if !ok || seg.Index < 0 || seg.Index >= len(items) {
				return cur, nil
			}
			out := make([]Value, 0, len(items)-1)
			out = append(out, items[:seg.Index]...)
			out = append(out, items[seg.Index+1:]...)
			return Value{kind: KindSeq, seq: out}, nil
		}
		m, ok := cur.AsMap()
		if !ok {
			return cur, nil
		}
		out := make(map[string]Value, len(m))
		for k, e := range m {
			if k != seg.Key {
				out[k] = e
			}
		}
		return Value{kind: KindMap, m: out}, nil
	}
	seg := segs[0]
	if seg.IsIndex {
		items, ok := cur.AsSeq()
		if !ok || seg.Index < 0 || seg.Index >= len(items) {
			return cur, nil
		}
		out := make([]Value, len(items))
		copy(out, items)
		updated, err := s.deleteRecursive(out[seg.Index], segs[1:])
		if err != nil {
			return Null, err
		}
		out[seg.Index] = updated
		return Value{kind: KindSeq, seq: out}, nil
	}
	m, ok := cur.AsMap()
	if !ok {
		return cur, nil
	}
	out := make(map[string]Value, len(m))
	for k, e := range m {
		out[k] = e
	}
	child, ok := out[seg.Key]
	if !ok {
		return cur, nil
	}
	updated, err := s.deleteRecursive(child, segs[1:])
	if err != nil {
		return Null, err
	}
	out[seg.Key] = updated
	return Value{kind: KindMap, m: out}, nil
}

// Snapshot returns the entire state tree as a single mapping Value. Only
// the root map is copied; nested values are shared with the state, whose
// writes replace containers rather than mutating them.
func (s *ScopedState) Snapshot() Value {
	return Map(s.root)
}

// Restore replaces the state tree wholesale from a previously captured
// snapshot, cloning each root value.
func (s *ScopedState) Restore(snapshot Value) {
	m, ok := snapshot.AsMap()
	if !ok {
		s.root = map[string]Value{}
		return
	}
	root := make(map[string]Value, len(m))
	for k, v := range m {
		root[k] = v.Clone()
	}
	s.root = root
}

// ChangeKind distinguishes the three kinds of entry a ChangeSet can carry.
type ChangeKind uint8

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeModified
)

// Change describes one top-level-key difference between two state
// snapshots. Diff does not recurse into nested structural changes — a
// modification anywhere under a root key reports one Change for that key.
type Change struct {
	Key    string
	Kind   ChangeKind
	Before Value
	After  Value
}

// ChangeSet is an ordered (by key) list of Changes, produced by Diff.
type ChangeSet []Change

// Diff compares this state's root keys against another's and returns an
// ordered ChangeSet.
func (s *ScopedState) Diff(other *ScopedState) ChangeSet {
	keys := map[string]struct{}{}
	for k := range s.root {
		keys[k] = struct{}{}
	}
	for k := range other.root {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var out ChangeSet
	for _, k := range ordered {
		before, hasBefore := s.root[k]
		after, hasAfter := other.root[k]
		switch {
		case !hasBefore && hasAfter:
			out = append(out, Change{Key: k, Kind: ChangeAdded, After: after})
		case hasBefore && !hasAfter:
			out = append(out, Change{Key: k, Kind: ChangeRemoved, Before: before})
		case !before.Equal(after):
			out = append(out, Change{Key: k, Kind: ChangeModified, Before: before, After: after})
		}
	}
	return out
}
