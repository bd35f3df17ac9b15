package value

import "testing"

func TestScopedStateGetSetDotPath(t *testing.T) {
	s := NewScopedState(Null)
	if err := s.Set("a.b.c", Int(42)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get("a.b.c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, ok := got.AsInt(); !ok || n != 42 {
		t.Fatalf("got %v", got)
	}
}

func TestScopedStateIndexAutoExtend(t *testing.T) {
	s := NewScopedState(Null)
	if err := s.Set("items[2]", String("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := s.Get("items[0]")
	if !got.IsNull() {
		t.Fatalf("expected null filler, got %v", got)
	}
	got, _ = s.Get("items[2]")
	if sv, _ := got.AsString(); sv != "x" {
		t.Fatalf("got %v", got)
	}
}

func TestScopedStateAutoExtendBound(t *testing.T) {
	s := NewScopedState(Null)
	s.SetMaxAutoExtend(4)
	if err := s.Set("items[3]", Int(1)); err != nil {
		t.Fatalf("within bound: %v", err)
	}
	if err := s.Set("items[10]", Int(1)); err == nil {
		t.Fatalf("expected PathError for over-bound extend")
	}
}

func TestScopedStateOutOfRangeReadIsNull(t *testing.T) {
	s := NewScopedState(Null)
	s.Set("items[0]", Int(1))
	got, err := s.Get("items[99]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsNull() {
		t.Fatalf("expected null, got %v", got)
	}
}

func TestScopedStateDeleteAndSnapshotDiff(t *testing.T) {
	a := NewScopedState(Null)
	a.Set("x", Int(1))
	a.Set("y", Int(2))

	b := NewScopedState(a.Snapshot())
	b.Set("x", Int(99))
	b.Delete("y")
	b.Set("z", Bool(true))

	cs := a.Diff(b)
	if len(cs) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(cs), cs)
	}
}

func TestValueEqualityAcrossTags(t *testing.T) {
	if Int(1).Equal(String("1")) {
		t.Fatalf("cross-tag equality should be false")
	}
	if !Null.Equal(Null) {
		t.Fatalf("null should equal null")
	}
}

func TestValueCompareCrossTagError(t *testing.T) {
	_, err := Compare(Int(1), String("a"))
	if err == nil {
		t.Fatalf("expected ErrIncomparable")
	}
}

func TestValueCompareIntFloatPromotion(t *testing.T) {
	r, err := Compare(Int(1), Float(1.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != Less {
		t.Fatalf("expected Less, got %v", r)
	}
}

func TestScopedStateRestore(t *testing.T) {
	s := NewScopedState(Null)
	s.Set("a", Int(1))
	snap := s.Snapshot()
	s.Set("a", Int(2))
	s.Restore(snap)
	got, _ := s.Get("a")
	if n, _ := got.AsInt(); n != 1 {
		t.Fatalf("restore failed, got %v", got)
	}
}
