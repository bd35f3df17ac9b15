package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/thinksystem/sleet/policygate"
	"github.com/thinksystem/sleet/value"
)

func mkIntent(id, tenant string, payload value.Value, pr Priority) Intent {
	return Intent{ID: id, Tenant: tenant, Payload: payload, Priority: pr}
}

func TestSubmitAndDrainFIFO(t *testing.T) {
	p := New(Config{CapacityPerTenant: 4}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := value.Map(map[string]value.Value{"n": value.Int(int64(i))})
		if _, err := p.Submit(ctx, mkIntent("id"+string(rune('a'+i)), "t1", v, PriorityNormal)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	out := p.Drain("t1", 10)
	if len(out) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(out))
	}
	for i, in := range out {
		n, _ := in.Payload.AsMap()
		got, _ := n["n"].AsInt()
		if got != int64(i) {
			t.Fatalf("expected FIFO order, slot %d has n=%d", i, got)
		}
	}
}

func TestSubmitCoalescesWithinWindow(t *testing.T) {
	p := New(Config{CapacityPerTenant: 4, CoalesceWindow: time.Minute}, nil, nil)
	ctx := context.Background()
	v := value.Map(map[string]value.Value{"counter": value.Int(1)})

	in1 := mkIntent("a", "t1", v, PriorityNormal)
	in1.PayloadHash = fixedHash(1)
	r1, err := p.Submit(ctx, in1)
	if err != nil || r1.Coalesced {
		t.Fatalf("first submit should not coalesce: %v %v", err, r1.Coalesced)
	}

	in2 := mkIntent("b", "t1", v, PriorityNormal)
	in2.PayloadHash = fixedHash(1)
	r2, err := p.Submit(ctx, in2)
	if err != nil || !r2.Coalesced {
		t.Fatalf("second submit with same hash should coalesce: %v %v", err, r2.Coalesced)
	}

	out := p.Drain("t1", 10)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving entry after coalescing, got %d", len(out))
	}
	if out[0].CoalescedCount != 1 {
		t.Fatalf("expected CoalescedCount 1, got %d", out[0].CoalescedCount)
	}
}

func TestSubmitOverflowReject(t *testing.T) {
	p := New(Config{CapacityPerTenant: 1, Overflow: OverflowReject}, nil, nil)
	ctx := context.Background()

	in1 := mkIntent("a", "t1", value.Int(1), PriorityNormal)
	in1.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in1); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	in2 := mkIntent("b", "t1", value.Int(2), PriorityNormal)
	in2.PayloadHash = fixedHash(2)
	_, err := p.Submit(ctx, in2)
	if err == nil {
		t.Fatal("expected QueueFullError on a full shard with OverflowReject")
	}
	if _, ok := err.(*QueueFullError); !ok {
		t.Fatalf("expected *QueueFullError, got %T", err)
	}
}

func TestSubmitOverflowDropsOldestLowPriority(t *testing.T) {
	p := New(Config{CapacityPerTenant: 1, Overflow: OverflowDropOldestLowPriority}, nil, nil)
	ctx := context.Background()

	low := mkIntent("low", "t1", value.Int(1), PriorityLow)
	low.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, low); err != nil {
		t.Fatalf("submit low: %v", err)
	}
	high := mkIntent("high", "t1", value.Int(2), PriorityHigh)
	high.PayloadHash = fixedHash(2)
	if _, err := p.Submit(ctx, high); err != nil {
		t.Fatalf("expected low-priority eviction to make room: %v", err)
	}

	out := p.Drain("t1", 10)
	if len(out) != 1 || out[0].ID != "high" {
		t.Fatalf("expected only the high-priority intent to survive, got %+v", out)
	}
}

func fixedHash(b byte) (h [32]byte) {
	h[0] = b
	return h
}

func TestSubmitRejectsCoalesceCollision(t *testing.T) {
	p := New(Config{CapacityPerTenant: 4, CoalesceWindow: time.Minute}, nil, nil)
	ctx := context.Background()

	in1 := mkIntent("a", "t1", value.Map(map[string]value.Value{"counter": value.Int(1)}), PriorityNormal)
	in1.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in1); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	in2 := mkIntent("b", "t1", value.Map(map[string]value.Value{"counter": value.Int(2)}), PriorityNormal)
	in2.PayloadHash = fixedHash(1) // same hash, different structure: a hash collision
	_, err := p.Submit(ctx, in2)
	if err == nil {
		t.Fatal("expected CoalesceCollisionError for a hash match with differing payloads")
	}
	if _, ok := err.(*CoalesceCollisionError); !ok {
		t.Fatalf("expected *CoalesceCollisionError, got %T", err)
	}

	out := p.Drain("t1", 10)
	if len(out) != 1 {
		t.Fatalf("expected the original intent to remain queued, got %d entries", len(out))
	}
}

func TestCoalescedIntentRetainsBothCorrelationIDs(t *testing.T) {
	p := New(Config{CapacityPerTenant: 4, CoalesceWindow: time.Minute}, nil, nil)
	ctx := context.Background()
	v := value.Map(map[string]value.Value{"counter": value.Int(1)})

	in1 := mkIntent("a", "t1", v, PriorityNormal)
	in1.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in1); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	in2 := mkIntent("b", "t1", v, PriorityNormal)
	in2.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in2); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	out := p.Drain("t1", 10)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(out))
	}
	ids := out[0].CorrelationIDs
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected correlation ids [a b], got %v", ids)
	}
}

func TestDrainPriorityFIFOOrdersHighBeforeLowRegardlessOfArrival(t *testing.T) {
	p := New(Config{CapacityPerTenant: 8}, nil, nil)
	ctx := context.Background()

	low := mkIntent("low", "t1", value.Int(1), PriorityLow)
	low.PayloadHash = fixedHash(1)
	normal := mkIntent("normal", "t1", value.Int(2), PriorityNormal)
	normal.PayloadHash = fixedHash(2)
	high := mkIntent("high", "t1", value.Int(3), PriorityHigh)
	high.PayloadHash = fixedHash(3)

	for _, in := range []Intent{low, normal, high} {
		if _, err := p.Submit(ctx, in); err != nil {
			t.Fatalf("submit %s: %v", in.ID, err)
		}
	}

	s := p.shardFor("t1")
	s.mu.Lock()
	out := s.drainPriorityFIFO(10)
	s.mu.Unlock()

	if len(out) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(out))
	}
	if out[0].ID != "high" || out[1].ID != "normal" || out[2].ID != "low" {
		t.Fatalf("expected high, normal, low order, got %v/%v/%v", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestConsumeEmitsCommitReceiptsWithCorrelationIDs(t *testing.T) {
	bundle := policygate.DefaultBundle("test")
	gate := policygate.NewGate(bundle)
	p := New(Config{CapacityPerTenant: 4, CoalesceWindow: time.Minute}, gate, nil)
	ctx := context.Background()
	v := value.Map(map[string]value.Value{"counter": value.Int(1)})

	in1 := mkIntent("a", "t1", v, PriorityNormal)
	in1.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in1); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	in2 := mkIntent("b", "t1", v, PriorityNormal)
	in2.PayloadHash = fixedHash(1)
	if _, err := p.Submit(ctx, in2); err != nil {
		t.Fatalf("submit b: %v", err)
	}

	receipts := p.Consume(gate, 10)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt for the coalesced group, got %d", len(receipts))
	}
	r := receipts[0]
	if r.Decision != DecisionAccepted {
		t.Fatalf("expected Accepted, got %v", r.Decision)
	}
	if len(r.CorrelationIDs) != 2 || r.CorrelationIDs[0] != "a" || r.CorrelationIDs[1] != "b" {
		t.Fatalf("expected both originators' correlation ids on the receipt, got %v", r.CorrelationIDs)
	}
	if p.Snapshot().Consumed != 1 {
		t.Fatalf("expected Consumed counter to be 1, got %d", p.Snapshot().Consumed)
	}
}
