package profiler

import (
	"testing"
	"time"

	"github.com/thinksystem/sleet/fingerprint"
)

func testFingerprint() fingerprint.Hash {
	return fingerprint.BytecodeFingerprint([]byte{1, 2, 3}, 0)
}

func TestRecordInvocationBecomesHotAtThreshold(t *testing.T) {
	p := NewProfiler(Policy{HotThreshold: 3, MinAvgDuration: 0})
	fp := testFingerprint()

	var becameHot bool
	for i := 0; i < 3; i++ {
		if p.RecordInvocation(fp, time.Microsecond) {
			becameHot = true
		}
	}
	if !becameHot {
		t.Fatalf("expected fingerprint to become hot at threshold")
	}
	if p.Get(fp).Status() != StatusHot {
		t.Fatalf("expected status Hot, got %s", p.Get(fp).Status())
	}
}

func TestRecordInvocationBelowDurationFloorStaysCold(t *testing.T) {
	p := NewProfiler(Policy{HotThreshold: 1, MinAvgDuration: time.Millisecond})
	fp := testFingerprint()
	if p.RecordInvocation(fp, time.Microsecond) {
		t.Fatalf("expected fingerprint to stay cold below the duration floor")
	}
}

func TestOnHotFiresExactlyOnce(t *testing.T) {
	p := NewProfiler(Policy{HotThreshold: 2, MinAvgDuration: 0})
	fp := testFingerprint()
	fires := 0
	p.OnHot = func(got fingerprint.Hash, r *Record) { fires++ }

	for i := 0; i < 10; i++ {
		p.RecordInvocation(fp, time.Microsecond)
	}
	if fires != 1 {
		t.Fatalf("expected OnHot to fire once, fired %d times", fires)
	}
}

func TestMarkQueuedIsNoOpWhileQueuedOrCompiled(t *testing.T) {
	p := NewProfiler(DefaultPolicy())
	fp := testFingerprint()

	if !p.MarkQueued(fp) {
		t.Fatalf("expected first MarkQueued to succeed")
	}
	if p.MarkQueued(fp) {
		t.Fatalf("expected second MarkQueued to be a no-op while Queued")
	}

	p.MarkCompiled(fp)
	if p.MarkQueued(fp) {
		t.Fatalf("expected MarkQueued to be a no-op while Compiled")
	}
}

func TestDecaySweepHalvesStaleCountsAndDemotesHot(t *testing.T) {
	clock := time.Unix(0, 0)
	p := NewProfiler(Policy{HotThreshold: 2, MinAvgDuration: 0, DecayWindow: time.Second})
	p.now = func() time.Time { return clock }
	fp := testFingerprint()

	p.RecordInvocation(fp, time.Microsecond)
	p.RecordInvocation(fp, time.Microsecond)
	if p.Get(fp).Status() != StatusHot {
		t.Fatalf("expected Hot before decay")
	}

	clock = clock.Add(2 * time.Second)
	p.DecaySweep()

	r := p.Get(fp)
	if r.ExecutionCount != 1 {
		t.Fatalf("expected halved count 1, got %d", r.ExecutionCount)
	}
	if r.Status() != StatusCold {
		t.Fatalf("expected demotion to Cold after decay, got %s", r.Status())
	}
}

func TestDecaySweepLeavesRecentlyObservedAlone(t *testing.T) {
	clock := time.Unix(0, 0)
	p := NewProfiler(Policy{HotThreshold: 100, MinAvgDuration: 0, DecayWindow: time.Minute})
	p.now = func() time.Time { return clock }
	fp := testFingerprint()

	p.RecordInvocation(fp, time.Microsecond)
	p.RecordInvocation(fp, time.Microsecond)
	clock = clock.Add(time.Second)
	p.DecaySweep()

	if p.Get(fp).ExecutionCount != 2 {
		t.Fatalf("expected count unchanged for a fingerprint within the decay window, got %d", p.Get(fp).ExecutionCount)
	}
}
