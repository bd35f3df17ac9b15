package policygate

import (
	"testing"
	"time"
)

func TestEvaluateRulesAcceptsWithinBounds(t *testing.T) {
	bundle := DefaultBundle("test")
	g := NewGate(bundle)
	g.now = fakeClock(time.Unix(0, 0))

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 1024, Priority: 1, SubmittedAt: g.now()})
	if eval.Outcome != OutcomeAccepted {
		t.Fatalf("expected Accepted, got %v (rules %v)", eval.Outcome, eval.RulesFired)
	}
	if len(eval.RulesFired) != 1 || eval.RulesFired[0] != "within-bounds" {
		t.Fatalf("expected within-bounds to fire, got %v", eval.RulesFired)
	}
}

func TestEvaluateRulesRejectsOversizedPayload(t *testing.T) {
	bundle := DefaultBundle("test")
	bundle.MaxPayloadBytes = 100
	g := NewGate(bundle)
	g.now = fakeClock(time.Unix(0, 0))

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 200, Priority: 1, SubmittedAt: g.now()})
	if eval.Outcome != OutcomeRejected {
		t.Fatalf("expected Rejected, got %v", eval.Outcome)
	}
	if len(eval.RulesFired) != 1 || eval.RulesFired[0] != "payload-size-limit" {
		t.Fatalf("expected payload-size-limit to fire, got %v", eval.RulesFired)
	}
}

func TestEvaluateRulesRejectsStaleIntent(t *testing.T) {
	bundle := DefaultBundle("test")
	bundle.MaxQueueAgeSec = 1
	g := NewGate(bundle)

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 10, Priority: 1, SubmittedAt: time.Now().Add(-time.Hour)})
	if eval.Outcome != OutcomeRejected {
		t.Fatalf("expected Rejected for stale intent, got %v", eval.Outcome)
	}
}

func TestEvaluateRulesRejectsLowPriorityUnderRed(t *testing.T) {
	bundle := DefaultBundle("test")
	g := NewGate(bundle)
	g.now = fakeClock(time.Unix(0, 0))
	g.lastLevel = LevelRed

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 10, Priority: 0, SubmittedAt: g.now()})
	if eval.Outcome != OutcomeRejected {
		t.Fatalf("expected Rejected under red backpressure for low priority, got %v", eval.Outcome)
	}
	if len(eval.RulesFired) != 1 || eval.RulesFired[0] != "red-backpressure-quarantine" {
		t.Fatalf("expected red-backpressure-quarantine to fire, got %v", eval.RulesFired)
	}
}

func TestEvaluateRulesHighPrioritySurvivesRed(t *testing.T) {
	bundle := DefaultBundle("test")
	g := NewGate(bundle)
	g.now = fakeClock(time.Unix(0, 0))
	g.lastLevel = LevelRed

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 10, Priority: highPriorityOrdinal, SubmittedAt: g.now()})
	if eval.Outcome != OutcomeAccepted {
		t.Fatalf("expected High priority to survive red backpressure, got %v", eval.Outcome)
	}
}

func TestShadowBundleDivergenceIsRecordedNotApplied(t *testing.T) {
	active := DefaultBundle("active")
	shadow := DefaultBundle("shadow")
	shadow.MaxPayloadBytes = 50 // stricter than active, so it diverges on a mid-sized payload

	store := NewBundleStore()
	if err := store.Register(active); err != nil {
		t.Fatalf("Register active: %v", err)
	}
	if err := store.Transition("active", StageStaging); err != nil {
		t.Fatalf("Staging: %v", err)
	}
	if err := store.Transition("active", StageShadow); err != nil {
		t.Fatalf("Shadow: %v", err)
	}
	if err := store.PromoteActive("active", []string{"signer-1"}); err != nil {
		t.Fatalf("PromoteActive: %v", err)
	}
	if err := store.Register(shadow); err != nil {
		t.Fatalf("Register shadow: %v", err)
	}
	if err := store.Transition("shadow", StageStaging); err != nil {
		t.Fatalf("shadow Staging: %v", err)
	}
	if err := store.Transition("shadow", StageShadow); err != nil {
		t.Fatalf("shadow Shadow: %v", err)
	}

	g := NewGate(active).WithBundleStore(store)
	g.now = fakeClock(time.Unix(0, 0))

	eval := g.Evaluate(RuleInput{Tenant: "t1", PayloadSize: 100, Priority: 1, SubmittedAt: g.now()})
	if eval.Outcome != OutcomeAccepted {
		t.Fatalf("active bundle should accept a 100-byte payload, got %v", eval.Outcome)
	}
	evaluated, diverged := g.ShadowMetrics()
	if evaluated != 1 {
		t.Fatalf("expected 1 shadow evaluation, got %d", evaluated)
	}
	if diverged != 1 {
		t.Fatalf("expected the shadow bundle's stricter limit to diverge from the active decision, got %d", diverged)
	}
}

func TestPromoteActiveRequiresQuorumSigners(t *testing.T) {
	store := NewBundleStore()
	if err := store.Register(DefaultBundle("b1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Transition("b1", StageStaging); err != nil {
		t.Fatalf("Staging: %v", err)
	}
	if err := store.Transition("b1", StageShadow); err != nil {
		t.Fatalf("Shadow: %v", err)
	}
	if err := store.PromoteActive("b1", nil); err == nil {
		t.Fatal("expected PromoteActive with no signers to fail")
	}
	if err := store.PromoteActive("b1", []string{"signer-1"}); err != nil {
		t.Fatalf("PromoteActive with a signer: %v", err)
	}
}
