package orchestrator

import (
	"context"
	"testing"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/pipeline"
	"github.com/thinksystem/sleet/policygate"
	"github.com/thinksystem/sleet/value"
)

func mustTranspile(t *testing.T, def *flow.FlowDefinition) *flow.Contract {
	t.Helper()
	c, err := flow.Transpile(def, bytecode.NewRegistry())
	if err != nil {
		t.Fatalf("Transpile: %v", err)
	}
	return c
}

func TestCoordinatorRunsArithmeticFlowToCompletion(t *testing.T) {
	def := &flow.FlowDefinition{
		Name:         "arith",
		StartBlockID: "compute",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "compute", Kind: flow.KindCompute, Expression: "(15 + 8) > 20", OutputKey: "result", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	id, err := coord.Start(context.Background(), contract, "tenant-a", 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	v, err := coord.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (err=%v)", v.Status, v.Err)
	}
	m, _ := v.Result.AsMap()
	b, _ := m["result"].AsBool()
	if !b {
		t.Fatal("expected result.result to be true")
	}
}

func TestCoordinatorSuspendsAndResumesOnAwaitInput(t *testing.T) {
	def := &flow.FlowDefinition{
		Name:         "ask",
		StartBlockID: "ask",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "ask", Kind: flow.KindAwaitInput, InteractionID: "q1", AgentID: "agent-1", Prompt: `"what is your name?"`, StateKey: "name", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	id, err := coord.Start(context.Background(), contract, "tenant-a", 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	v, _ := coord.Status(id)
	if v.Status != StatusSuspended {
		t.Fatalf("expected Suspended, got %v (err=%v)", v.Status, v.Err)
	}
	if v.SuspendedInteraction == nil || v.SuspendedInteraction.Kind != InteractionAwaitInput {
		t.Fatal("expected an AwaitInput suspension")
	}

	v, err = coord.Resume(context.Background(), id, value.String("Ada"))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if v.Status != StatusCompleted {
		t.Fatalf("expected Completed after resume, got %v (err=%v)", v.Status, v.Err)
	}
	name, _ := v.Result.AsMap()
	s, _ := name["name"].AsString()
	if s != "Ada" {
		t.Fatalf("expected name=Ada, got %q", s)
	}
}

func TestCoordinatorForEachAccumulates(t *testing.T) {
	initial := value.Map(map[string]value.Value{
		"items": value.Seq(value.Int(1), value.Int(2), value.Int(3)),
		"sum":   value.Int(0),
	})
	def := &flow.FlowDefinition{
		Name:         "sum-loop",
		StartBlockID: "loop",
		InitialState: initial,
		Blocks: []flow.RawBlock{
			{ID: "loop", Kind: flow.KindForEach, CollectionPath: "items", ItemKey: "item", BodyEntry: "accumulate", After: "done"},
			{ID: "accumulate", Kind: flow.KindCompute, Expression: "sum + item", OutputKey: "sum", Next: "cont"},
			{ID: "cont", Kind: flow.KindContinue, Loop: "loop"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	id, err := coord.Start(context.Background(), contract, "tenant-a", 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	v, _ := coord.Status(id)
	if v.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (err=%v)", v.Status, v.Err)
	}
	m, _ := v.Result.AsMap()
	sum, _ := m["sum"].AsInt()
	if sum != 6 {
		t.Fatalf("expected sum=6, got %d", sum)
	}
}

func TestCoordinatorCheckpointAndRestore(t *testing.T) {
	def := &flow.FlowDefinition{
		Name:         "ask2",
		StartBlockID: "ask",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "ask", Kind: flow.KindAwaitInput, InteractionID: "q1", AgentID: "agent-1", Prompt: `"continue?"`, StateKey: "answer", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	id, _ := coord.Start(context.Background(), contract, "tenant-a", 0)
	cpID, err := coord.Checkpoint(id, "before-answer")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	sess, _ := coord.get(id)
	sess.mu.Lock()
	var cp Checkpoint
	for _, c := range sess.Checkpoints {
		if c.ID == cpID {
			cp = c
		}
	}
	sess.mu.Unlock()

	newID, err := coord.Restore(context.Background(), contract, "tenant-a", 0, cp)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	v, _ := coord.Status(newID)
	if v.Status != StatusSuspended {
		t.Fatalf("expected restored session to resume suspended at the same block, got %v", v.Status)
	}
}

func TestCoordinatorCancel(t *testing.T) {
	def := &flow.FlowDefinition{
		Name:         "ask3",
		StartBlockID: "ask",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "ask", Kind: flow.KindAwaitInput, InteractionID: "q1", AgentID: "agent-1", Prompt: `"?"`, StateKey: "a", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	id, _ := coord.Start(context.Background(), contract, "tenant-a", 0)
	if err := coord.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	v, _ := coord.Status(id)
	if v.Status != StatusCancelled {
		t.Fatalf("expected Cancelled, got %v", v.Status)
	}
}

func TestCoordinatorEmitsBlockEnteredAndExited(t *testing.T) {
	def := &flow.FlowDefinition{
		Name:         "arith2",
		StartBlockID: "compute",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "compute", Kind: flow.KindCompute, Expression: "1 + 1", OutputKey: "result", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	events := coord.Events.Subscribe(16)
	if _, err := coord.Start(context.Background(), contract, "tenant-a", 0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var entered, exited int
	drain:
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventBlockEntered:
				entered++
			case EventBlockExited:
				exited++
			}
		default:
			break drain
		}
	}
	if entered != 2 || exited != 2 {
		t.Fatalf("expected 2 BlockEntered/BlockExited pairs (compute, done), got %d/%d", entered, exited)
	}
}

func TestCoordinatorDeliverCommitReceiptsFansOutPerCorrelationID(t *testing.T) {
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	events := coord.Events.Subscribe(16)
	coord.DeliverCommitReceipts([]pipeline.CommitReceipt{
		{Tenant: "t1", Decision: pipeline.DecisionAccepted, CorrelationIDs: []string{"a", "b"}},
	})

	var delivered []string
	drain:
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventCommitReceiptDelivered {
				delivered = append(delivered, ev.SessionID)
			}
		default:
			break drain
		}
	}
	if len(delivered) != 2 || delivered[0] != "a" || delivered[1] != "b" {
		t.Fatalf("expected a CommitReceiptDelivered event per correlation id [a b], got %v", delivered)
	}
}

func TestCoordinatorOnFlowControlSignalPublishesEvent(t *testing.T) {
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil)
	defer coord.Stop()

	events := coord.Events.Subscribe(4)
	coord.OnFlowControlSignal(policygate.Signal{Level: policygate.LevelAmber, RecommendedAction: "throttle"})

	select {
	case ev := <-events:
		if ev.Kind != EventFlowControlSignalEmitted {
			t.Fatalf("expected FlowControlSignalEmitted, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected a published event")
	}
}
