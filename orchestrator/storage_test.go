package orchestrator

import (
	"context"
	"testing"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/storage"
	"github.com/thinksystem/sleet/value"
)

func TestCoordinatorPersistsAndRestoresFromStore(t *testing.T) {
	store, err := storage.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	def := &flow.FlowDefinition{
		Name:         "ask-persist",
		StartBlockID: "ask",
		InitialState: value.EmptyMap(),
		Blocks: []flow.RawBlock{
			{ID: "ask", Kind: flow.KindAwaitInput, InteractionID: "q1", AgentID: "agent-1", Prompt: `"continue?"`, StateKey: "answer", Next: "done"},
			{ID: "done", Kind: flow.KindTerminate},
		},
	}
	contract := mustTranspile(t, def)
	coord := New(Config{}, bytecode.NewRegistry(), nil, nil).WithStore(store)
	defer coord.Stop()

	id, err := coord.Start(context.Background(), contract, "tenant-a", 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := store.LoadSession(id)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if rec.Tenant != "tenant-a" || rec.CurrentBlockID != "ask" || rec.Status != uint8(StatusSuspended) {
		t.Fatalf("unexpected persisted session: %+v", rec)
	}

	cpID, err := coord.Checkpoint(id, "snap")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, err := store.LoadCheckpoint(cpID); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}

	newID, err := coord.RestoreFromStore(context.Background(), contract, "tenant-a", 0, cpID)
	if err != nil {
		t.Fatalf("RestoreFromStore: %v", err)
	}
	v, err := coord.Status(newID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Status != StatusSuspended {
		t.Fatalf("expected restored session to resume suspended, got %v", v.Status)
	}
}
