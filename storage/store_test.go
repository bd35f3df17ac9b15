package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := SessionRecord{
		ID:             "sess-1",
		Tenant:         "tenant-a",
		ContractRef:    "contract-1",
		CurrentBlockID: "ask",
		LoopStack:      []LoopFrame{{ForEachBlockID: "loop", Index: 2}},
		GasBudget:      1000,
		GasRemaining:   400,
		Status:         1,
		StateSnapshot:  []byte{0xa0},
		CreatedAt:      now,
		LastEventAt:    now,
	}
	if err := s.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Tenant != "tenant-a" || got.CurrentBlockID != "ask" || got.GasRemaining != 400 {
		t.Fatalf("round-tripped record mismatch: %+v", got)
	}
	if len(got.LoopStack) != 1 || got.LoopStack[0].ForEachBlockID != "loop" || got.LoopStack[0].Index != 2 {
		t.Fatalf("loop stack did not round-trip: %+v", got.LoopStack)
	}

	rec.GasRemaining = 100
	rec.Status = 2
	if err := s.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession (update): %v", err)
	}
	got, _ = s.LoadSession("sess-1")
	if got.GasRemaining != 100 || got.Status != 2 {
		t.Fatalf("update did not persist: %+v", got)
	}

	if _, err := s.LoadSession("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindSessionsByTenantAndStatus(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	for i, tenant := range []string{"a", "a", "b"} {
		s.SaveSession(SessionRecord{ID: idFor(i), Tenant: tenant, Status: uint8(i), CreatedAt: now, LastEventAt: now})
	}

	byTenant, err := s.FindSessionsByTenant("a")
	if err != nil || len(byTenant) != 2 {
		t.Fatalf("FindSessionsByTenant: got %d, err=%v", len(byTenant), err)
	}

	byStatus, err := s.FindSessionsByStatus(0)
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("FindSessionsByStatus: got %d, err=%v", len(byStatus), err)
	}
}

func idFor(i int) string {
	return []string{"sess-a", "sess-b", "sess-c"}[i]
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	cp := CheckpointRecord{
		ID:        "sess-1-cp-1",
		SessionID: "sess-1",
		Label:     "before-answer",
		BlockID:   "ask",
		LoopStack: []LoopFrame{{ForEachBlockID: "loop", Index: 1}},
		Snapshot:  []byte{0xa1, 0x61, 0x78, 0x01},
		CreatedAt: now,
	}
	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := s.LoadCheckpoint("sess-1-cp-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.BlockID != "ask" || got.SessionID != "sess-1" {
		t.Fatalf("checkpoint mismatch: %+v", got)
	}

	s.SaveCheckpoint(CheckpointRecord{ID: "sess-1-cp-2", SessionID: "sess-1", BlockID: "done", CreatedAt: now})
	list, err := s.FindCheckpointsBySession("sess-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("FindCheckpointsBySession: got %d, err=%v", len(list), err)
	}
	if list[0].ID != "sess-1-cp-1" || list[1].ID != "sess-1-cp-2" {
		t.Fatalf("expected insertion order, got %v", list)
	}
}

func TestContractVersioning(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveContract(ContractRecord{ID: "c1", Version: 1, Definition: []byte("v1")}); err != nil {
		t.Fatalf("SaveContract v1: %v", err)
	}
	if err := s.SaveContract(ContractRecord{ID: "c1", Version: 2, Definition: []byte("v2")}); err != nil {
		t.Fatalf("SaveContract v2: %v", err)
	}

	got, err := s.LoadContract("c1", 1)
	if err != nil || string(got.Definition) != "v1" {
		t.Fatalf("LoadContract v1: %+v, err=%v", got, err)
	}

	latest, err := s.LatestContractVersion("c1")
	if err != nil || latest.Version != 2 || string(latest.Definition) != "v2" {
		t.Fatalf("LatestContractVersion: %+v, err=%v", latest, err)
	}

	if _, err := s.LatestContractVersion("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPolicyBundlePersistence(t *testing.T) {
	s := openTestStore(t)

	if err := s.SavePolicyBundle(PolicyBundleRecord{ID: "default", Stage: "Active", Data: []byte{0x01}}); err != nil {
		t.Fatalf("SavePolicyBundle: %v", err)
	}
	got, err := s.LoadPolicyBundle("default")
	if err != nil || got.Stage != "Active" {
		t.Fatalf("LoadPolicyBundle: %+v, err=%v", got, err)
	}

	s.SavePolicyBundle(PolicyBundleRecord{ID: "experimental", Stage: "Shadow", Data: []byte{0x02}})
	all, err := s.LoadAllPolicyBundles()
	if err != nil || len(all) != 2 {
		t.Fatalf("LoadAllPolicyBundles: got %d, err=%v", len(all), err)
	}
}
