package orchestrator

import (
	"fmt"

	"github.com/thinksystem/sleet/storage"
	"github.com/thinksystem/sleet/value"
)

// toRecord converts sess into its durable shape. Caller holds sess.mu.
func (s *Session) toRecord() (storage.SessionRecord, error) {
	snap, err := s.state.Snapshot().MarshalCBOR()
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("orchestrator: encoding session state: %w", err)
	}
	loop := make([]storage.LoopFrame, len(s.loopStack))
	for i, f := range s.loopStack {
		loop[i] = storage.LoopFrame{ForEachBlockID: f.ForEachBlockID, Index: f.Index}
	}
	return storage.SessionRecord{
		ID:             s.ID,
		Tenant:         s.Tenant,
		ContractRef:    s.ContractRef,
		CurrentBlockID: s.currentBlockID,
		LoopStack:      loop,
		GasBudget:      s.gasBudget,
		GasRemaining:   s.gasRemaining,
		Status:         uint8(s.Status),
		StateSnapshot:  snap,
		CreatedAt:      s.CreatedAt,
		LastEventAt:    s.LastEventAt,
	}, nil
}

// checkpointToRecord converts cp into its durable shape.
func checkpointToRecord(sessionID string, cp Checkpoint) (storage.CheckpointRecord, error) {
	snap, err := cp.Snapshot.MarshalCBOR()
	if err != nil {
		return storage.CheckpointRecord{}, fmt.Errorf("orchestrator: encoding checkpoint state: %w", err)
	}
	loop := make([]storage.LoopFrame, len(cp.LoopStack))
	for i, f := range cp.LoopStack {
		loop[i] = storage.LoopFrame{ForEachBlockID: f.ForEachBlockID, Index: f.Index}
	}
	return storage.CheckpointRecord{
		ID:        cp.ID,
		SessionID: sessionID,
		Label:     cp.Label,
		BlockID:   cp.BlockID,
		LoopStack: loop,
		Snapshot:  snap,
		CreatedAt: cp.CreatedAt,
	}, nil
}

// checkpointFromRecord is the inverse of checkpointToRecord, used by Restore
// when reconstituting a session from storage rather than from an in-memory
// Checkpoint returned earlier in the same process.
func checkpointFromRecord(r storage.CheckpointRecord) (Checkpoint, error) {
	var snap value.Value
	if err := snap.UnmarshalCBOR(r.Snapshot); err != nil {
		return Checkpoint{}, fmt.Errorf("orchestrator: decoding checkpoint state: %w", err)
	}
	loop := make([]loopFrame, len(r.LoopStack))
	for i, f := range r.LoopStack {
		loop[i] = loopFrame{ForEachBlockID: f.ForEachBlockID, Index: f.Index}
	}
	return Checkpoint{
		ID:        r.ID,
		Label:     r.Label,
		BlockID:   r.BlockID,
		LoopStack: loop,
		Snapshot:  snap,
		CreatedAt: r.CreatedAt,
	}, nil
}

// persistLocked writes sess's current state to the Coordinator's store, if
// one is configured. Caller holds sess.mu. Persistence failures are
// reported via the returned error, which the dispatch paths discard, so
// they never fail the dispatch loop itself — durable
// storage is a side effect of execution, not a precondition for it.
func (c *Coordinator) persistLocked(sess *Session) error {
	if c.store == nil {
		return nil
	}
	rec, err := sess.toRecord()
	if err != nil {
		return err
	}
	return c.store.SaveSession(rec)
}
