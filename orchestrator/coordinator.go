package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/jit"
	"github.com/thinksystem/sleet/pipeline"
	"github.com/thinksystem/sleet/policygate"
	"github.com/thinksystem/sleet/profiler"
	"github.com/thinksystem/sleet/storage"
	"github.com/thinksystem/sleet/value"
)

// Config bundles the Coordinator's tunables.
type Config struct {
	WorkerPoolSize    int
	DefaultGasBudget  uint64
	MaxConcurrent     int
	TenantQuota       map[string]int
	MaxBlocksPerStep  int // cooperative-cancellation/runaway-loop guard
}

// Coordinator is the Orchestration Coordinator (spec §4.7).
type Coordinator struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64

	vm        *bytecode.VM
	ffi       *bytecode.Registry
	scheduler *Scheduler
	pool      *workerPool
	pipeline  *pipeline.Pipeline
	store     *storage.Store
	Events    *EventBus

	profiler *profiler.Profiler
	jit      *jit.Compiler

	now func() time.Time
}

// WithHybridExecution wires the execution profiler and JIT compiler into
// the Coordinator's block dispatch (spec §4.5): every Compute/Conditional
// expression chunk and every AwaitInput prompt and Display message chunk
// is timed via prof.RecordInvocation, and a chunk
// whose fingerprint already has a cached native routine in jitc runs that
// routine instead of interpreting. When RecordInvocation reports a
// fingerprint just went hot, dispatch itself calls jitc.Enqueue with the
// chunk (the profiler's OnHot hook carries no chunk reference, only the
// fingerprint, so the enqueue has to happen at the call site that still
// has the chunk in hand). Either argument may be nil, in which case
// dispatch always interprets. Returns c for chaining off New.
func (c *Coordinator) WithHybridExecution(prof *profiler.Profiler, jitc *jit.Compiler) *Coordinator {
	c.profiler = prof
	c.jit = jitc
	return c
}

// WithStore attaches a durable store: every Start/Resume/Checkpoint/Restore
// persists the affected session (and, for Checkpoint, the checkpoint
// itself) so a process restart can recover in-flight work via
// LoadSession/FindSessionsByStatus. Returns c for chaining off New.
func (c *Coordinator) WithStore(s *storage.Store) *Coordinator {
	c.store = s
	return c
}

// New constructs a Coordinator. pipe may be nil (no persistence-intent
// submission for StateCheckpoint blocks).
func New(cfg Config, ffi *bytecode.Registry, scheduler *Scheduler, pipe *pipeline.Pipeline) *Coordinator {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.DefaultGasBudget == 0 {
		cfg.DefaultGasBudget = 1_000_000
	}
	if cfg.MaxBlocksPerStep <= 0 {
		cfg.MaxBlocksPerStep = 100_000
	}
	return &Coordinator{
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		vm:        bytecode.NewVM(),
		ffi:       ffi,
		scheduler: scheduler,
		pool:      newWorkerPool(cfg.WorkerPoolSize),
		pipeline:  pipe,
		Events:    NewEventBus(),
		now:       time.Now,
	}
}

// Stop shuts down the Coordinator's worker pool.
func (c *Coordinator) Stop() { c.pool.Stop() }

// Start creates a new Session from contract and drives it synchronously
// until suspension, completion, or failure, then returns its id (the
// caller learns the outcome via Status).
func (c *Coordinator) Start(ctx context.Context, contract *flow.Contract, tenant string, gasBudget uint64) (string, error) {
	if c.scheduler != nil {
		if err := c.scheduler.Admit(tenant); err != nil {
			return "", err
		}
	}
	if gasBudget == 0 {
		gasBudget = c.cfg.DefaultGasBudget
	}

	id := fmt.Sprintf("sess-%d", c.nextID.Add(1))
	now := c.now()
	sess := &Session{
		ID:             id,
		Tenant:         tenant,
		ContractRef:    contract.ID,
		Contract:       contract,
		state:          value.NewScopedState(contract.InitialState.Clone()),
		currentBlockID: contract.StartBlockID,
		gasBudget:      gasBudget,
		gasRemaining:   gasBudget,
		Status:         StatusRunning,
		CreatedAt:      now,
		LastEventAt:    now,
	}

	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	c.Events.publish(Event{Kind: EventSessionStarted, SessionID: id, Tenant: tenant, At: now})

	err := c.pool.Do(func() { c.drive(ctx, sess) })
	c.publishTerminalEvent(sess)
	c.persist(sess)
	if c.scheduler != nil && sess.terminal() {
		c.scheduler.Release(tenant)
	}
	return id, err
}

// Resume supplies input for a Suspended session's pending interaction and
// drives it until the next suspension, completion, or failure.
func (c *Coordinator) Resume(ctx context.Context, sessionID string, input value.Value) (View, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return View{}, err
	}

	sess.mu.Lock()
	if sess.Status != StatusSuspended {
		sess.mu.Unlock()
		return View{}, &SessionError{Kind: KindInvalidResume, Message: "session is not suspended"}
	}
	si := sess.SuspendedInteraction
	sess.SuspendedInteraction = nil

	if si.Kind == InteractionForeignCall {
		outcome := c.vm.Resume(si.continuation, input)
		sess.applyVMOutcome(outcome, si.StateKey)
	} else if si.StateKey != "" {
		_ = sess.state.Set(si.StateKey, input)
	}
	sess.Status = StatusRunning
	sess.mu.Unlock()
	c.Events.publish(Event{Kind: EventSessionResumed, SessionID: sessionID, Tenant: sess.Tenant, At: c.now()})

	err = c.pool.Do(func() { c.drive(ctx, sess) })
	c.publishTerminalEvent(sess)
	c.persist(sess)
	if c.scheduler != nil && sess.terminal() {
		c.scheduler.Release(sess.Tenant)
	}
	if err != nil {
		return View{}, err
	}
	return c.Status(sessionID)
}

// persist writes sess to the configured store, if any. Failures are
// swallowed here (not surfaced to the caller of Start/Resume/Restore):
// durable persistence is best-effort bookkeeping, not a condition of the
// session's own success, the same stance pipeline.Pipeline takes toward
// its optional Redis mirror.
func (c *Coordinator) persist(sess *Session) {
	if c.store == nil {
		return
	}
	sess.mu.Lock()
	_ = c.persistLocked(sess)
	sess.mu.Unlock()
}

// publishTerminalEvent emits the Event matching sess's status right after
// a drive() call returns (Suspended/Completed/Failed/Cancelled).
func (c *Coordinator) publishTerminalEvent(sess *Session) {
	sess.mu.Lock()
	v := sess.view()
	sess.mu.Unlock()

	var kind EventKind
	switch v.Status {
	case StatusSuspended:
		kind = EventSessionSuspended
	case StatusCompleted:
		kind = EventSessionCompleted
	case StatusFailed:
		kind = EventSessionFailed
	case StatusCancelled:
		kind = EventSessionCancelled
	default:
		return
	}
	detail := ""
	if v.Err != nil {
		detail = v.Err.Error()
	}
	c.Events.publish(Event{Kind: kind, SessionID: v.ID, Tenant: v.Tenant, BlockID: v.CurrentBlockID, Detail: detail, At: c.now()})
}

// OnFlowControlSignal publishes a Gate Signal as a FlowControlSignalEmitted
// event, so the httpapi websocket stream can carry backpressure-level
// changes alongside session events (spec §6). Callers wire this with
// gate.Subscribe(coord.OnFlowControlSignal) alongside the Scheduler's own
// subscription to the same Gate.
func (c *Coordinator) OnFlowControlSignal(sig policygate.Signal) {
	c.Events.publish(Event{
		Kind:   EventFlowControlSignalEmitted,
		Detail: sig.Level.String() + ":" + sig.RecommendedAction,
		At:     c.now(),
	})
}

// DeliverCommitReceipts publishes one CommitReceiptDelivered event per
// receipt, fanning out the Policy Gate's Consume decisions (spec §4.8) to
// every correlation id a coalesced group's originators share — spec §8.4's
// "two correlation ids, identical CommitReceipts delivered to both
// originators" is satisfied by publishing the same receipt detail once per
// id in CorrelationIDs.
func (c *Coordinator) DeliverCommitReceipts(receipts []pipeline.CommitReceipt) {
	now := c.now()
	for _, r := range receipts {
		ids := r.CorrelationIDs
		if len(ids) == 0 {
			ids = []string{r.IntentHash.String()}
		}
		for _, id := range ids {
			c.Events.publish(Event{
				Kind:      EventCommitReceiptDelivered,
				SessionID: id,
				Tenant:    r.Tenant,
				Detail:    r.Decision.String(),
				At:        now,
			})
		}
	}
}

// Status returns a read-only snapshot of a session.
func (c *Coordinator) Status(sessionID string) (View, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// Cancel requests cooperative cancellation: the running session's drive
// loop observes the request between block dispatches and stops, marking
// the session Cancelled. A Suspended session is cancelled immediately.
func (c *Coordinator) Cancel(sessionID string) error {
	sess, err := c.get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cancelRequested = true
	if sess.Status == StatusSuspended {
		sess.Status = StatusCancelled
		sess.Err = &SessionError{Kind: KindCancelled, Message: "session cancelled while suspended"}
		if c.scheduler != nil {
			c.scheduler.Release(sess.Tenant)
		}
	}
	return nil
}

// Checkpoint takes a manual, externally triggered snapshot of a session
// (distinct from a StateCheckpoint block firing during dispatch).
func (c *Coordinator) Checkpoint(sessionID, label string) (string, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	cp := sess.snapshotLocked(label, c.now())
	sess.Checkpoints = append(sess.Checkpoints, cp)
	c.Events.publish(Event{Kind: EventCheckpointCreated, SessionID: sessionID, Tenant: sess.Tenant, Detail: cp.ID, At: c.now()})
	if c.store != nil {
		if rec, err := checkpointToRecord(sessionID, cp); err == nil {
			_ = c.store.SaveCheckpoint(rec)
		}
		_ = c.persistLocked(sess)
	}
	return cp.ID, nil
}

// Restore creates a new Session from contract, seeded with checkpoint's
// state and execution position, rather than contract's initial_state.
func (c *Coordinator) Restore(ctx context.Context, contract *flow.Contract, tenant string, gasBudget uint64, cp Checkpoint) (string, error) {
	if cp.BlockID == "" {
		return "", &SessionError{Kind: KindInvalidRestore, Message: "checkpoint has no execution position"}
	}
	if c.scheduler != nil {
		if err := c.scheduler.Admit(tenant); err != nil {
			return "", err
		}
	}
	if gasBudget == 0 {
		gasBudget = c.cfg.DefaultGasBudget
	}
	id := fmt.Sprintf("sess-%d", c.nextID.Add(1))
	now := c.now()
	sess := &Session{
		ID:             id,
		Tenant:         tenant,
		ContractRef:    contract.ID,
		Contract:       contract,
		state:          value.NewScopedState(cp.Snapshot.Clone()),
		currentBlockID: cp.BlockID,
		loopStack:      append([]loopFrame(nil), cp.LoopStack...),
		gasBudget:      gasBudget,
		gasRemaining:   gasBudget,
		Status:         StatusRunning,
		CreatedAt:      now,
		LastEventAt:    now,
	}
	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	c.Events.publish(Event{Kind: EventSessionStarted, SessionID: id, Tenant: tenant, BlockID: cp.BlockID, Detail: "restored from " + cp.ID, At: now})

	err := c.pool.Do(func() { c.drive(ctx, sess) })
	c.publishTerminalEvent(sess)
	c.persist(sess)
	if c.scheduler != nil && sess.terminal() {
		c.scheduler.Release(tenant)
	}
	return id, err
}

// RestoreFromStore loads checkpointID from the configured store and
// restores a session from it, letting a caller recover from a checkpoint
// taken in a previous process (the in-memory Checkpoint a live Coordinator
// hands back from Checkpoint never survives a restart on its own).
func (c *Coordinator) RestoreFromStore(ctx context.Context, contract *flow.Contract, tenant string, gasBudget uint64, checkpointID string) (string, error) {
	if c.store == nil {
		return "", &SessionError{Kind: KindInvalidRestore, Message: "no store configured"}
	}
	rec, err := c.store.LoadCheckpoint(checkpointID)
	if err != nil {
		return "", &SessionError{Kind: KindInvalidRestore, Message: err.Error()}
	}
	cp, err := checkpointFromRecord(rec)
	if err != nil {
		return "", &SessionError{Kind: KindInvalidRestore, Message: err.Error()}
	}
	return c.Restore(ctx, contract, tenant, gasBudget, cp)
}

func (c *Coordinator) get(sessionID string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, &SessionError{Kind: KindUnknownSession, Message: sessionID}
	}
	return sess, nil
}

func (s *Session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status != StatusRunning && s.Status != StatusSuspended
}

func (s *Session) snapshotLocked(label string, now time.Time) Checkpoint {
	return Checkpoint{
		ID:        uuid.NewString(),
		Label:     label,
		BlockID:   s.currentBlockID,
		LoopStack: append([]loopFrame(nil), s.loopStack...),
		Snapshot:  s.state.Snapshot(),
		CreatedAt: now,
	}
}

// applyVMOutcome folds a completed (non-suspending) VM outcome back into
// session state at outputKey, or marks the session Failed.
func (s *Session) applyVMOutcome(outcome bytecode.VmOutcome, outputKey string) {
	switch outcome.Kind {
	case bytecode.OutcomeHalted:
		if outputKey != "" {
			_ = s.state.Set(outputKey, outcome.Result)
		}
	case bytecode.OutcomeFailed:
		s.Status = StatusFailed
		s.Err = &SessionError{Kind: ErrorKind(outcome.Err.Kind), Message: outcome.Err.Message, BlockID: s.currentBlockID, InstructionOffset: outcome.Err.Offset}
	}
	s.Resource.GasConsumed += outcome.GasUsed
}
