package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/fingerprint"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/pipeline"
	"github.com/thinksystem/sleet/value"
)

// drive advances sess block-by-block until it suspends, completes, fails,
// is cancelled, or hits ctx's deadline/cancellation — spec §4.7's "step"
// operation, here run to its natural stopping point rather than one block
// at a time, since nothing in this codebase drives a session from more
// than one place concurrently (the Coordinator always calls drive from
// inside a single workerPool.Do closure per session).
func (c *Coordinator) drive(ctx context.Context, sess *Session) {
	for i := 0; i < c.cfg.MaxBlocksPerStep; i++ {
		sess.mu.Lock()
		if sess.cancelRequested {
			sess.Status = StatusCancelled
			sess.Err = &SessionError{Kind: KindCancelled, BlockID: sess.currentBlockID, Message: "cancelled"}
			sess.LastEventAt = c.now()
			sess.mu.Unlock()
			return
		}
		if err := ctx.Err(); err != nil {
			sess.Status = StatusFailed
			sess.Err = &SessionError{Kind: KindDeadlineExceeded, BlockID: sess.currentBlockID, Message: err.Error()}
			sess.LastEventAt = c.now()
			sess.mu.Unlock()
			return
		}

		block, ok := sess.Contract.Blocks[sess.currentBlockID]
		if !ok {
			sess.Status = StatusFailed
			sess.Err = &SessionError{Kind: KindInvalidResume, BlockID: sess.currentBlockID, Message: "current block id not found in contract"}
			sess.mu.Unlock()
			return
		}

		c.Events.publish(Event{Kind: EventBlockEntered, SessionID: sess.ID, Tenant: sess.Tenant, BlockID: block.ID, At: c.now()})
		next, suspend, terminate, derr := c.dispatch(sess, block)
		sess.LastEventAt = c.now()
		c.Events.publish(Event{Kind: EventBlockExited, SessionID: sess.ID, Tenant: sess.Tenant, BlockID: block.ID, At: c.now()})

		if derr != nil {
			if block.ErrorEdge != "" {
				next, derr = block.ErrorEdge, nil
			} else if sess.catchNext != "" {
				next, derr = sess.catchNext, nil
				sess.catchNext = ""
			}
		}
		if derr != nil {
			sess.Status = StatusFailed
			sess.Err = derr
			sess.mu.Unlock()
			return
		}
		if block.Kind != flow.KindTryCatch {
			sess.catchNext = ""
		}
		if suspend {
			sess.Status = StatusSuspended
			sess.mu.Unlock()
			return
		}
		if terminate {
			sess.Status = StatusCompleted
			sess.Result = sess.state.Snapshot()
			sess.mu.Unlock()
			return
		}
		sess.currentBlockID = next
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	sess.Status = StatusFailed
	sess.Err = &SessionError{Kind: KindDeadlineExceeded, BlockID: sess.currentBlockID, Message: "exceeded max blocks per drive step (possible runaway loop)"}
	sess.mu.Unlock()
}

// evalChunk runs chunk to completion, consulting the JIT cache first when
// hybrid execution is wired (spec §4.5): a cached native routine replaces
// the interpreter for that invocation, with gas accounted against the same
// budget either way, so a session's total gas consumption is identical
// regardless of which path ran. Falls back to the interpreter whenever no
// routine is cached yet, or when hybrid execution was never wired at all;
// a chunk whose fingerprint just went hot is handed to the JIT compiler
// for background compilation, never compiled synchronously on this path.
func (c *Coordinator) evalChunk(chunk *bytecode.Chunk, sess *Session, perms bytecode.PermissionSet) bytecode.VmOutcome {
	if c.jit == nil || c.profiler == nil {
		return c.vm.Execute(chunk, sess.state, c.ffi, sess.gasRemaining, perms)
	}

	fp := fingerprint.BytecodeFingerprint(chunk.Code, 0)
	if routine, ok := c.jit.Lookup(fp); ok {
		gas := sess.gasRemaining
		stack, verr := routine(nil, &gas)
		used := sess.gasRemaining - gas
		if verr != nil {
			return bytecode.VmOutcome{Kind: bytecode.OutcomeFailed, Err: verr, GasUsed: used, Counters: bytecode.Counters{GasUsed: used}}
		}
		result := value.Null
		if len(stack) > 0 {
			result = stack[len(stack)-1]
		}
		return bytecode.VmOutcome{Kind: bytecode.OutcomeHalted, Result: result, GasUsed: used, Counters: bytecode.Counters{GasUsed: used}}
	}

	start := time.Now()
	outcome := c.vm.Execute(chunk, sess.state, c.ffi, sess.gasRemaining, perms)
	if c.profiler.RecordInvocation(fp, time.Since(start)) {
		c.jit.Enqueue(fp, chunk)
	}
	return outcome
}

// dispatch executes exactly one block, returning its successor block id
// (meaningless if terminate or suspend is true), whether the session
// should suspend awaiting external input, whether it should terminate, and
// any dispatch error. Caller holds sess.mu.
func (c *Coordinator) dispatch(sess *Session, b *flow.Block) (next string, suspend, terminate bool, err *SessionError) {
	perms := sess.Contract.Permissions

	if sess.gasRemaining == 0 {
		return "", false, false, &SessionError{Kind: ErrorKind(bytecode.KindOutOfGas), BlockID: b.ID, Message: "session gas budget exhausted"}
	}

	evalTo := func(chunk *bytecode.Chunk) (value.Value, *SessionError) {
		outcome := c.evalChunk(chunk, sess, perms)
		sess.Resource.GasConsumed += outcome.GasUsed
		if outcome.GasUsed > sess.gasRemaining {
			sess.gasRemaining = 0
		} else {
			sess.gasRemaining -= outcome.GasUsed
		}
		switch outcome.Kind {
		case bytecode.OutcomeHalted:
			return outcome.Result, nil
		case bytecode.OutcomeFailed:
			return value.Null, &SessionError{Kind: ErrorKind(outcome.Err.Kind), BlockID: b.ID, Message: outcome.Err.Message, InstructionOffset: outcome.Err.Offset}
		default:
			return value.Null, &SessionError{Kind: KindInvalidResume, BlockID: b.ID, Message: "nested foreign-call suspension inside a block that does not support it"}
		}
	}

	switch b.Kind {
	case flow.KindCompute:
		result, serr := evalTo(b.ExpressionBytecode)
		if serr != nil {
			return "", false, false, serr
		}
		if b.OutputKey != "" {
			_ = sess.state.Set(b.OutputKey, result)
		}
		return b.Next, false, false, nil

	case flow.KindConditional:
		result, serr := evalTo(b.ConditionBytecode)
		if serr != nil {
			return "", false, false, serr
		}
		if result.Truthy() {
			return b.TrueNext, false, false, nil
		}
		return b.FalseNext, false, false, nil

	case flow.KindAwaitInput:
		prompt, serr := evalTo(b.PromptBytecode)
		if serr != nil {
			return "", false, false, serr
		}
		sess.SuspendedInteraction = &SuspendedInteraction{
			Kind: InteractionAwaitInput, InteractionID: b.InteractionID, AgentID: b.AgentID,
			Prompt: prompt, StateKey: b.StateKey,
		}
		sess.currentBlockID = b.Next
		return b.Next, true, false, nil

	case flow.KindExternalData:
		sess.SuspendedInteraction = &SuspendedInteraction{
			Kind: InteractionExternalData, Endpoint: b.Endpoint, DataPath: b.DataPath, StateKey: b.DataPath,
		}
		sess.currentBlockID = b.Next
		return b.Next, true, false, nil

	case flow.KindAgentInteraction:
		sess.SuspendedInteraction = &SuspendedInteraction{
			Kind: InteractionAgentInteraction, Capabilities: b.RequiredCapabilities, Task: b.Task, StateKey: b.StateKey,
		}
		sess.currentBlockID = b.Next
		return b.Next, true, false, nil

	case flow.KindLLMProcessing:
		rendered := renderTemplate(b.PromptTemplate, sess.state)
		sess.SuspendedInteraction = &SuspendedInteraction{
			Kind: InteractionLLMProcessing, Prompt: value.String(rendered), StateKey: b.ResponseKey,
		}
		sess.currentBlockID = b.Next
		return b.Next, true, false, nil

	case flow.KindDisplay:
		if _, serr := evalTo(b.MessageBytecode); serr != nil {
			return "", false, false, serr
		}
		return b.Next, false, false, nil

	case flow.KindStateCheckpoint:
		cp := sess.snapshotLocked(b.Label, c.now())
		sess.Checkpoints = append(sess.Checkpoints, cp)
		if c.pipeline != nil {
			sess.Resource.IntentsEmitted++
			go func(snapshot value.Value) {
				_, _ = c.pipeline.Submit(context.Background(), pipeline.Intent{
					ID: cp.ID, Tenant: sess.Tenant, Payload: snapshot, Priority: pipeline.PriorityNormal,
				})
			}(cp.Snapshot)
		}
		return b.Next, false, false, nil

	case flow.KindForEach:
		return c.dispatchForEach(sess, b)

	case flow.KindContinue:
		if top := sess.topLoop(); top != nil && top.ForEachBlockID == b.Loop {
			top.Index++
		}
		return b.Loop, false, false, nil

	case flow.KindBreak:
		sess.popLoop(b.Loop)
		loopBlock, ok := sess.Contract.Blocks[b.Loop]
		if !ok {
			return "", false, false, &SessionError{Kind: KindInvalidResume, BlockID: b.ID, Message: "break refers to unknown loop block " + b.Loop}
		}
		return loopBlock.After, false, false, nil

	case flow.KindTryCatch:
		sess.catchNext = b.CatchNext
		return b.TryNext, false, false, nil

	case flow.KindTerminate:
		return "", false, true, nil

	default:
		return "", false, false, &SessionError{Kind: KindInvalidResume, BlockID: b.ID, Message: fmt.Sprintf("unsupported block kind %q", b.Kind)}
	}
}

// dispatchForEach advances (or initialises) the loop frame for b, setting
// ItemKey in state and transferring to BodyEntry while the collection has
// more elements, or to After once exhausted.
func (c *Coordinator) dispatchForEach(sess *Session, b *flow.Block) (next string, suspend, terminate bool, err *SessionError) {
	top := sess.topLoop()
	if top == nil || top.ForEachBlockID != b.ID {
		sess.loopStack = append(sess.loopStack, loopFrame{ForEachBlockID: b.ID, Index: 0})
		top = &sess.loopStack[len(sess.loopStack)-1]
	}

	collection, getErr := sess.state.Get(b.CollectionPath)
	if getErr != nil {
		return "", false, false, &SessionError{Kind: KindInvalidResume, BlockID: b.ID, Message: getErr.Error()}
	}
	items, ok := collection.AsSeq()
	if !ok {
		return "", false, false, &SessionError{Kind: KindInvalidResume, BlockID: b.ID, Message: "collection_path does not resolve to a sequence"}
	}

	if top.Index >= len(items) {
		sess.popLoop(b.ID)
		return b.After, false, false, nil
	}
	if b.ItemKey != "" {
		_ = sess.state.Set(b.ItemKey, items[top.Index])
	}
	return b.BodyEntry, false, false, nil
}

func (s *Session) topLoop() *loopFrame {
	if len(s.loopStack) == 0 {
		return nil
	}
	return &s.loopStack[len(s.loopStack)-1]
}

// popLoop removes the innermost frame for loopBlockID and everything
// nested inside it, so a Break inside a nested ForEach only unwinds its
// own loop.
func (s *Session) popLoop(loopBlockID string) {
	for i := len(s.loopStack) - 1; i >= 0; i-- {
		if s.loopStack[i].ForEachBlockID == loopBlockID {
			s.loopStack = s.loopStack[:i]
			return
		}
	}
}
