// Package orchestrator implements the Orchestration Coordinator (spec
// §4.7): session lifecycle (start/resume/status/cancel/checkpoint/
// restore), block-graph dispatch for every flow.Kind, and worker-pool
// scheduling. The single-goroutine VM-access serialization in
// server/vm_worker.go is generalised here from one dedicated goroutine to
// a bounded pool (workerPool in worker.go) so independent sessions make
// concurrent progress while any one session's dispatch loop is only ever
// driven by one goroutine at a time; server/sessions.go's map-plus-
// sync.RWMutex-plus-atomic.Uint64-id store is kept nearly as-is, retargeted
// from workspace globals to flow execution state.
package orchestrator

import (
	"sync"
	"time"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/value"
)

// Status is a session's coarse lifecycle state (spec §3).
type Status uint8

const (
	StatusRunning Status = iota
	StatusSuspended
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusSuspended:
		return "Suspended"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// InteractionKind distinguishes what a Suspended session is waiting for.
type InteractionKind uint8

const (
	InteractionAwaitInput InteractionKind = iota
	InteractionExternalData
	InteractionAgentInteraction
	InteractionLLMProcessing
	InteractionForeignCall
)

func (k InteractionKind) String() string {
	switch k {
	case InteractionAwaitInput:
		return "AwaitInput"
	case InteractionExternalData:
		return "ExternalData"
	case InteractionAgentInteraction:
		return "AgentInteraction"
	case InteractionLLMProcessing:
		return "LLMProcessing"
	case InteractionForeignCall:
		return "ForeignCall"
	default:
		return "Unknown"
	}
}

// SuspendedInteraction describes what a Suspended session is blocked on,
// and where Resume's input value should be written back into state.
type SuspendedInteraction struct {
	Kind          InteractionKind
	InteractionID string
	AgentID       string
	Prompt        value.Value
	StateKey      string
	Endpoint      string
	DataPath      string
	Capabilities  []string
	Task          string

	// set only for InteractionForeignCall: resumes the VM mid-expression.
	continuation *bytecode.Continuation
}

// Checkpoint is a named, restorable snapshot of a session's state and
// execution position (spec §3's StateCheckpoint-produced artefact, and the
// explicit checkpoint() operation's result).
type Checkpoint struct {
	ID        string
	Label     string
	BlockID   string
	LoopStack []loopFrame
	Snapshot  value.Value
	CreatedAt time.Time
}

type loopFrame struct {
	ForEachBlockID string
	Index          int
}

// ResourceAllocation tracks cumulative consumption for quota accounting.
type ResourceAllocation struct {
	CPUTime           time.Duration
	GasConsumed       uint64
	IntentsEmitted    uint64
	NativeActivations uint64
}

// Session is one in-flight (or finished) flow execution.
type Session struct {
	ID          string
	Tenant      string
	ContractRef string
	Contract    *flow.Contract

	mu sync.Mutex

	state          *value.ScopedState
	currentBlockID string
	loopStack      []loopFrame
	catchNext      string

	gasBudget    uint64
	gasRemaining uint64

	Status               Status
	SuspendedInteraction *SuspendedInteraction
	Result               value.Value
	Err                   *SessionError

	CreatedAt   time.Time
	LastEventAt time.Time
	Resource    ResourceAllocation
	Checkpoints []Checkpoint

	cancelRequested bool
}

// View is a read-only snapshot of a Session's public fields, returned by
// Coordinator.Status so callers never touch the mutex-guarded struct
// directly.
type View struct {
	ID                   string
	Tenant               string
	Status               Status
	CurrentBlockID       string
	SuspendedInteraction *SuspendedInteraction
	Result               value.Value
	Err                  *SessionError
	CreatedAt            time.Time
	LastEventAt          time.Time
	Resource             ResourceAllocation
	CheckpointIDs        []string
}

func (s *Session) view() View {
	ids := make([]string, len(s.Checkpoints))
	for i, c := range s.Checkpoints {
		ids[i] = c.ID
	}
	return View{
		ID:                   s.ID,
		Tenant:               s.Tenant,
		Status:               s.Status,
		CurrentBlockID:       s.currentBlockID,
		SuspendedInteraction: s.SuspendedInteraction,
		Result:               s.Result,
		Err:                  s.Err,
		CreatedAt:            s.CreatedAt,
		LastEventAt:          s.LastEventAt,
		Resource:             s.Resource,
		CheckpointIDs:        ids,
	}
}
