package orchestrator

import "fmt"

// ErrorKind partitions orchestration-level errors (spec §7), distinct from
// bytecode.ErrorKind's VM-level faults; a Failed session's SessionError can
// carry either (Kind is a plain string so a VM ErrorKind value round-trips
// through it unchanged).
type ErrorKind string

const (
	KindUnknownSession        ErrorKind = "UnknownSession"
	KindInvalidResume         ErrorKind = "InvalidResume"
	KindInvalidRestore        ErrorKind = "InvalidRestore"
	KindCancelled             ErrorKind = "Cancelled"
	KindDeadlineExceeded      ErrorKind = "DeadlineExceeded"
	KindBackpressureRejection ErrorKind = "BackpressureRejection"
	KindPolicyDenial          ErrorKind = "PolicyDenial"
)

// SessionError is the closed error envelope a Failed session carries, and
// the error type every Coordinator method returns.
type SessionError struct {
	Kind              ErrorKind
	Message           string
	BlockID           string
	InstructionOffset int
}

func (e *SessionError) Error() string {
	if e.BlockID != "" {
		return fmt.Sprintf("orchestrator: %s at block %s: %s", e.Kind, e.BlockID, e.Message)
	}
	return fmt.Sprintf("orchestrator: %s: %s", e.Kind, e.Message)
}
