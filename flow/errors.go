package flow

import "fmt"

// UnknownBlockError reports a next/body/after/loop reference to a block id
// that does not exist in the flow definition.
type UnknownBlockError struct {
	FromBlockID string
	Reference   string
}

func (e *UnknownBlockError) Error() string {
	return fmt.Sprintf("flow: block %q references unknown block %q", e.FromBlockID, e.Reference)
}

// CycleWithoutTerminatorError reports a strongly-connected component with
// no path reaching a Terminate block or a suspending ("infinite await")
// block.
type CycleWithoutTerminatorError struct {
	BlockIDs []string
}

func (e *CycleWithoutTerminatorError) Error() string {
	return fmt.Sprintf("flow: cycle without a reachable terminator or await: %v", e.BlockIDs)
}

// ExpressionError wraps a compiler error encountered while compiling one
// block's embedded expression.
type ExpressionError struct {
	BlockID string
	Detail  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("flow: block %q: %s", e.BlockID, e.Detail)
}

func (e *ExpressionError) Unwrap() error { return e.Detail }

// SchemaViolationError reports an initial-state value, or a statically
// known LoadVar/StoreVar path, that does not satisfy the declared state
// schema.
type SchemaViolationError struct {
	Path   string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("flow: schema violation at %q: %s", e.Path, e.Reason)
}

// UnsupportedBlockTypeError reports a block variant tag the transpiler does
// not recognise (spec §6: "unknown variants are rejected at transpile").
type UnsupportedBlockTypeError struct {
	BlockID string
	Kind    string
}

func (e *UnsupportedBlockTypeError) Error() string {
	return fmt.Sprintf("flow: block %q has unsupported type %q", e.BlockID, e.Kind)
}

// TranspileError aggregates every error found during Pass 1 so callers see
// the full validation report in one shot, rather than stopping at the
// first problem.
type TranspileError struct {
	Errors []error
}

func (e *TranspileError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("flow: %d transpile errors, first: %s", len(e.Errors), e.Errors[0])
}

func (e *TranspileError) Unwrap() []error { return e.Errors }
