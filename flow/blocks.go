// Package flow implements the Flow Transpiler (spec §4.6): it converts a
// declarative flow definition into an immutable Contract whose blocks carry
// compiled expression bytecode. The two-pass shape — a validation/symbol-
// table pass ahead of a separate code-generation pass — follows the
// teacher's compiler/semantic.go-then-compiler/codegen.go split, retargeted
// from a single expression to an entire block graph.
package flow

import "github.com/thinksystem/sleet/bytecode"

// Kind tags a Block's variant, per spec §3. TryCatch is a supplement drawn
// from original_source's BlockType::TryCatch (crates/sleet/src/flows.rs),
// giving spec §7's "TryCatch-style blocks ... permitted as block variants
// with an error edge" a concrete shape instead of an implicit per-block
// field.
type Kind string

const (
	KindCompute          Kind = "Compute"
	KindConditional      Kind = "Conditional"
	KindAwaitInput       Kind = "AwaitInput"
	KindForEach          Kind = "ForEach"
	KindContinue         Kind = "Continue"
	KindBreak            Kind = "Break"
	KindTerminate        Kind = "Terminate"
	KindExternalData     Kind = "ExternalData"
	KindAgentInteraction Kind = "AgentInteraction"
	KindLLMProcessing    Kind = "LLMProcessing"
	KindDisplay          Kind = "Display"
	KindStateCheckpoint  Kind = "StateCheckpoint"
	KindTryCatch         Kind = "TryCatch"
)

// suspendingKinds are block kinds that can model an "infinite await" sink
// for CycleWithoutTerminator purposes (spec §4.6: "every reachable path
// reaches either a Terminate or an infinite await, permitted, to model
// long-running services").
var suspendingKinds = map[Kind]bool{
	KindAwaitInput:       true,
	KindExternalData:     true,
	KindAgentInteraction: true,
	KindLLMProcessing:    true,
}

// RawBlock is one block as authored in a flow definition, before
// transpilation: its expression fields are still source strings. JSON tags
// match the wire shape of spec §6's flow definition document.
type RawBlock struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Compute
	Expression string `json:"expression,omitempty"`
	OutputKey  string `json:"output_key,omitempty"`
	Next       string `json:"next,omitempty"`

	// Conditional
	Condition string `json:"condition,omitempty"`
	TrueNext  string `json:"true_next,omitempty"`
	FalseNext string `json:"false_next,omitempty"`

	// AwaitInput
	InteractionID string `json:"interaction_id,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	StateKey      string `json:"state_key,omitempty"`

	// ForEach / Continue / Break. Loop identifies the enclosing ForEach
	// block by id; required on Continue and Break so the transpiler and
	// the orchestrator can resolve "re-enter the loop head" / "exit to
	// after" without a runtime loop-stack search (an explicit design
	// decision — spec.md §4.6/§4.7 describes the iteration semantics but
	// not how Continue/Break locate their loop statically).
	CollectionPath string `json:"collection_path,omitempty"`
	ItemKey        string `json:"item_key,omitempty"`
	BodyEntry      string `json:"body_entry,omitempty"`
	After          string `json:"after,omitempty"`
	Loop           string `json:"loop,omitempty"`

	// ExternalData
	Endpoint string `json:"endpoint,omitempty"`
	DataPath string `json:"data_path,omitempty"`

	// AgentInteraction
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	Task                 string   `json:"task,omitempty"`

	// LLMProcessing
	PromptTemplate string `json:"prompt_template,omitempty"`
	ResponseKey    string `json:"response_key,omitempty"`

	// Display
	Message string `json:"message,omitempty"`

	// StateCheckpoint
	Label string `json:"label,omitempty"`

	// TryCatch
	TryNext   string `json:"try_next,omitempty"`
	CatchNext string `json:"catch_next,omitempty"`

	// ErrorEdge, if set, is the block id the Coordinator routes to when
	// this block's dispatch fails (spec §7 "Recovery": unhandled errors
	// terminate the session, but a declared error edge is followed
	// instead).
	ErrorEdge string `json:"error_edge,omitempty"`
}

// Successors returns the block ids this block can statically transfer
// control to, used for reachability and cycle analysis. Continue and
// Break are resolved via their Loop field against the owning ForEach
// block, so they report its BodyEntry/After rather than a self-referential
// edge.
func (b RawBlock) Successors(byID map[string]*RawBlock) []string {
	switch b.Kind {
	case KindCompute, KindAwaitInput, KindExternalData, KindAgentInteraction, KindLLMProcessing, KindDisplay, KindStateCheckpoint:
		return nonEmpty(b.Next)
	case KindConditional:
		return nonEmpty(b.TrueNext, b.FalseNext)
	case KindForEach:
		return nonEmpty(b.BodyEntry, b.After)
	case KindTryCatch:
		return nonEmpty(b.TryNext, b.CatchNext)
	case KindContinue:
		// Re-enters the loop head (the ForEach block itself), which
		// re-evaluates index < len(collection) rather than jumping
		// straight back into the body — otherwise the loop could never
		// reach its After exit.
		return nonEmpty(b.Loop)
	case KindBreak:
		if loop, ok := byID[b.Loop]; ok {
			return nonEmpty(loop.After)
		}
		return nil
	case KindTerminate:
		return nil
	default:
		return nil
	}
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Block is a transpiled block: the same fields as RawBlock, but every
// embedded expression string has been replaced by a compiled bytecode
// chunk.
type Block struct {
	ID   string
	Kind Kind

	ExpressionBytecode *bytecode.Chunk
	OutputKey          string
	Next               string

	ConditionBytecode *bytecode.Chunk
	TrueNext          string
	FalseNext         string

	InteractionID string
	AgentID       string
	PromptBytecode *bytecode.Chunk
	StateKey      string

	CollectionPath string
	ItemKey        string
	BodyEntry      string
	After          string
	Loop           string

	Endpoint string
	DataPath string

	RequiredCapabilities []string
	Task                 string

	PromptTemplate string
	ResponseKey    string

	MessageBytecode *bytecode.Chunk

	Label string

	TryNext   string
	CatchNext string

	ErrorEdge string
}
