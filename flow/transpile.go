package flow

import (
	"sort"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/compiler"
)

// Transpile converts a flow definition into a Contract, per spec §4.6's
// two-pass compilation: Pass 1 validates the block graph and builds the
// symbol table; Pass 2 compiles each block's embedded expressions.
func Transpile(def *FlowDefinition, ffi *bytecode.Registry) (*Contract, error) {
	byID := make(map[string]*RawBlock, len(def.Blocks))
	for i := range def.Blocks {
		b := &def.Blocks[i]
		byID[b.ID] = b
	}

	if err := validate(def, byID); err != nil {
		return nil, err
	}

	schema, err := NewCueSchema(def.StateSchema)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateInitialState(def.InitialState); err != nil {
		return nil, err
	}

	blocks, err := compileBlocks(def, byID, schema, ffi)
	if err != nil {
		return nil, err
	}

	return &Contract{
		ID:           def.Name,
		Version:      bytecode.Version,
		InitialState: def.InitialState,
		StateSchema:  def.StateSchema,
		Blocks:       blocks,
		StartBlockID: def.StartBlockID,
		Permissions:  bytecode.NewPermissionSet(def.Permissions...),
	}, nil
}

// validate performs Pass 1: unknown-block detection, reachability, and
// cycle-without-terminator detection. All errors found are aggregated into
// a single *TranspileError.
func validate(def *FlowDefinition, byID map[string]*RawBlock) error {
	var errs []error

	if _, ok := byID[def.StartBlockID]; !ok {
		errs = append(errs, &UnknownBlockError{FromBlockID: "<start>", Reference: def.StartBlockID})
	}

	for _, b := range def.Blocks {
		if !validKind(b.Kind) {
			errs = append(errs, &UnsupportedBlockTypeError{BlockID: b.ID, Kind: string(b.Kind)})
			continue
		}
		for _, ref := range referencedIDs(b) {
			if _, ok := byID[ref]; !ok {
				errs = append(errs, &UnknownBlockError{FromBlockID: b.ID, Reference: ref})
			}
		}
	}
	if len(errs) > 0 {
		return &TranspileError{Errors: errs}
	}

	reachable := reachableFrom(def.StartBlockID, byID)
	unreferencedIDs := make([]string, 0)
	for id := range byID {
		if !reachable[id] {
			unreferencedIDs = append(unreferencedIDs, id)
		}
	}
	sort.Strings(unreferencedIDs)
	for _, id := range unreferencedIDs {
		errs = append(errs, &UnknownBlockError{FromBlockID: "<unreferenced>", Reference: id})
	}
	if len(errs) > 0 {
		return &TranspileError{Errors: errs}
	}

	if badCycles := findCyclesWithoutTerminator(byID); len(badCycles) > 0 {
		for _, cyc := range badCycles {
			errs = append(errs, &CycleWithoutTerminatorError{BlockIDs: cyc})
		}
		return &TranspileError{Errors: errs}
	}

	return nil
}

func validKind(k Kind) bool {
	switch k {
	case KindCompute, KindConditional, KindAwaitInput, KindForEach, KindContinue, KindBreak,
		KindTerminate, KindExternalData, KindAgentInteraction, KindLLMProcessing, KindDisplay,
		KindStateCheckpoint, KindTryCatch:
		return true
	default:
		return false
	}
}

// referencedIDs lists every block-id-shaped field a RawBlock carries,
// whether or not it participates in Successors (Loop is checked here too,
// even though Continue/Break resolve their actual successor through it).
func referencedIDs(b RawBlock) []string {
	var refs []string
	switch b.Kind {
	case KindCompute, KindAwaitInput, KindExternalData, KindAgentInteraction, KindLLMProcessing, KindDisplay, KindStateCheckpoint:
		refs = append(refs, nonEmpty(b.Next)...)
	case KindConditional:
		refs = append(refs, nonEmpty(b.TrueNext, b.FalseNext)...)
	case KindForEach:
		refs = append(refs, nonEmpty(b.BodyEntry, b.After)...)
	case KindTryCatch:
		refs = append(refs, nonEmpty(b.TryNext, b.CatchNext)...)
	case KindContinue, KindBreak:
		refs = append(refs, nonEmpty(b.Loop)...)
	}
	if b.ErrorEdge != "" {
		refs = append(refs, b.ErrorEdge)
	}
	return refs
}

func reachableFrom(start string, byID map[string]*RawBlock) map[string]bool {
	seen := map[string]bool{}
	var stack []string
	if _, ok := byID[start]; ok {
		stack = append(stack, start)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		b := byID[id]
		for _, next := range b.Successors(byID) {
			if !seen[next] {
				stack = append(stack, next)
			}
		}
		if b.ErrorEdge != "" && !seen[b.ErrorEdge] {
			stack = append(stack, b.ErrorEdge)
		}
	}
	return seen
}

// tarjan computes strongly connected components over the block graph
// (error edges included, since a session can transfer control along one).
type tarjan struct {
	byID    map[string]*RawBlock
	index   map[string]int
	low     map[string]int
	onStack map[string]bool
	stack   []string
	counter int
	comps   [][]string
}

func findCyclesWithoutTerminator(byID map[string]*RawBlock) [][]string {
	t := &tarjan{
		byID:    byID,
		index:   map[string]int{},
		low:     map[string]int{},
		onStack: map[string]bool{},
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := t.index[id]; !ok {
			t.strongconnect(id)
		}
	}

	compOf := map[string]int{}
	for ci, comp := range t.comps {
		for _, id := range comp {
			compOf[id] = ci
		}
	}
	condEdges := make([][]int, len(t.comps))
	hasSink := make([]bool, len(t.comps))
	for id, b := range byID {
		ci := compOf[id]
		if b.Kind == KindTerminate || suspendingKinds[b.Kind] {
			hasSink[ci] = true
		}
		for _, succ := range edgesOf(b, byID) {
			cj := compOf[succ]
			if cj != ci {
				condEdges[ci] = append(condEdges[ci], cj)
			}
		}
	}

	good := make([]int8, len(t.comps)) // 0 unknown, 1 good, -1 bad (in progress guard unnecessary: DAG)
	var isGood func(ci int) bool
	isGood = func(ci int) bool {
		if good[ci] != 0 {
			return good[ci] == 1
		}
		if hasSink[ci] {
			good[ci] = 1
			return true
		}
		good[ci] = -1
		for _, cj := range condEdges[ci] {
			if isGood(cj) {
				good[ci] = 1
				return true
			}
		}
		return false
	}

	var bad [][]string
	for ci, comp := range t.comps {
		isCycle := len(comp) > 1 || selfLoop(comp[0], byID)
		if isCycle && !isGood(ci) {
			sorted := append([]string(nil), comp...)
			sort.Strings(sorted)
			bad = append(bad, sorted)
		}
	}
	return bad
}

func edgesOf(b *RawBlock, byID map[string]*RawBlock) []string {
	edges := b.Successors(byID)
	if b.ErrorEdge != "" {
		edges = append(edges, b.ErrorEdge)
	}
	return edges
}

func selfLoop(id string, byID map[string]*RawBlock) bool {
	b := byID[id]
	for _, succ := range edgesOf(b, byID) {
		if succ == id {
			return true
		}
	}
	return false
}

func (t *tarjan) strongconnect(v string) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range edgesOf(t.byID[v], t.byID) {
		if _, ok := t.index[w]; !ok {
			t.strongconnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.low[v] {
				t.low[v] = t.index[w]
			}
		}
	}

	if t.low[v] == t.index[v] {
		var comp []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.comps = append(t.comps, comp)
	}
}

// compileBlocks is Pass 2: compiles every block's embedded expression
// strings into bytecode, short-circuiting on the first compile error.
func compileBlocks(def *FlowDefinition, byID map[string]*RawBlock, schema *CueSchema, ffi *bytecode.Registry) (map[string]*Block, error) {
	funcs := registryFuncs{reg: ffi}
	out := make(map[string]*Block, len(def.Blocks))

	compile := func(blockID, source string) (*bytecode.Chunk, error) {
		chunk, err := compiler.Compile(source, schema, funcs)
		if err != nil {
			return nil, &ExpressionError{BlockID: blockID, Detail: err}
		}
		return chunk, nil
	}

	for _, raw := range def.Blocks {
		b := &Block{
			ID:                   raw.ID,
			Kind:                 raw.Kind,
			OutputKey:            raw.OutputKey,
			Next:                 raw.Next,
			TrueNext:             raw.TrueNext,
			FalseNext:            raw.FalseNext,
			InteractionID:        raw.InteractionID,
			AgentID:              raw.AgentID,
			StateKey:             raw.StateKey,
			CollectionPath:       raw.CollectionPath,
			ItemKey:              raw.ItemKey,
			BodyEntry:            raw.BodyEntry,
			After:                raw.After,
			Loop:                 raw.Loop,
			Endpoint:             raw.Endpoint,
			DataPath:             raw.DataPath,
			RequiredCapabilities: raw.RequiredCapabilities,
			Task:                 raw.Task,
			PromptTemplate:       raw.PromptTemplate,
			ResponseKey:          raw.ResponseKey,
			Label:                raw.Label,
			TryNext:              raw.TryNext,
			CatchNext:            raw.CatchNext,
			ErrorEdge:            raw.ErrorEdge,
		}

		var err error
		switch raw.Kind {
		case KindCompute:
			b.ExpressionBytecode, err = compile(raw.ID, raw.Expression)
		case KindConditional:
			b.ConditionBytecode, err = compile(raw.ID, raw.Condition)
		case KindAwaitInput:
			b.PromptBytecode, err = compile(raw.ID, raw.Prompt)
		case KindDisplay:
			b.MessageBytecode, err = compile(raw.ID, raw.Message)
		}
		if err != nil {
			return nil, err
		}
		out[raw.ID] = b
	}
	return out, nil
}
