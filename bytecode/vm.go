package bytecode

import (
	"github.com/thinksystem/sleet/value"
)

// TraceEvent is one per-instruction observability record (spec §4.3
// "Observability"), recorded only when the VM's Tracing flag is set. The
// records are kept on the invocation's Continuation; VmOutcome does not
// carry them.
type TraceEvent struct {
	Offset     int
	Op         Opcode
	StackDepth int
	GasRemaining uint64
}

// Counters are the per-invocation counters spec §4.3 requires: instructions
// executed, foreign calls made, gas used.
type Counters struct {
	InstructionsExecuted uint64
	ForeignCalls         uint64
	GasUsed              uint64
}

// Outcome is the closed result of a VM invocation.
type OutcomeKind uint8

const (
	OutcomeHalted OutcomeKind = iota
	OutcomeAwaitingForeign
	OutcomeFailed
)

// VmOutcome is the tagged result of Execute/Resume.
type VmOutcome struct {
	Kind OutcomeKind

	// OutcomeHalted
	Result value.Value

	// OutcomeAwaitingForeign
	ForeignName  string
	ForeignArgs  []value.Value
	ResumeToken  *Continuation

	// OutcomeFailed
	Err *VmError

	GasUsed  uint64
	Counters Counters
}

// Continuation is an opaque, resumable snapshot of a suspended VM
// invocation, returned as VmOutcome.ResumeToken. It is the mechanism by
// which a FFI handler can request external input without an opcode ever
// yielding control (spec §5: "No opcode within the VM yields control" —
// suspension here is a property of the foreign-call boundary, not of the
// opcode dispatch loop).
type Continuation struct {
	chunk     *Chunk
	ip        int
	stack     []value.Value
	callStack []int
	gas       uint64
	gasBudget uint64
	state     *value.ScopedState
	ffi       *Registry
	perms     PermissionSet
	trace     []TraceEvent
	counters  Counters
	tracing   bool
}

// AwaitSignal is returned by a ForeignFunction to request suspension
// instead of completing synchronously. The VM surfaces it as
// OutcomeAwaitingForeign; the caller resumes later with Resume.
type AwaitSignal struct{}

func (*AwaitSignal) Error() string { return "bytecode: foreign call requests suspension" }

// VM is a single-threaded, synchronous stack interpreter (spec §4.3).
type VM struct {
	Tracing bool
}

// NewVM constructs a VM. A VM instance holds no per-invocation state, so a
// single VM is safely reused (sequentially) across invocations.
func NewVM() *VM { return &VM{} }

// Execute runs chunk to Halt, a suspending foreign call, gas exhaustion, or
// a runtime error, starting at offset 0.
func (vm *VM) Execute(chunk *Chunk, state *value.ScopedState, ffi *Registry, gasBudget uint64, perms PermissionSet) VmOutcome {
	c := &Continuation{
		chunk:     chunk,
		ip:        0,
		stack:     make([]value.Value, 0, 64),
		callStack: make([]int, 0, 8),
		gas:       gasBudget,
		gasBudget: gasBudget,
		state:     state,
		ffi:       ffi,
		perms:     perms,
		tracing:   vm.Tracing,
	}
	return vm.run(c)
}

// Resume continues a previously suspended invocation, pushing input as the
// result of the foreign call that suspended it.
func (vm *VM) Resume(token *Continuation, input value.Value) VmOutcome {
	token.stack = append(token.stack, input)
	return vm.run(token)
}

func (vm *VM) run(c *Continuation) VmOutcome {
	code := c.chunk.Code
	for {
		if c.ip >= len(code) {
			return vm.failed(c, newErr(KindMalformedBytecode, c.ip, "fell off end of code without Halt"))
		}
		op := Opcode(code[c.ip])
		cost := op.Cost()
		if c.gas < cost {
			return vm.failed(c, newErr(KindOutOfGas, c.ip, "gas exhausted before opcode %s", op))
		}

		startIP := c.ip
		if c.tracing {
			c.trace = append(c.trace, TraceEvent{Offset: startIP, Op: op, StackDepth: len(c.stack), GasRemaining: c.gas - cost})
		}

		switch op {
		case OpHalt:
			c.gas -= cost
			c.counters.GasUsed = c.gasBudget - c.gas
			c.counters.InstructionsExecuted++
			result := value.Null
			if len(c.stack) > 0 {
				result = c.stack[len(c.stack)-1]
			}
			return VmOutcome{Kind: OutcomeHalted, Result: result, GasUsed: c.counters.GasUsed, Counters: c.counters}
		}

		outcome, advance, err := vm.step(c, op, startIP)
		if err != nil {
			c.gas -= cost
			return vm.failed(c, err)
		}
		c.gas -= cost
		c.counters.InstructionsExecuted++
		c.ip = advance
		if outcome != nil {
			outcome.GasUsed = c.gasBudget - c.gas
			outcome.Counters = c.counters
			return *outcome
		}
	}
}

func (vm *VM) failed(c *Continuation, err *VmError) VmOutcome {
	used := c.gasBudget - c.gas
	return VmOutcome{Kind: OutcomeFailed, Err: err, GasUsed: used, Counters: Counters{InstructionsExecuted: c.counters.InstructionsExecuted, ForeignCalls: c.counters.ForeignCalls, GasUsed: used}}
}

// step executes a single opcode at offset ip and returns either a
// terminal outcome (Halt is handled by run directly; step handles
// AwaitingForeign), the next instruction pointer, or an error.
func (vm *VM) step(c *Continuation, op Opcode, ip int) (*VmOutcome, int, *VmError) {
	code := c.chunk.Code
	next := ip + 1

	pop := func() (value.Value, *VmError) {
		if len(c.stack) == 0 {
			return value.Null, newErr(KindStackUnderflow, ip, "pop on empty stack")
		}
		v := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		return v, nil
	}
	push := func(v value.Value) {
		c.stack = append(c.stack, v)
	}

	switch op {
	case OpPush:
		idx, rerr := readU16(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		if int(idx) >= len(c.chunk.Constants) {
			return nil, 0, newErr(KindMalformedBytecode, ip, "constant index out of range")
		}
		push(c.chunk.Constants[idx])
		return nil, next + 2, nil

	case OpPop:
		if _, err := pop(); err != nil {
			return nil, 0, err
		}
		return nil, next, nil

	case OpDup:
		if len(c.stack) == 0 {
			return nil, 0, newErr(KindStackUnderflow, ip, "dup on empty stack")
		}
		push(c.stack[len(c.stack)-1])
		return nil, next, nil

	case OpSwap:
		if len(c.stack) < 2 {
			return nil, 0, newErr(KindStackUnderflow, ip, "swap needs 2 operands")
		}
		n := len(c.stack)
		c.stack[n-1], c.stack[n-2] = c.stack[n-2], c.stack[n-1]
		return nil, next, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		b, err := pop()
		if err != nil {
			return nil, 0, err
		}
		a, err := pop()
		if err != nil {
			return nil, 0, err
		}
		result, aerr := arith(op, a, b, ip)
		if aerr != nil {
			return nil, 0, aerr
		}
		push(result)
		return nil, next, nil

	case OpNeg:
		a, err := pop()
		if err != nil {
			return nil, 0, err
		}
		result, aerr := negate(a, ip)
		if aerr != nil {
			return nil, 0, aerr
		}
		push(result)
		return nil, next, nil

	case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe:
		b, err := pop()
		if err != nil {
			return nil, 0, err
		}
		a, err := pop()
		if err != nil {
			return nil, 0, err
		}
		result, cerr := compareOp(op, a, b, ip)
		if cerr != nil {
			return nil, 0, cerr
		}
		push(result)
		return nil, next, nil

	case OpAnd, OpOr:
		b, err := pop()
		if err != nil {
			return nil, 0, err
		}
		a, err := pop()
		if err != nil {
			return nil, 0, err
		}
		ab, bb := a.Truthy(), b.Truthy()
		var r bool
		if op == OpAnd {
			r = ab && bb
		} else {
			r = ab || bb
		}
		push(value.Bool(r))
		return nil, next, nil

	case OpNot:
		a, err := pop()
		if err != nil {
			return nil, 0, err
		}
		push(value.Bool(!a.Truthy()))
		return nil, next, nil

	case OpJump:
		off, rerr := readI32(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		return nil, next + 4 + int(off), nil

	case OpJumpIfFalse, OpJumpIfTrue:
		off, rerr := readI32(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		cond, err := pop()
		if err != nil {
			return nil, 0, err
		}
		fallthroughIP := next + 4
		taken := cond.Truthy()
		if op == OpJumpIfFalse {
			taken = !taken
		}
		if taken {
			return nil, fallthroughIP + int(off), nil
		}
		return nil, fallthroughIP, nil

	case OpCall:
		off, rerr := readI32(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		if len(c.callStack) >= MaxCallStackDepth {
			return nil, 0, newErr(KindCallStackOverflow, ip, "call stack depth exceeds %d", MaxCallStackDepth)
		}
		returnIP := next + 4
		c.callStack = append(c.callStack, returnIP)
		return nil, returnIP + int(off), nil

	case OpReturn:
		if len(c.callStack) == 0 {
			return nil, 0, newErr(KindCallStackOverflow, ip, "return with empty call stack")
		}
		target := c.callStack[len(c.callStack)-1]
		c.callStack = c.callStack[:len(c.callStack)-1]
		return nil, target, nil

	case OpLoadVar:
		idx, rerr := readU16(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		if int(idx) >= len(c.chunk.Paths) {
			return nil, 0, newErr(KindMalformedBytecode, ip, "path id out of range")
		}
		v, gerr := c.state.Get(c.chunk.Paths[idx])
		if gerr != nil {
			return nil, 0, newErr(KindPathError, ip, gerr.Error())
		}
		push(v)
		return nil, next + 2, nil

	case OpStoreVar:
		idx, rerr := readU16(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		if int(idx) >= len(c.chunk.Paths) {
			return nil, 0, newErr(KindMalformedBytecode, ip, "path id out of range")
		}
		v, err := pop()
		if err != nil {
			return nil, 0, err
		}
		if serr := c.state.Set(c.chunk.Paths[idx], v); serr != nil {
			return nil, 0, newErr(KindPathError, ip, serr.Error())
		}
		return nil, next + 2, nil

	case OpLoadIndex:
		idxVal, err := pop()
		if err != nil {
			return nil, 0, err
		}
		container, err := pop()
		if err != nil {
			return nil, 0, err
		}
		result, lerr := loadIndex(container, idxVal, ip)
		if lerr != nil {
			return nil, 0, lerr
		}
		push(result)
		return nil, next, nil

	case OpCallFfi:
		nameIdx, rerr := readU16(code, next)
		if rerr != nil {
			return nil, 0, newErr(KindMalformedBytecode, ip, rerr.Error())
		}
		if int(nameIdx) >= len(c.chunk.FfiNames) {
			return nil, 0, newErr(KindMalformedBytecode, ip, "ffi name id out of range")
		}
		if next+2 >= len(code) {
			return nil, 0, newErr(KindMalformedBytecode, ip, "truncated arity operand")
		}
		arity := int(code[next+2])
		name := c.chunk.FfiNames[nameIdx]

		entry, ok := c.ffi.Lookup(name)
		if !ok {
			return nil, 0, newErr(KindUnknownForeignFunction, ip, "unregistered foreign function %q", name)
		}
		if !c.perms.Allows(entry.CapabilityRequired) {
			return nil, 0, newErr(KindPermissionDenied, ip, "capability %q not granted for %q", entry.CapabilityRequired, name)
		}
		if len(c.stack) < arity {
			return nil, 0, newErr(KindStackUnderflow, ip, "ffi %q expects %d args", name, arity)
		}
		args := make([]value.Value, arity)
		for i := arity - 1; i >= 0; i-- {
			v, err := pop()
			if err != nil {
				return nil, 0, err
			}
			args[i] = v
		}
		c.counters.ForeignCalls++
		result, ferr := entry.Handler(args, c.state)
		if ferr != nil {
			if _, isAwait := ferr.(*AwaitSignal); isAwait {
				return &VmOutcome{Kind: OutcomeAwaitingForeign, ForeignName: name, ForeignArgs: args, ResumeToken: c}, next + 3, nil
			}
			return nil, 0, newErr(KindForeignError, ip, ferr.Error())
		}
		push(result)
		return nil, next + 3, nil
	}

	return nil, 0, newErr(KindMalformedBytecode, ip, "unknown opcode 0x%02x", byte(op))
}
