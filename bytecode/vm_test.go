package bytecode

import (
	"testing"

	"github.com/thinksystem/sleet/value"
)

func buildArithmeticChunk() *Chunk {
	c := NewChunk()
	c15 := c.AddConstant(value.Int(15))
	c8 := c.AddConstant(value.Int(8))
	c20 := c.AddConstant(value.Int(20))
	c.EmitU16(OpPush, c15)
	c.EmitU16(OpPush, c8)
	c.Emit(OpAdd)
	c.EmitU16(OpPush, c20)
	c.Emit(OpGt)
	c.Emit(OpHalt)
	return c
}

func arithmeticChunkGasCost() uint64 {
	return OpPush.Cost() + OpPush.Cost() + OpAdd.Cost() + OpPush.Cost() + OpGt.Cost() + OpHalt.Cost()
}

func TestArithmeticComparisonScenario(t *testing.T) {
	chunk := buildArithmeticChunk()
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(chunk, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	b, ok := outcome.Result.AsBool()
	if !ok || !b {
		t.Fatalf("expected Halted(true), got %v", outcome.Result)
	}
	want := arithmeticChunkGasCost()
	if outcome.GasUsed != want {
		t.Fatalf("gas_used = %d, want %d", outcome.GasUsed, want)
	}
}

func TestExactGasBudgetHaltsWithZeroRemaining(t *testing.T) {
	chunk := buildArithmeticChunk()
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	budget := arithmeticChunkGasCost()
	outcome := vm.Execute(chunk, state, NewRegistry(), budget, NewPermissionSet())

	if outcome.Kind != OutcomeHalted {
		t.Fatalf("expected Halted at exact budget, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	if outcome.GasUsed != budget {
		t.Fatalf("gas_used = %d, want %d", outcome.GasUsed, budget)
	}
}

func TestBudgetOneLessExhaustsGas(t *testing.T) {
	chunk := buildArithmeticChunk()
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	budget := arithmeticChunkGasCost() - 1
	outcome := vm.Execute(chunk, state, NewRegistry(), budget, NewPermissionSet())

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("expected Failed(OutOfGas), got kind=%d", outcome.Kind)
	}
	if outcome.Err.Kind != KindOutOfGas {
		t.Fatalf("expected OutOfGas, got %s", outcome.Err.Kind)
	}
}

func buildDeepCallChunk(depth int) *Chunk {
	c := NewChunk()
	// Each Call has a zero relative offset, so it lands exactly on the next
	// instruction (the following Call, or the trailing Halt) while still
	// pushing a frame onto the call stack — depth frames accumulate without
	// any Return unwinding them.
	for i := 0; i < depth; i++ {
		c.EmitI32(OpCall, 0)
	}
	c.Emit(OpHalt)
	return c
}

func TestCallStackDepthAtBoundOverflows(t *testing.T) {
	chunk := buildDeepCallChunk(MaxCallStackDepth + 1)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(chunk, state, NewRegistry(), 1_000_000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindCallStackOverflow {
		t.Fatalf("expected CallStackOverflow, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestCallStackDepthOneBelowBoundSucceeds(t *testing.T) {
	chunk := buildDeepCallChunk(MaxCallStackDepth - 1)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(chunk, state, NewRegistry(), 1_000_000, NewPermissionSet())

	if outcome.Kind != OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestStackUnderflowOnPop(t *testing.T) {
	c := NewChunk()
	c.Emit(OpPop)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindStackUnderflow {
		t.Fatalf("expected StackUnderflow, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestDivisionByZero(t *testing.T) {
	c := NewChunk()
	c.EmitU16(OpPush, c.AddConstant(value.Int(10)))
	c.EmitU16(OpPush, c.AddConstant(value.Int(0)))
	c.Emit(OpDiv)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestCrossTagOrderingIsTypeError(t *testing.T) {
	c := NewChunk()
	c.EmitU16(OpPush, c.AddConstant(value.Int(1)))
	c.EmitU16(OpPush, c.AddConstant(value.String("x")))
	c.Emit(OpLt)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindTypeError {
		t.Fatalf("expected TypeError, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestCrossTagEqualityIsFalseNotError(t *testing.T) {
	c := NewChunk()
	c.EmitU16(OpPush, c.AddConstant(value.Int(1)))
	c.EmitU16(OpPush, c.AddConstant(value.String("x")))
	c.Emit(OpEq)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	b, _ := outcome.Result.AsBool()
	if b {
		t.Fatalf("expected false for cross-tag equality, got true")
	}
}

func TestLoadVarStoreVarRoundTrip(t *testing.T) {
	c := NewChunk()
	pathID := c.InternPath("counter")
	c.EmitU16(OpPush, c.AddConstant(value.Int(42)))
	c.EmitU16(OpStoreVar, pathID)
	c.EmitU16(OpLoadVar, pathID)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	i, ok := outcome.Result.AsInt()
	if !ok || i != 42 {
		t.Fatalf("expected 42, got %v", outcome.Result)
	}
}

func TestCallFfiPermissionDenied(t *testing.T) {
	c := NewChunk()
	nameID := c.InternFfiName("guarded")
	c.EmitU16U8(OpCallFfi, nameID, 0)
	c.Emit(OpHalt)

	reg := NewRegistry()
	reg.Register("guarded", ForeignEntry{
		Arity:              0,
		CapabilityRequired: "net.fetch",
		Handler: func(args []value.Value, state ReadOnlyState) (value.Value, error) {
			return value.Int(1), nil
		},
	})
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, reg, 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestCallFfiUnknownFunction(t *testing.T) {
	c := NewChunk()
	nameID := c.InternFfiName("missing")
	c.EmitU16U8(OpCallFfi, nameID, 0)
	c.Emit(OpHalt)
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, NewRegistry(), 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindUnknownForeignFunction {
		t.Fatalf("expected UnknownForeignFunction, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}

func TestCallFfiSuspendsAndResumes(t *testing.T) {
	c := NewChunk()
	nameID := c.InternFfiName("ask")
	c.EmitU16U8(OpCallFfi, nameID, 0)
	c.Emit(OpHalt)

	reg := NewRegistry()
	reg.Register("ask", ForeignEntry{
		Handler: func(args []value.Value, state ReadOnlyState) (value.Value, error) {
			return value.Null, &AwaitSignal{}
		},
	})
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, reg, 1000, NewPermissionSet())

	if outcome.Kind != OutcomeAwaitingForeign {
		t.Fatalf("expected AwaitingForeign, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	if outcome.ForeignName != "ask" {
		t.Fatalf("expected foreign name 'ask', got %q", outcome.ForeignName)
	}

	resumed := vm.Resume(outcome.ResumeToken, value.Int(7))
	if resumed.Kind != OutcomeHalted {
		t.Fatalf("expected Halted after resume, got kind=%d err=%v", resumed.Kind, resumed.Err)
	}
	i, ok := resumed.Result.AsInt()
	if !ok || i != 7 {
		t.Fatalf("expected resumed result 7, got %v", resumed.Result)
	}
}

func TestCallFfiArityMismatchUnderflows(t *testing.T) {
	c := NewChunk()
	nameID := c.InternFfiName("needs_two")
	c.EmitU16U8(OpCallFfi, nameID, 2)
	c.Emit(OpHalt)

	reg := NewRegistry()
	reg.Register("needs_two", ForeignEntry{
		Arity: 2,
		Handler: func(args []value.Value, state ReadOnlyState) (value.Value, error) {
			return value.Int(0), nil
		},
	})
	state := value.NewScopedState(value.EmptyMap())
	vm := NewVM()
	outcome := vm.Execute(c, state, reg, 1000, NewPermissionSet())

	if outcome.Kind != OutcomeFailed || outcome.Err.Kind != KindStackUnderflow {
		t.Fatalf("expected StackUnderflow, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
}
