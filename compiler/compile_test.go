package compiler

import (
	"testing"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/value"
)

func runExpr(t *testing.T, source string, state *value.ScopedState, reg *bytecode.Registry) bytecode.VmOutcome {
	t.Helper()
	chunk, err := Compile(source, nil, nil)
	if err != nil {
		t.Fatalf("Compile(%q) error: %v", source, err)
	}
	if state == nil {
		state = value.NewScopedState(value.EmptyMap())
	}
	if reg == nil {
		reg = bytecode.NewRegistry()
	}
	vm := bytecode.NewVM()
	return vm.Execute(chunk, state, reg, 10_000, bytecode.NewPermissionSet())
}

func TestCompileArithmeticPrecedence(t *testing.T) {
	outcome := runExpr(t, "(15 + 8) > 20", nil, nil)
	if outcome.Kind != bytecode.OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	b, ok := outcome.Result.AsBool()
	if !ok || !b {
		t.Fatalf("expected true, got %v", outcome.Result)
	}
}

func TestCompileLeftToRightAssociativity(t *testing.T) {
	outcome := runExpr(t, "10 - 3 - 2", nil, nil)
	i, ok := outcome.Result.AsInt()
	if !ok || i != 5 {
		t.Fatalf("expected 5, got %v", outcome.Result)
	}
}

func TestCompileShortCircuitAndSkipsRightSideEffects(t *testing.T) {
	calls := 0
	reg := bytecode.NewRegistry()
	reg.Register("bump", bytecode.ForeignEntry{
		Handler: func(args []value.Value, state bytecode.ReadOnlyState) (value.Value, error) {
			calls++
			return value.Bool(true), nil
		},
	})
	outcome := runExpr(t, "false && bump()", nil, reg)
	if outcome.Kind != bytecode.OutcomeHalted {
		t.Fatalf("expected Halted, got kind=%d err=%v", outcome.Kind, outcome.Err)
	}
	if calls != 0 {
		t.Fatalf("expected short-circuit to skip right side, bump called %d times", calls)
	}
	b, _ := outcome.Result.AsBool()
	if b {
		t.Fatalf("expected false result")
	}
}

func TestCompileShortCircuitOrEvaluatesRightWhenLeftFalse(t *testing.T) {
	reg := bytecode.NewRegistry()
	reg.Register("yes", bytecode.ForeignEntry{
		Handler: func(args []value.Value, state bytecode.ReadOnlyState) (value.Value, error) {
			return value.Bool(true), nil
		},
	})
	outcome := runExpr(t, "false || yes()", nil, reg)
	b, ok := outcome.Result.AsBool()
	if !ok || !b {
		t.Fatalf("expected true, got %v", outcome.Result)
	}
}

func TestCompilePathExpression(t *testing.T) {
	state := value.NewScopedState(value.Map(map[string]value.Value{
		"order": value.Map(map[string]value.Value{
			"items": value.Seq(value.Int(1), value.Int(2), value.Int(3)),
		}),
	}))
	outcome := runExpr(t, "order.items[1]", state, nil)
	i, ok := outcome.Result.AsInt()
	if !ok || i != 2 {
		t.Fatalf("expected 2, got %v", outcome.Result)
	}
}

func TestCompileCallExpression(t *testing.T) {
	reg := bytecode.NewRegistry()
	reg.Register("add", bytecode.ForeignEntry{
		Arity: 2,
		Handler: func(args []value.Value, state bytecode.ReadOnlyState) (value.Value, error) {
			a, _ := args[0].AsInt()
			b, _ := args[1].AsInt()
			return value.Int(a + b), nil
		},
	})
	outcome := runExpr(t, "add(3, 4)", nil, reg)
	i, ok := outcome.Result.AsInt()
	if !ok || i != 7 {
		t.Fatalf("expected 7, got %v", outcome.Result)
	}
}

func TestParseErrorOnUnterminatedString(t *testing.T) {
	_, err := Compile(`"unterminated`, nil, nil)
	if err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestParseErrorOnTrailingTokens(t *testing.T) {
	_, err := Compile("1 + 2 3", nil, nil)
	if err == nil {
		t.Fatalf("expected a parse error for trailing tokens")
	}
}

type stubSchema struct{ known map[string]bool }

func (s stubSchema) HasPath(path string) bool { return s.known[path] }

func TestSchemaErrorOnUnknownPath(t *testing.T) {
	_, err := Compile("missing.field", stubSchema{known: map[string]bool{"present": true}}, nil)
	if err == nil {
		t.Fatalf("expected a schema error for an unknown path")
	}
	if _, ok := err.(*SchemaError); !ok {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
}

type stubFuncs struct{ arities map[string]int }

func (s stubFuncs) Arity(name string) (int, bool) {
	a, ok := s.arities[name]
	return a, ok
}

func TestSchemaErrorOnArityMismatch(t *testing.T) {
	_, err := Compile("add(1)", nil, stubFuncs{arities: map[string]int{"add": 2}})
	if err == nil {
		t.Fatalf("expected a schema error for arity mismatch")
	}
}
