package bytecode

import (
	"math"

	"github.com/thinksystem/sleet/value"
)

// arith implements Add/Sub/Mul/Div/Mod across int and float operands,
// promoting int to float when the tags differ (spec §4.3 arithmetic
// semantics). Integer overflow on Add/Sub/Mul raises ArithmeticOverflow;
// division and modulo by zero raise DivisionByZero; modulo follows Go's
// truncated-division convention.
func arith(op Opcode, a, b value.Value, ip int) (value.Value, *VmError) {
	ai, aIsInt := a.AsInt()
	bi, bIsInt := b.AsInt()
	if aIsInt && bIsInt {
		return intArith(op, ai, bi, ip)
	}

	af, aok := numericFloat(a)
	bf, bok := numericFloat(b)
	if !aok || !bok {
		return value.Null, newErr(KindTypeError, ip, "arithmetic requires numeric operands, got %s and %s", a.Kind(), b.Kind())
	}
	switch op {
	case OpAdd:
		return value.Float(af + bf), nil
	case OpSub:
		return value.Float(af - bf), nil
	case OpMul:
		return value.Float(af * bf), nil
	case OpDiv:
		if bf == 0 {
			return value.Null, newErr(KindDivisionByZero, ip, "float division by zero")
		}
		return value.Float(af / bf), nil
	case OpMod:
		if bf == 0 {
			return value.Null, newErr(KindDivisionByZero, ip, "float modulo by zero")
		}
		return value.Float(math.Mod(af, bf)), nil
	}
	return value.Null, newErr(KindTypeError, ip, "unsupported arithmetic opcode %s", op)
}

func numericFloat(v value.Value) (float64, bool) {
	if i, ok := v.AsInt(); ok {
		return float64(i), true
	}
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	return 0, false
}

func intArith(op Opcode, a, b int64, ip int) (value.Value, *VmError) {
	switch op {
	case OpAdd:
		r := a + b
		if (b > 0 && r < a) || (b < 0 && r > a) {
			return value.Null, newErr(KindArithmeticOverflow, ip, "integer overflow in %d + %d", a, b)
		}
		return value.Int(r), nil
	case OpSub:
		r := a - b
		if (b < 0 && r < a) || (b > 0 && r > a) {
			return value.Null, newErr(KindArithmeticOverflow, ip, "integer overflow in %d - %d", a, b)
		}
		return value.Int(r), nil
	case OpMul:
		if a == 0 || b == 0 {
			return value.Int(0), nil
		}
		r := a * b
		if r/b != a {
			return value.Null, newErr(KindArithmeticOverflow, ip, "integer overflow in %d * %d", a, b)
		}
		return value.Int(r), nil
	case OpDiv:
		if b == 0 {
			return value.Null, newErr(KindDivisionByZero, ip, "integer division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return value.Null, newErr(KindArithmeticOverflow, ip, "integer overflow in %d / %d", a, b)
		}
		return value.Int(a / b), nil
	case OpMod:
		if b == 0 {
			return value.Null, newErr(KindDivisionByZero, ip, "integer modulo by zero")
		}
		return value.Int(a % b), nil
	}
	return value.Null, newErr(KindTypeError, ip, "unsupported arithmetic opcode %s", op)
}

// negate implements unary Neg across int and float.
func negate(a value.Value, ip int) (value.Value, *VmError) {
	if i, ok := a.AsInt(); ok {
		if i == math.MinInt64 {
			return value.Null, newErr(KindArithmeticOverflow, ip, "integer overflow negating %d", i)
		}
		return value.Int(-i), nil
	}
	if f, ok := a.AsFloat(); ok {
		return value.Float(-f), nil
	}
	return value.Null, newErr(KindTypeError, ip, "negation requires a numeric operand, got %s", a.Kind())
}

// compareOp implements Eq/Neq/Lt/Le/Gt/Ge. Eq and Neq are total across all
// tags (cross-tag comparisons are simply unequal); the ordering operators
// raise TypeError on an incomparable cross-tag pair, per value.Compare.
func compareOp(op Opcode, a, b value.Value, ip int) (value.Value, *VmError) {
	if op == OpEq {
		return value.Bool(a.Equal(b)), nil
	}
	if op == OpNeq {
		return value.Bool(!a.Equal(b)), nil
	}
	result, err := value.Compare(a, b)
	if err != nil {
		return value.Null, newErr(KindTypeError, ip, err.Error())
	}
	switch op {
	case OpLt:
		return value.Bool(result == value.Less), nil
	case OpLe:
		return value.Bool(result != value.Greater), nil
	case OpGt:
		return value.Bool(result == value.Greater), nil
	case OpGe:
		return value.Bool(result != value.Less), nil
	}
	return value.Null, newErr(KindTypeError, ip, "unsupported comparison opcode %s", op)
}

// loadIndex implements LoadIndex: container[index] for seq (integer index)
// and map (string key) containers.
func loadIndex(container, idx value.Value, ip int) (value.Value, *VmError) {
	if seq, ok := container.AsSeq(); ok {
		i, ok := idx.AsInt()
		if !ok {
			return value.Null, newErr(KindTypeError, ip, "sequence index must be int, got %s", idx.Kind())
		}
		if i < 0 || int(i) >= len(seq) {
			return value.Null, nil
		}
		return seq[i], nil
	}
	if m, ok := container.AsMap(); ok {
		key, ok := idx.AsString()
		if !ok {
			return value.Null, newErr(KindTypeError, ip, "map key must be string, got %s", idx.Kind())
		}
		v, found := m[key]
		if !found {
			return value.Null, nil
		}
		return v, nil
	}
	return value.Null, newErr(KindTypeError, ip, "cannot index into %s", container.Kind())
}
