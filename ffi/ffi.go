// Package ffi registers the runtime's built-in foreign functions — the
// small standard library every compiled expression can call via CallFfi
// (spec §4.2's `name(arg, arg)` call syntax). Generalised from the
// teacher's primitive method catalogue (pkg/codegen/primitives.go,
// primitives_string.go), which emits one Go function per Smalltalk
// primitive selector for a separate AOT build step; here there is no
// build step to emit into; each primitive is instead a direct
// bytecode.ForeignFunction closure registered at startup.
package ffi

import (
	"errors"
	"strings"
	"time"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/value"
)

// Register adds the runtime's built-in foreign functions to reg. Call
// once per registry; cmd/sleetd does this before any flow is transpiled,
// since flow.Transpile resolves CallFfi targets against the registry it's
// given at compile time.
func Register(reg *bytecode.Registry) {
	reg.Register("len", bytecode.ForeignEntry{Arity: 1, Handler: ffiLen})
	reg.Register("upper", bytecode.ForeignEntry{Arity: 1, Handler: ffiUpper})
	reg.Register("lower", bytecode.ForeignEntry{Arity: 1, Handler: ffiLower})
	reg.Register("trim", bytecode.ForeignEntry{Arity: 1, Handler: ffiTrim})
	reg.Register("contains", bytecode.ForeignEntry{Arity: 2, Handler: ffiContains})
	reg.Register("starts_with", bytecode.ForeignEntry{Arity: 2, Handler: ffiStartsWith})
	reg.Register("ends_with", bytecode.ForeignEntry{Arity: 2, Handler: ffiEndsWith})
	reg.Register("abs", bytecode.ForeignEntry{Arity: 1, Handler: ffiAbs})
	reg.Register("min", bytecode.ForeignEntry{Arity: 2, Handler: ffiMin})
	reg.Register("max", bytecode.ForeignEntry{Arity: 2, Handler: ffiMax})
	reg.Register("round", bytecode.ForeignEntry{Arity: 1, Handler: ffiRound})
	reg.Register("now", bytecode.ForeignEntry{Arity: 0, Handler: ffiNow})
}

// ffiLen generalises the teacher's String isEmpty_/notEmpty_ pair and
// Array at_'s implicit bounds-awareness into a single length primitive
// usable on strings, sequences, and maps alike.
func ffiLen(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	v := args[0]
	if s, ok := v.AsString(); ok {
		return value.Int(int64(len(s))), nil
	}
	if seq, ok := v.AsSeq(); ok {
		return value.Int(int64(len(seq))), nil
	}
	if m, ok := v.AsMap(); ok {
		return value.Int(int64(len(m))), nil
	}
	return value.Null, errors.New("len() requires a string, sequence, or map")
}

func ffiUpper(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok := args[0].AsString()
	if !ok {
		return value.Null, errors.New("upper() requires a string")
	}
	return value.String(strings.ToUpper(s)), nil
}

func ffiLower(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok := args[0].AsString()
	if !ok {
		return value.Null, errors.New("lower() requires a string")
	}
	return value.String(strings.ToLower(s)), nil
}

func ffiTrim(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok := args[0].AsString()
	if !ok {
		return value.Null, errors.New("trim() requires a string")
	}
	return value.String(strings.TrimSpace(s)), nil
}

// ffiContains generalises the teacher's contains_substring_ primitive
// (pkg/codegen/primitives_string.go) from a jen-generated strings.Contains
// call to a direct one.
func ffiContains(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok1 := args[0].AsString()
	sub, ok2 := args[1].AsString()
	if !ok1 || !ok2 {
		return value.Null, errors.New("contains() requires two strings")
	}
	return value.Bool(strings.Contains(s, sub)), nil
}

func ffiStartsWith(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok1 := args[0].AsString()
	prefix, ok2 := args[1].AsString()
	if !ok1 || !ok2 {
		return value.Null, errors.New("starts_with() requires two strings")
	}
	return value.Bool(strings.HasPrefix(s, prefix)), nil
}

func ffiEndsWith(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	s, ok1 := args[0].AsString()
	suffix, ok2 := args[1].AsString()
	if !ok1 || !ok2 {
		return value.Null, errors.New("ends_with() requires two strings")
	}
	return value.Bool(strings.HasSuffix(s, suffix)), nil
}

func ffiAbs(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	if i, ok := args[0].AsInt(); ok {
		if i < 0 {
			i = -i
		}
		return value.Int(i), nil
	}
	if f, ok := args[0].AsFloat(); ok {
		if f < 0 {
			f = -f
		}
		return value.Float(f), nil
	}
	return value.Null, errors.New("abs() requires a numeric argument")
}

func ffiMin(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	return numericCompare(args[0], args[1], false)
}

func ffiMax(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	return numericCompare(args[0], args[1], true)
}

func numericCompare(a, b value.Value, wantMax bool) (value.Value, error) {
	cmp, err := value.Compare(a, b)
	if err != nil {
		return value.Null, err
	}
	aIsGreater := cmp == value.Greater
	if aIsGreater == wantMax {
		return a, nil
	}
	return b, nil
}

func ffiRound(args []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	if i, ok := args[0].AsInt(); ok {
		return value.Int(i), nil
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Null, errors.New("round() requires a numeric argument")
	}
	whole := int64(f)
	frac := f - float64(whole)
	if frac >= 0.5 {
		whole++
	} else if frac <= -0.5 {
		whole--
	}
	return value.Int(whole), nil
}

// ffiNow returns the current wall-clock time as an RFC3339 string, the
// runtime's only source of non-determinism exposed to a compiled
// expression — a foreign function rather than an opcode, so it passes
// through the same call-site capability check as any other foreign call.
// Register gives it no CapabilityRequired, so every contract may call it.
func ffiNow(_ []value.Value, _ bytecode.ReadOnlyState) (value.Value, error) {
	return value.String(time.Now().UTC().Format(time.RFC3339)), nil
}
