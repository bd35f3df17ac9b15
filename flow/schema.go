package flow

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/value"
)

// CueSchema compiles a flow's optional state_schema (a CUE source string)
// and exposes the compiler.Schema surface the expression compiler's
// semantic-analysis pass needs, plus initial-state validation. This is new
// wiring for the teacher's otherwise-unused cuelang.org/go dependency — the
// teacher's own object model carries no schema concept to adapt from.
type CueSchema struct {
	ctx *cue.Context
	val cue.Value
}

// NewCueSchema compiles source. An empty source returns a nil *CueSchema,
// meaning "no schema" — every HasPath query succeeds permissively and
// ValidateInitialState is a no-op, matching spec §4.2's "if provided".
func NewCueSchema(source string) (*CueSchema, error) {
	if source == "" {
		return nil, nil
	}
	ctx := cuecontext.New()
	val := ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("flow: invalid state_schema: %w", err)
	}
	return &CueSchema{ctx: ctx, val: val}, nil
}

// HasPath implements compiler.Schema.
func (s *CueSchema) HasPath(path string) bool {
	if s == nil {
		return true
	}
	return s.val.LookupPath(cue.ParsePath(path)).Exists()
}

// ValidateInitialState checks initial against the schema, returning a
// *SchemaViolationError if it does not conform.
func (s *CueSchema) ValidateInitialState(initial value.Value) error {
	if s == nil {
		return nil
	}
	encoded := s.ctx.Encode(toGoNative(initial))
	unified := s.val.Unify(encoded)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return &SchemaViolationError{Path: "initial_state", Reason: err.Error()}
	}
	return nil
}

func toGoNative(v value.Value) interface{} {
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindInt:
		i, _ := v.AsInt()
		return i
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f
	case value.KindString:
		s, _ := v.AsString()
		return s
	case value.KindSeq:
		seq, _ := v.AsSeq()
		out := make([]interface{}, len(seq))
		for i, e := range seq {
			out[i] = toGoNative(e)
		}
		return out
	case value.KindMap:
		m, _ := v.AsMap()
		out := make(map[string]interface{}, len(m))
		for k, e := range m {
			out[k] = toGoNative(e)
		}
		return out
	default:
		return nil
	}
}

// registryFuncs adapts a *bytecode.Registry to compiler.FunctionSignatures
// so expression compilation can validate CallFfi arity against the same
// registry the VM will execute against.
type registryFuncs struct {
	reg *bytecode.Registry
}

func (r registryFuncs) Arity(name string) (int, bool) {
	if r.reg == nil {
		return 0, false
	}
	entry, ok := r.reg.Lookup(name)
	if !ok {
		return 0, false
	}
	return entry.Arity, true
}
