package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Semantic Analyzer: pre-codegen checks (spec §4.2 "Validation")
// ---------------------------------------------------------------------------

// Schema is the minimal validation surface the semantic analyzer needs
// from a state schema; the flow transpiler supplies a cuelang.org/go-backed
// implementation, so this package stays independent of any schema engine.
type Schema interface {
	// HasPath reports whether path is a statically known field of the
	// schema. Schemas with permissive/open shapes may always return true.
	HasPath(path string) bool
}

// FunctionSignatures is the minimal validation surface needed to check a
// CallExpr's arity against the foreign function registry it will be
// compiled against.
type FunctionSignatures interface {
	// Arity returns the declared arity and whether name is known.
	Arity(name string) (int, bool)
}

// SemanticAnalyzer performs semantic analysis on the AST before code
// generation: unknown-path and unknown-function/arity-mismatch checks.
type SemanticAnalyzer struct {
	errors  []string
	schema  Schema
	funcs   FunctionSignatures
}

// NewSemanticAnalyzer creates an analyzer. schema and funcs are both
// optional (nil disables the corresponding check, per spec §4.2's "state
// schema, if supplied" wording).
func NewSemanticAnalyzer(schema Schema, funcs FunctionSignatures) *SemanticAnalyzer {
	return &SemanticAnalyzer{schema: schema, funcs: funcs}
}

// Errors returns accumulated semantic errors.
func (a *SemanticAnalyzer) Errors() []string { return a.errors }

func (a *SemanticAnalyzer) errorf(format string, args ...interface{}) {
	a.errors = append(a.errors, fmt.Sprintf(format, args...))
}

// Analyze walks expr, recording SchemaError-equivalent messages for any
// path not present in the schema and arity mismatches for any call against
// a known function signature set.
func (a *SemanticAnalyzer) Analyze(expr Expr) {
	switch n := expr.(type) {
	case *PathExpr:
		if a.schema != nil && !a.schema.HasPath(n.String()) {
			a.errorf("unknown state path %q", n.String())
		}
	case *CallExpr:
		if a.funcs != nil {
			arity, known := a.funcs.Arity(n.Name)
			if !known {
				a.errorf("unknown foreign function %q", n.Name)
			} else if arity != len(n.Args) {
				a.errorf("foreign function %q expects %d args, got %d", n.Name, arity, len(n.Args))
			}
		}
		for _, arg := range n.Args {
			a.Analyze(arg)
		}
	case *BinaryExpr:
		a.Analyze(n.Left)
		a.Analyze(n.Right)
	case *UnaryExpr:
		a.Analyze(n.Operand)
	}
}
