// Package compiler implements the expression compiler (spec §4.2): a
// lexer, precedence-climbing parser, optional schema/signature validation
// pass, and a code generator targeting the bytecode package. The pipeline
// shape — rune-based lexer with two-token lookahead, errorf-accumulating
// parser, separate semantic pass before codegen — follows the teacher's
// lexer.go/parser.go/semantic.go/codegen.go split, generalised from its
// Smalltalk-flavoured message-send grammar to flat arithmetic/comparison/
// logical/path/call expressions.
package compiler

import (
	"fmt"
	"strings"

	"github.com/thinksystem/sleet/bytecode"
)

// LexError wraps a lexer-level error token.
type LexError struct {
	Message string
	Pos     Position
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at line %d: %s", e.Pos.Line, e.Message)
}

// ParseError aggregates one or more parser error messages.
type ParseError struct {
	Messages []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", strings.Join(e.Messages, "; "))
}

// SchemaError aggregates one or more semantic-analysis error messages
// (unknown path, unknown function, arity mismatch).
type SchemaError struct {
	Messages []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", strings.Join(e.Messages, "; "))
}

// Compile parses source, optionally validates it against schema/funcs, and
// emits a bytecode chunk ready for the VM. schema and funcs may both be
// nil to skip validation.
func Compile(source string, schema Schema, funcs FunctionSignatures) (*bytecode.Chunk, error) {
	expr, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if schema != nil || funcs != nil {
		analyzer := NewSemanticAnalyzer(schema, funcs)
		analyzer.Analyze(expr)
		if errs := analyzer.Errors(); len(errs) > 0 {
			return nil, &SchemaError{Messages: errs}
		}
	}
	gen := NewGenerator()
	return gen.Generate(expr)
}

// Parse lexes and parses source into an expression AST without running
// semantic validation or codegen.
func Parse(source string) (Expr, error) {
	p := NewParser(source)
	expr := p.ParseExpression()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, &ParseError{Messages: errs}
	}
	return expr, nil
}
