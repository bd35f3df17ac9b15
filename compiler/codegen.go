package compiler

import (
	"fmt"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/value"
)

// ---------------------------------------------------------------------------
// Codegen: AST -> bytecode.Chunk (spec §4.2 "Compilation target")
// ---------------------------------------------------------------------------

// UnsupportedOperatorError is raised for an AST node the generator does not
// know how to lower (defensive — the grammar in parser.go cannot currently
// produce one, but the error exists for forward compatibility with new
// node kinds).
type UnsupportedOperatorError struct {
	Node string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("compiler: unsupported node %s", e.Node)
}

// Generator lowers a validated AST into a bytecode chunk.
type Generator struct {
	chunk *bytecode.Chunk
}

// NewGenerator wraps a fresh chunk for code generation.
func NewGenerator() *Generator {
	return &Generator{chunk: bytecode.NewChunk()}
}

// Generate compiles expr into the generator's chunk, terminating with Halt,
// and returns the chunk.
func (g *Generator) Generate(expr Expr) (*bytecode.Chunk, error) {
	if err := g.emit(expr); err != nil {
		return nil, err
	}
	g.chunk.Emit(bytecode.OpHalt)
	return g.chunk, nil
}

func (g *Generator) emit(expr Expr) error {
	switch n := expr.(type) {
	case *IntLiteral:
		idx := g.chunk.AddConstant(value.Int(n.Value))
		g.chunk.EmitU16(bytecode.OpPush, idx)
		return nil

	case *FloatLiteral:
		idx := g.chunk.AddConstant(value.Float(n.Value))
		g.chunk.EmitU16(bytecode.OpPush, idx)
		return nil

	case *StringLiteral:
		idx := g.chunk.AddConstant(value.String(n.Value))
		g.chunk.EmitU16(bytecode.OpPush, idx)
		return nil

	case *BoolLiteral:
		idx := g.chunk.AddConstant(value.Bool(n.Value))
		g.chunk.EmitU16(bytecode.OpPush, idx)
		return nil

	case *NullLiteral:
		idx := g.chunk.AddConstant(value.Null)
		g.chunk.EmitU16(bytecode.OpPush, idx)
		return nil

	case *PathExpr:
		pathID := g.chunk.InternPath(n.String())
		g.chunk.EmitU16(bytecode.OpLoadVar, pathID)
		return nil

	case *UnaryExpr:
		if err := g.emit(n.Operand); err != nil {
			return err
		}
		switch n.Op {
		case OpNegExpr:
			g.chunk.Emit(bytecode.OpNeg)
		case OpNotExpr:
			g.chunk.Emit(bytecode.OpNot)
		default:
			return &UnsupportedOperatorError{Node: "UnaryExpr"}
		}
		return nil

	case *BinaryExpr:
		return g.emitBinary(n)

	case *CallExpr:
		for _, arg := range n.Args {
			if err := g.emit(arg); err != nil {
				return err
			}
		}
		nameID := g.chunk.InternFfiName(n.Name)
		g.chunk.EmitU16U8(bytecode.OpCallFfi, nameID, uint8(len(n.Args)))
		return nil

	default:
		return &UnsupportedOperatorError{Node: fmt.Sprintf("%T", n)}
	}
}

// emitBinary lowers && and || to conditional jumps so evaluation is
// short-circuiting, matching ordinary expression-language semantics even
// though the VM's own OpAnd/OpOr opcodes always evaluate both operands.
// All other binary operators compile directly to their VM opcode.
func (g *Generator) emitBinary(n *BinaryExpr) error {
	switch n.Op {
	case OpAndExpr:
		if err := g.emit(n.Left); err != nil {
			return err
		}
		g.chunk.Emit(bytecode.OpDup)
		jumpOffset := g.chunk.EmitI32(bytecode.OpJumpIfFalse, 0)
		g.chunk.Emit(bytecode.OpPop)
		if err := g.emit(n.Right); err != nil {
			return err
		}
		g.patchJumpHere(jumpOffset)
		return nil

	case OpOrExpr:
		if err := g.emit(n.Left); err != nil {
			return err
		}
		g.chunk.Emit(bytecode.OpDup)
		jumpOffset := g.chunk.EmitI32(bytecode.OpJumpIfTrue, 0)
		g.chunk.Emit(bytecode.OpPop)
		if err := g.emit(n.Right); err != nil {
			return err
		}
		g.patchJumpHere(jumpOffset)
		return nil
	}

	if err := g.emit(n.Left); err != nil {
		return err
	}
	if err := g.emit(n.Right); err != nil {
		return err
	}
	op, ok := binaryOpcodes[n.Op]
	if !ok {
		return &UnsupportedOperatorError{Node: "BinaryExpr"}
	}
	g.chunk.Emit(op)
	return nil
}

var binaryOpcodes = map[BinaryOp]bytecode.Opcode{
	OpAddExpr: bytecode.OpAdd,
	OpSubExpr: bytecode.OpSub,
	OpMulExpr: bytecode.OpMul,
	OpDivExpr: bytecode.OpDiv,
	OpModExpr: bytecode.OpMod,
	OpEqExpr:  bytecode.OpEq,
	OpNeqExpr: bytecode.OpNeq,
	OpLtExpr:  bytecode.OpLt,
	OpLeExpr:  bytecode.OpLe,
	OpGtExpr:  bytecode.OpGt,
	OpGeExpr:  bytecode.OpGe,
}

// patchJumpHere back-patches the i32 operand at jumpOffset+1 so the jump
// lands on the next instruction to be emitted.
func (g *Generator) patchJumpHere(jumpOffset int) {
	operandOffset := jumpOffset + 1
	target := g.chunk.Len()
	rel := int32(target - (operandOffset + 4))
	g.chunk.PatchI32(operandOffset, rel)
}
