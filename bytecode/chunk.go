package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/thinksystem/sleet/value"
)

// Version is the current bytecode format version. Bump when making an
// incompatible change to the encoding (spec §9: "new variants require an
// explicit version bump in the contract format").
const Version uint16 = 1

// Magic identifies a serialised chunk: "SLBC" (Sleet ByteCode).
var Magic = [4]byte{'S', 'L', 'B', 'C'}

// Chunk is a compiled bytecode sequence: the Code stream, its constant
// pool, and the interned path table so LoadVar/StoreVar operate on
// integers rather than strings (spec §9 "Scoped state access").
type Chunk struct {
	Version uint16
	Code    []byte

	Constants []value.Value
	Paths     []string // path_id -> dotted path string
	FfiNames  []string // name_id -> foreign function name

	// SourceMap optionally maps a code offset to a 1-based source line,
	// for error envelopes' instruction_offset field.
	SourceMap map[int]int
}

// NewChunk returns an empty chunk at the current format version.
func NewChunk() *Chunk {
	return &Chunk{
		Version: Version,
		Code:    make([]byte, 0, 32),
	}
}

// AddConstant interns v into the constant pool (values compare by
// structural equality) and returns its index.
func (c *Chunk) AddConstant(v value.Value) uint16 {
	for i, existing := range c.Constants {
		if existing.Equal(v) {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, v)
	return idx
}

// InternPath interns a dotted state path and returns its path_id.
func (c *Chunk) InternPath(path string) uint16 {
	for i, existing := range c.Paths {
		if existing == path {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Paths))
	c.Paths = append(c.Paths, path)
	return idx
}

// InternFfiName interns a foreign function name and returns its name_id.
func (c *Chunk) InternFfiName(name string) uint16 {
	for i, existing := range c.FfiNames {
		if existing == name {
			return uint16(i)
		}
	}
	idx := uint16(len(c.FfiNames))
	c.FfiNames = append(c.FfiNames, name)
	return idx
}

// Emit appends a bare opcode with no operand and returns its offset.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitU16 appends an opcode followed by a big-endian uint16 operand.
func (c *Chunk) EmitU16(op Opcode, operand uint16) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], operand)
	c.Code = append(c.Code, buf[:]...)
	return offset
}

// EmitU16U8 appends an opcode followed by a uint16 and a uint8 operand
// (used by CallFfi: name_id, arity).
func (c *Chunk) EmitU16U8(op Opcode, u16 uint16, u8 uint8) int {
	offset := c.EmitU16(op, u16)
	c.Code = append(c.Code, u8)
	return offset
}

// EmitI32 appends an opcode followed by a relative big-endian int32
// operand (used by Jump/JumpIfFalse/JumpIfTrue/Call).
func (c *Chunk) EmitI32(op Opcode, operand int32) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(operand))
	c.Code = append(c.Code, buf[:]...)
	return offset
}

// PatchI32 overwrites the int32 operand at the given code offset (the
// offset immediately following the opcode byte). Used to back-patch
// forward jump targets once the jump distance is known.
func (c *Chunk) PatchI32(operandOffset int, value int32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(value))
	copy(c.Code[operandOffset:operandOffset+4], buf[:])
}

// Len returns the number of bytes emitted so far.
func (c *Chunk) Len() int { return len(c.Code) }

// ErrMalformed is returned by decode helpers when the code stream is
// truncated or an operand is out of range.
type ErrMalformed struct {
	Offset int
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("bytecode: malformed at offset %d: %s", e.Offset, e.Reason)
}

func readU16(code []byte, at int) (uint16, error) {
	if at+2 > len(code) {
		return 0, &ErrMalformed{Offset: at, Reason: "truncated u16 operand"}
	}
	return binary.BigEndian.Uint16(code[at : at+2]), nil
}

func readI32(code []byte, at int) (int32, error) {
	if at+4 > len(code) {
		return 0, &ErrMalformed{Offset: at, Reason: "truncated i32 operand"}
	}
	return int32(binary.BigEndian.Uint32(code[at : at+4])), nil
}
