// Package fingerprint computes deterministic content hashes used as the
// key space for profiler records, JIT cache entries, and persistence-intent
// coalescing. Generalised from the teacher's compiler/hash package, which
// hashes normalized method ASTs; here the input is always a flat byte
// slice (compiled bytecode, or an arbitrary payload), with an integer
// entry offset mixed in for bytecode only.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
)

// Hash is a 32-byte SHA-256 content fingerprint.
type Hash [32]byte

// BytecodeFingerprint hashes a bytecode slice together with its entry
// offset, so the same byte sequence entered at two different offsets
// (e.g. a shared tail after two different jump targets) still yields
// distinct profiler/JIT keys, per spec §4.4.
func BytecodeFingerprint(code []byte, entryOffset int) Hash {
	var offsetBuf [8]byte
	binary.BigEndian.PutUint64(offsetBuf[:], uint64(entryOffset))

	h := sha256.New()
	h.Write(offsetBuf[:])
	h.Write(code)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Payload hashes an arbitrary byte payload, used for PersistenceIntent's
// payload_hash and CommitReceipt's intent_hash.
func Payload(data []byte) Hash {
	var out Hash
	sum := sha256.Sum256(data)
	copy(out[:], sum[:])
	return out
}

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether h is the zero hash (uninitialised).
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}
