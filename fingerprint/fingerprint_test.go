package fingerprint

import "testing"

func TestBytecodeFingerprintDeterministic(t *testing.T) {
	a := BytecodeFingerprint([]byte{0x01, 0x02}, 0)
	b := BytecodeFingerprint([]byte{0x01, 0x02}, 0)
	if a != b {
		t.Fatalf("expected deterministic fingerprint")
	}
}

func TestBytecodeFingerprintDistinguishesOffset(t *testing.T) {
	a := BytecodeFingerprint([]byte{0x01, 0x02}, 0)
	b := BytecodeFingerprint([]byte{0x01, 0x02}, 4)
	if a == b {
		t.Fatalf("expected distinct fingerprints for distinct entry offsets")
	}
}

func TestPayloadHashRendersNonZero(t *testing.T) {
	h := Payload([]byte("hello"))
	if h.String() == "" || h.IsZero() {
		t.Fatalf("unexpected hash rendering")
	}
}
