package value

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireValue is the CBOR-on-the-wire shape for a Value: a tagged envelope so
// that null/bool/int/float/string/seq/map round-trip without ambiguity
// (plain `any` would conflate Int and Float on some CBOR encoders).
type wireValue struct {
	K uint8           `cbor:"k"`
	B bool            `cbor:"b,omitempty"`
	I int64           `cbor:"i,omitempty"`
	F float64         `cbor:"f,omitempty"`
	S string          `cbor:"s,omitempty"`
	Q []wireValue     `cbor:"q,omitempty"`
	M map[string]wireValue `cbor:"m,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{K: uint8(v.kind)}
	switch v.kind {
	case KindBool:
		w.B = v.b
	case KindInt:
		w.I = v.i
	case KindFloat:
		w.F = v.f
	case KindString:
		w.S = v.s
	case KindSeq:
		w.Q = make([]wireValue, len(v.seq))
		for i, e := range v.seq {
			w.Q[i] = toWire(e)
		}
	case KindMap:
		w.M = make(map[string]wireValue, len(v.m))
		for k, e := range v.m {
			w.M[k] = toWire(e)
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch Kind(w.K) {
	case KindNull:
		return Null, nil
	case KindBool:
		return Bool(w.B), nil
	case KindInt:
		return Int(w.I), nil
	case KindFloat:
		return Float(w.F), nil
	case KindString:
		return String(w.S), nil
	case KindSeq:
		items := make([]Value, len(w.Q))
		for i, e := range w.Q {
			v, err := fromWire(e)
			if err != nil {
				return Null, err
			}
			items[i] = v
		}
		return Seq(items...), nil
	case KindMap:
		m := make(map[string]Value, len(w.M))
		for k, e := range w.M {
			v, err := fromWire(e)
			if err != nil {
				return Null, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Null, fmt.Errorf("value: unknown wire kind %d", w.K)
	}
}

// MarshalCBOR implements cbor.Marshaler so Value round-trips through the
// persisted state layout (package storage) and the pipeline's intent
// payload encoding.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(toWire(v))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
