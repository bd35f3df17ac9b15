package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders Value as plain JSON (null/bool/number/string/array/
// object), unlike MarshalCBOR's tagged wire envelope — the control surface
// (package httpapi) exchanges initial_state, resume inputs, and terminal
// results as ordinary JSON, so callers should never see the internal Kind
// discriminant.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindSeq:
		return json.Marshal(v.seq)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes plain JSON into a Value, mapping JSON numbers onto
// Int when they carry no fractional/exponent part and Float otherwise, so a
// flow author's `"count": 3` round-trips as an integer rather than silently
// becoming a float.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null, err
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return Null, err
			}
			items[i] = ev
		}
		return Seq(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return Null, err
			}
			m[k] = ev
		}
		return Map(m), nil
	default:
		return Null, fmt.Errorf("value: unsupported JSON type %T", raw)
	}
}
