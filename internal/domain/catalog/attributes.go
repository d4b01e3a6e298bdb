package catalog

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// MaxAttributeDepth bounds nesting of attribute objects.
const MaxAttributeDepth = 4

// Kind identifies which field of a Value is set.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
	KindObject
)

// Value is a single attribute value: a scalar or a nested object.
type Value struct {
	Kind   Kind
	Str    string
	Num    float64
	Bool   bool
	Object Attributes
}

// String returns a Value holding s.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a Value holding f.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Bool returns a Value holding b.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Object returns a Value holding a nested attribute set.
func Object(a Attributes) Value { return Value{Kind: KindObject, Object: a} }

// Attributes is a typed attribute bag (sizes, colors, variation settings).
type Attributes map[string]Value

// ParseAttributes decodes a JSON object into Attributes. Arrays, nulls and
// objects nested deeper than MaxAttributeDepth are rejected.
func ParseAttributes(raw []byte) (Attributes, error) {
	if len(raw) == 0 {
		return Attributes{}, nil
	}
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Null {
		return Attributes{}, d.Null()
	}
	attrs, err := decodeObject(d, 1)
	if err != nil {
		return nil, errors.Wrap(err, "parse attributes")
	}
	return attrs, nil
}

func decodeObject(d *jx.Decoder, depth int) (Attributes, error) {
	if depth > MaxAttributeDepth {
		return nil, errors.Errorf("nesting deeper than %d", MaxAttributeDepth)
	}
	if d.Next() != jx.Object {
		return nil, errors.Errorf("expected object, got %s", d.Next())
	}
	out := Attributes{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			out[key] = String(s)
		case jx.Number:
			f, err := d.Float64()
			if err != nil {
				return err
			}
			out[key] = Number(f)
		case jx.Bool:
			b, err := d.Bool()
			if err != nil {
				return err
			}
			out[key] = Bool(b)
		case jx.Object:
			nested, err := decodeObject(d, depth+1)
			if err != nil {
				return errors.Wrapf(err, "key %q", key)
			}
			out[key] = Object(nested)
		default:
			return errors.Errorf("key %q: unsupported value type %s", key, d.Next())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Encode writes the attributes as a JSON object.
func (a Attributes) Encode(e *jx.Encoder) {
	e.ObjStart()
	for k, v := range a {
		e.FieldStart(k)
		v.Encode(e)
	}
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler for storage in JSONB columns.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	a.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAttributes(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Encode writes the value as JSON.
func (v Value) Encode(e *jx.Encoder) {
	switch v.Kind {
	case KindString:
		e.Str(v.Str)
	case KindNumber:
		e.Float64(v.Num)
	case KindBool:
		e.Bool(v.Bool)
	case KindObject:
		v.Object.Encode(e)
	default:
		e.Null()
	}
}
