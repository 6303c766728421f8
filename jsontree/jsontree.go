// Package jsontree implements an order-preserving JSON document tree.
//
// The node type is a sum of {null, bool, number, string, array, object}.
// Objects keep key insertion order and numbers are kept in their original
// decimal form, so a parsed document serializes back with the same key order
// and number text; whitespace is dropped and string escapes are re-encoded
// by encoding/json. This is what makes doc_json canonicalisation a fixpoint.
package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Kind identifies the JSON type held by a Value.
type Kind uint8

const (
	Invalid Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "invalid"
}

// Value is a single node of a JSON document tree.
type Value struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	arr    []*Value
	keys   []string
	fields map[string]*Value
}

// Constructors.

func NewNull() *Value               { return &Value{kind: Null} }
func NewBool(b bool) *Value         { return &Value{kind: Bool, b: b} }
func NewString(s string) *Value     { return &Value{kind: String, str: s} }
func NewNumber(n json.Number) *Value { return &Value{kind: Number, num: n} }

// NewNumberInt builds a number node from an int64.
func NewNumberInt(n int64) *Value {
	return &Value{kind: Number, num: json.Number(fmt.Sprintf("%d", n))}
}

func NewArray(elems ...*Value) *Value {
	return &Value{kind: Array, arr: elems}
}

func NewObject() *Value {
	return &Value{kind: Object, fields: map[string]*Value{}}
}

// Kind returns the JSON type of the node.
func (v *Value) Kind() Kind {
	if v == nil {
		return Invalid
	}
	return v.kind
}

func (v *Value) IsNull() bool   { return v != nil && v.kind == Null }
func (v *Value) IsObject() bool { return v != nil && v.kind == Object }
func (v *Value) IsArray() bool  { return v != nil && v.kind == Array }

// BoolVal returns the boolean payload. Only meaningful for Bool nodes.
func (v *Value) BoolVal() bool { return v.b }

// NumberVal returns the decimal payload. Only meaningful for Number nodes.
func (v *Value) NumberVal() json.Number { return v.num }

// StringVal returns the string payload. Only meaningful for String nodes.
func (v *Value) StringVal() string { return v.str }

// Object accessors.

// Keys returns the object's keys in insertion order.
func (v *Value) Keys() []string { return v.keys }

// Get returns the field value for key, if present.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.kind != Object {
		return nil, false
	}
	val, ok := v.fields[key]
	return val, ok
}

// Set assigns a field, appending the key if it is new.
func (v *Value) Set(key string, val *Value) {
	if _, ok := v.fields[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = val
}

// Delete removes a field, preserving the order of remaining keys.
func (v *Value) Delete(key string) {
	if _, ok := v.fields[key]; !ok {
		return
	}
	delete(v.fields, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of fields or elements.
func (v *Value) Len() int {
	switch v.kind {
	case Object:
		return len(v.keys)
	case Array:
		return len(v.arr)
	}
	return 0
}

// Array accessors.

// Elems returns the underlying element slice.
func (v *Value) Elems() []*Value { return v.arr }

// Index returns the i-th element, if in range.
func (v *Value) Index(i int) (*Value, bool) {
	if v == nil || v.kind != Array || i < 0 || i >= len(v.arr) {
		return nil, false
	}
	return v.arr[i], true
}

// SetIndex assigns the i-th element, growing the array with nulls as needed.
func (v *Value) SetIndex(i int, val *Value) {
	for len(v.arr) <= i {
		v.arr = append(v.arr, NewNull())
	}
	v.arr[i] = val
}

// Append adds elements at the end of the array.
func (v *Value) Append(vals ...*Value) {
	v.arr = append(v.arr, vals...)
}

// RemoveIndex deletes the i-th element.
func (v *Value) RemoveIndex(i int) {
	if i < 0 || i >= len(v.arr) {
		return
	}
	v.arr = append(v.arr[:i], v.arr[i+1:]...)
}

// Clone returns a deep copy of the node.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	switch v.kind {
	case Array:
		elems := make([]*Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = e.Clone()
		}
		return &Value{kind: Array, arr: elems}
	case Object:
		out := NewObject()
		for _, k := range v.keys {
			out.Set(k, v.fields[k].Clone())
		}
		return out
	default:
		c := *v
		return &c
	}
}

// Equal reports deep structural equality. Numbers compare numerically, so
// 1 and 1.0 are equal.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case String:
		return v.str == other.str
	case Number:
		if v.num == other.num {
			return true
		}
		a, aok := new(big.Rat).SetString(v.num.String())
		b, bok := new(big.Rat).SetString(other.num.String())
		return aok && bok && a.Cmp(b) == 0
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.keys) != len(other.keys) {
			return false
		}
		for _, k := range v.keys {
			o, ok := other.fields[k]
			if !ok || !v.fields[k].Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// Parse decodes JSON bytes into a tree, preserving object key order and
// decimal number text.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	// Reject trailing garbage after the first value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected content after JSON value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return parseFromToken(dec, tok)
}

func parseFromToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return NewNumber(t), nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			arr := NewArray()
			for dec.More() {
				elem, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr.Append(elem)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token: %v", tok)
}

// AppendJSON serializes the node onto dst with no whitespace, keys in
// insertion order.
func (v *Value) AppendJSON(dst []byte) []byte {
	switch v.kind {
	case Null:
		return append(dst, "null"...)
	case Bool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case Number:
		return append(dst, v.num.String()...)
	case String:
		return appendQuoted(dst, v.str)
	case Array:
		dst = append(dst, '[')
		for i, e := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = e.AppendJSON(dst)
		}
		return append(dst, ']')
	case Object:
		dst = append(dst, '{')
		for i, k := range v.keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendQuoted(dst, k)
			dst = append(dst, ':')
			dst = v.fields[k].AppendJSON(dst)
		}
		return append(dst, '}')
	}
	return dst
}

// MarshalJSON implements json.Marshaler.
func (v *Value) MarshalJSON() ([]byte, error) {
	return v.AppendJSON(nil), nil
}

// String returns the compact JSON form of the node.
func (v *Value) String() string {
	return string(v.AppendJSON(nil))
}

func appendQuoted(dst []byte, s string) []byte {
	// json.Marshal of a string never fails.
	b, _ := json.Marshal(s)
	return append(dst, b...)
}
