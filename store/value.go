package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDocument
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDocument:
		return "object"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a dynamically-typed document field. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	doc  Document
	arr  []Value
}

// Document maps field names to values.
type Document map[string]Value

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }
func DocumentValue(d Document) Value {
	if d == nil {
		d = Document{}
	}
	return Value{kind: KindDocument, doc: d}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Bool() bool { return v.b }
func (v Value) Number() float64 { return v.n }
func (v Value) Str() string { return v.s }

// Document returns the nested document and whether v holds one.
func (v Value) Document() (Document, bool) {
	return v.doc, v.kind == KindDocument
}

// Array returns the element slice and whether v holds a sequence.
func (v Value) Array() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// Equal reports exact structural equality. Numbers compare by value, so
// 1 and 1.0 are equal; documents compare irrespective of field order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindDocument:
		return v.doc.Equal(o.doc)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindDocument:
		return DocumentValue(v.doc.Clone())
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	}
	return v
}

// Interface converts v back into plain Go values: nil, bool, float64,
// string, map[string]any or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindDocument:
		return v.doc.Map()
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindDocument:
		return v.doc.MarshalJSON()
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidDocument, v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Equal reports whether both documents hold the same fields with equal values.
func (d Document) Equal(o Document) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Map converts d into a map[string]any tree.
func (d Document) Map() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.Interface()
	}
	return out
}

// MarshalJSON writes fields in sorted order so encodings are deterministic.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := d[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	doc, ok := v.Document()
	if !ok {
		return fmt.Errorf("%w: top level must be an object, got %s", ErrInvalidDocument, v.Kind())
	}
	*d = doc
	return nil
}

// maxDepth bounds nesting so pathological input cannot exhaust the stack.
const maxDepth = 512

// FromAny converts plain Go values into a Value. Supported inputs are nil,
// bool, all integer and float kinds, json.Number, string, map[string]any,
// []any, Document and Value. Unsupported types, NaN/Inf and cyclic
// structures fail with ErrInvalidDocument.
func FromAny(x any) (Value, error) {
	c := converter{seen: make(map[uintptr]bool)}
	return c.convert(x, 0)
}

// DocumentFrom converts x into a Document; the top level must be a mapping.
func DocumentFrom(x any) (Document, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	doc, ok := v.Document()
	if !ok {
		return nil, fmt.Errorf("%w: top level must be an object, got %s", ErrInvalidDocument, v.Kind())
	}
	return doc, nil
}

type converter struct {
	seen map[uintptr]bool
}

func (c *converter) convert(x any, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidDocument, maxDepth)
	}
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return c.checkValue(t, depth)
	case Document:
		return c.checkValue(DocumentValue(t), depth)
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q: %v", ErrInvalidDocument, t.String(), err)
		}
		return c.number(f)
	case float64:
		return c.number(t)
	case float32:
		return c.number(float64(t))
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case map[string]any:
		if t == nil {
			return Null(), nil
		}
		ptr := reflect.ValueOf(t).Pointer()
		if c.seen[ptr] {
			return Value{}, fmt.Errorf("%w: cyclic structure", ErrInvalidDocument)
		}
		c.seen[ptr] = true
		defer delete(c.seen, ptr)
		doc := make(Document, len(t))
		for k, e := range t {
			v, err := c.convert(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			doc[k] = v
		}
		return DocumentValue(doc), nil
	case []any:
		if t == nil {
			return Null(), nil
		}
		if len(t) > 0 {
			ptr := reflect.ValueOf(t).Pointer()
			if c.seen[ptr] {
				return Value{}, fmt.Errorf("%w: cyclic structure", ErrInvalidDocument)
			}
			c.seen[ptr] = true
			defer delete(c.seen, ptr)
		}
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := c.convert(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr...), nil
	}
	return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidDocument, x)
}

func (c *converter) number(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite number", ErrInvalidDocument)
	}
	return Number(f), nil
}

// checkValue validates an already-typed Value tree: finite numbers, no
// cycles through shared documents, bounded depth.
func (c *converter) checkValue(v Value, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidDocument, maxDepth)
	}
	switch v.kind {
	case KindNumber:
		return c.number(v.n)
	case KindDocument:
		if v.doc == nil {
			return DocumentValue(nil), nil
		}
		ptr := reflect.ValueOf(v.doc).Pointer()
		if c.seen[ptr] {
			return Value{}, fmt.Errorf("%w: cyclic structure", ErrInvalidDocument)
		}
		c.seen[ptr] = true
		defer delete(c.seen, ptr)
		for _, e := range v.doc {
			if _, err := c.checkValue(e, depth+1); err != nil {
				return Value{}, err
			}
		}
	case KindArray:
		for _, e := range v.arr {
			if _, err := c.checkValue(e, depth+1); err != nil {
				return Value{}, err
			}
		}
	case KindNull, KindBool, KindString:
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidDocument, v.kind)
	}
	return v, nil
}

// validate checks a caller-supplied document before it is persisted.
func validate(doc Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	c := converter{seen: make(map[uintptr]bool)}
	_, err := c.checkValue(DocumentValue(doc), 0)
	return err
}
