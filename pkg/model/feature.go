package model

import (
	"bytes"
	"fmt"
)

// ValueKind is the runtime type of a feature attribute value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOLEAN"
	case KindInt:
		return "LONG"
	case KindFloat:
		return "DOUBLE"
	case KindString:
		return "STRING"
	case KindBytes:
		return "BYTE_ARRAY"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Value is one attribute value of a feature. The zero Value is null.
// Geometries travel as KindBytes (WKB); their encoding is not interpreted here.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
}

func NullValue() Value              { return Value{} }
func BoolValue(b bool) Value        { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value        { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value    { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value    { return Value{kind: KindString, s: s} }
func BytesValue(raw []byte) Value   { return Value{kind: KindBytes, raw: append([]byte(nil), raw...)} }
func (v Value) Kind() ValueKind     { return v.kind }
func (v Value) IsNull() bool        { return v.kind == KindNull }
func (v Value) Bool() bool          { return v.b }
func (v Value) Int() int64          { return v.i }
func (v Value) Float() float64      { return v.f }
func (v Value) Str() string         { return v.s }
func (v Value) BytesValue() []byte  { return append([]byte(nil), v.raw...) }

// Interface returns the value as a plain Go value, nil for null.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.BytesValue()
	}
	return nil
}

func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.b == o.b && v.i == o.i && v.f == o.f &&
		v.s == o.s && bytes.Equal(v.raw, o.raw)
}

// Feature is an ordered list of attribute values.
type Feature struct {
	id     ObjectID
	values []Value
}

func NewFeature(values []Value) *Feature {
	f := &Feature{}
	if len(values) > 0 {
		f.values = make([]Value, len(values))
		for i, v := range values {
			if v.kind == KindBytes {
				v.raw = append([]byte(nil), v.raw...)
			}
			f.values[i] = v
		}
	}
	f.id = Hash(Encode(f))
	return f
}

func (f *Feature) ID() ObjectID     { return f.id }
func (f *Feature) Type() ObjectType { return TypeFeature }
func (f *Feature) Size() int        { return len(f.values) }

// Get returns the i-th value.
func (f *Feature) Get(i int) (Value, bool) {
	if i < 0 || i >= len(f.values) {
		return Value{}, false
	}
	return f.values[i], true
}

// Values returns a copy of the attribute values.
func (f *Feature) Values() []Value {
	return append([]Value(nil), f.values...)
}

// FieldType is the declared type of a feature type attribute.
type FieldType uint8

const (
	FieldNull FieldType = iota
	FieldBool
	FieldInt
	FieldFloat
	FieldString
	FieldBytes
	FieldGeometry
)

// Attribute describes one attribute of a feature type.
type Attribute struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// FeatureType is the attribute schema shared by the features of a tree.
type FeatureType struct {
	id         ObjectID
	name       string
	attributes []Attribute
}

func NewFeatureType(name string, attributes []Attribute) *FeatureType {
	ft := &FeatureType{name: name}
	if len(attributes) > 0 {
		ft.attributes = append([]Attribute(nil), attributes...)
	}
	ft.id = Hash(Encode(ft))
	return ft
}

func (ft *FeatureType) ID() ObjectID     { return ft.id }
func (ft *FeatureType) Type() ObjectType { return TypeFeatureType }
func (ft *FeatureType) Name() string     { return ft.name }

func (ft *FeatureType) Attributes() []Attribute {
	return append([]Attribute(nil), ft.attributes...)
}

// IndexOf returns the position of the named attribute or -1.
func (ft *FeatureType) IndexOf(name string) int {
	for i, a := range ft.attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}
