package model

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecoding is returned when bytes do not hold a valid encoding of the
// requested object type.
var ErrDecoding = errors.New("decoding error")

// Encode returns the canonical encoding of o. Equal objects always encode to
// equal bytes: fields are written in field number order, repeated fields in
// their canonical order, and the object type is always the first field.
func Encode(o RevObject) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Type()))
	switch v := o.(type) {
	case *Commit:
		b = appendID(b, 2, v.tree)
		for _, p := range v.parents {
			b = appendID(b, 3, p)
		}
		b = appendMessage(b, 4, appendPerson(nil, v.author))
		b = appendMessage(b, 5, appendPerson(nil, v.committer))
		b = appendString(b, 6, v.message)
	case *Tree:
		b = appendVarint(b, 2, v.size)
		b = appendVarint(b, 3, uint64(v.numTrees))
		for _, n := range v.nodes {
			b = appendMessage(b, 4, appendNode(nil, n))
		}
		for _, bk := range v.buckets {
			b = appendMessage(b, 5, appendBucket(nil, bk))
		}
	case *Feature:
		for _, val := range v.values {
			b = appendMessage(b, 2, appendValue(nil, val))
		}
	case *FeatureType:
		b = appendString(b, 2, v.name)
		for _, a := range v.attributes {
			b = appendMessage(b, 3, appendAttribute(nil, a))
		}
	case *Tag:
		b = appendString(b, 2, v.name)
		b = appendID(b, 3, v.commitID)
		b = appendString(b, 4, v.message)
		b = appendMessage(b, 5, appendPerson(nil, v.tagger))
	default:
		panic(fmt.Sprintf("model: cannot encode %T", o))
	}
	return b
}

// PeekType returns the object type of an encoded object.
func PeekType(data []byte) (ObjectType, error) {
	r := fieldReader{b: data}
	num, typ, ok := r.next()
	if !ok || num != 1 {
		return 0, fmt.Errorf("%w: missing object type", ErrDecoding)
	}
	t := ObjectType(r.varint(typ))
	if r.err != nil {
		return 0, r.err
	}
	if !t.valid() {
		return 0, fmt.Errorf("%w: unknown object type %d", ErrDecoding, uint8(t))
	}
	return t, nil
}

// Decode parses a canonical encoding. The object id is the hash of data.
func Decode(data []byte) (RevObject, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	id := Hash(data)
	switch t {
	case TypeCommit:
		return decodeCommit(id, data)
	case TypeTree:
		return decodeTree(id, data)
	case TypeFeature:
		return decodeFeature(id, data)
	case TypeFeatureType:
		return decodeFeatureType(id, data)
	default:
		return decodeTag(id, data)
	}
}

// DecodeAs is Decode with a check on the object type.
func DecodeAs(data []byte, expected ObjectType) (RevObject, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	if t != expected {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrDecoding, expected, t)
	}
	return Decode(data)
}

func decodeCommit(id ObjectID, data []byte) (*Commit, error) {
	c := &Commit{id: id}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 2:
			c.tree = r.id(typ)
		case 3:
			c.parents = append(c.parents, r.id(typ))
		case 4:
			c.author = decodePerson(&r, r.bytes(typ))
		case 5:
			c.committer = decodePerson(&r, r.bytes(typ))
		case 6:
			c.message = string(r.bytes(typ))
		default:
			r.skip(num, typ)
		}
	}
	return c, r.err
}

func decodeTree(id ObjectID, data []byte) (*Tree, error) {
	t := &Tree{id: id}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 2:
			t.size = r.varint(typ)
		case 3:
			t.numTrees = int(r.varint(typ))
		case 4:
			t.nodes = append(t.nodes, decodeNode(&r, r.bytes(typ)))
		case 5:
			t.buckets = append(t.buckets, decodeBucket(&r, r.bytes(typ)))
		default:
			r.skip(num, typ)
		}
	}
	return t, r.err
}

func decodeFeature(id ObjectID, data []byte) (*Feature, error) {
	f := &Feature{id: id}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		if num == 2 {
			f.values = append(f.values, decodeValue(&r, r.bytes(typ)))
			continue
		}
		r.skip(num, typ)
	}
	return f, r.err
}

func decodeFeatureType(id ObjectID, data []byte) (*FeatureType, error) {
	ft := &FeatureType{id: id}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 2:
			ft.name = string(r.bytes(typ))
		case 3:
			ft.attributes = append(ft.attributes, decodeAttribute(&r, r.bytes(typ)))
		default:
			r.skip(num, typ)
		}
	}
	return ft, r.err
}

func decodeTag(id ObjectID, data []byte) (*Tag, error) {
	t := &Tag{id: id}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 2:
			t.name = string(r.bytes(typ))
		case 3:
			t.commitID = r.id(typ)
		case 4:
			t.message = string(r.bytes(typ))
		case 5:
			t.tagger = decodePerson(&r, r.bytes(typ))
		default:
			r.skip(num, typ)
		}
	}
	return t, r.err
}

func appendPerson(b []byte, p Person) []byte {
	b = appendString(b, 1, p.Name)
	b = appendString(b, 2, p.Email)
	b = appendVarint(b, 3, protowire.EncodeZigZag(p.Timestamp))
	return appendVarint(b, 4, protowire.EncodeZigZag(int64(p.TimezoneOffset)))
}

func decodePerson(parent *fieldReader, data []byte) Person {
	var p Person
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			p.Name = string(r.bytes(typ))
		case 2:
			p.Email = string(r.bytes(typ))
		case 3:
			p.Timestamp = protowire.DecodeZigZag(r.varint(typ))
		case 4:
			p.TimezoneOffset = int32(protowire.DecodeZigZag(r.varint(typ)))
		default:
			r.skip(num, typ)
		}
	}
	parent.fail(r.err)
	return p
}

func appendNode(b []byte, n Node) []byte {
	b = appendString(b, 1, n.name)
	b = appendID(b, 2, n.objectID)
	if !n.metadataID.IsNull() {
		b = appendID(b, 3, n.metadataID)
	}
	b = appendVarint(b, 4, uint64(n.nodeType))
	if !n.bounds.IsEmpty() {
		b = appendMessage(b, 5, appendEnvelope(nil, n.bounds))
	}
	return b
}

func decodeNode(parent *fieldReader, data []byte) Node {
	var n Node
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			n.name = string(r.bytes(typ))
		case 2:
			n.objectID = r.id(typ)
		case 3:
			n.metadataID = r.id(typ)
		case 4:
			n.nodeType = NodeType(r.varint(typ))
		case 5:
			n.bounds = decodeEnvelope(&r, r.bytes(typ))
		default:
			r.skip(num, typ)
		}
	}
	if r.err == nil && n.nodeType != NodeTree && n.nodeType != NodeFeature {
		r.err = fmt.Errorf("%w: unknown node type %d", ErrDecoding, n.nodeType)
	}
	parent.fail(r.err)
	return n
}

func appendBucket(b []byte, bk Bucket) []byte {
	b = appendVarint(b, 1, uint64(bk.index))
	b = appendID(b, 2, bk.treeID)
	if !bk.bounds.IsEmpty() {
		b = appendMessage(b, 3, appendEnvelope(nil, bk.bounds))
	}
	return b
}

func decodeBucket(parent *fieldReader, data []byte) Bucket {
	var bk Bucket
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			bk.index = int(r.varint(typ))
		case 2:
			bk.treeID = r.id(typ)
		case 3:
			bk.bounds = decodeEnvelope(&r, r.bytes(typ))
		default:
			r.skip(num, typ)
		}
	}
	parent.fail(r.err)
	return bk
}

func appendEnvelope(b []byte, e Envelope) []byte {
	for i, f := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f))
	}
	return b
}

func decodeEnvelope(parent *fieldReader, data []byte) Envelope {
	e := Envelope{set: true}
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			e.MinX = math.Float64frombits(r.fixed64(typ))
		case 2:
			e.MinY = math.Float64frombits(r.fixed64(typ))
		case 3:
			e.MaxX = math.Float64frombits(r.fixed64(typ))
		case 4:
			e.MaxY = math.Float64frombits(r.fixed64(typ))
		default:
			r.skip(num, typ)
		}
	}
	parent.fail(r.err)
	return e
}

func appendValue(b []byte, v Value) []byte {
	b = appendVarint(b, 1, uint64(v.kind))
	switch v.kind {
	case KindBool:
		var x uint64
		if v.b {
			x = 1
		}
		b = appendVarint(b, 2, x)
	case KindInt:
		b = appendVarint(b, 2, protowire.EncodeZigZag(v.i))
	case KindFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.f))
	case KindString:
		b = appendString(b, 2, v.s)
	case KindBytes:
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
	}
	return b
}

func decodeValue(parent *fieldReader, data []byte) Value {
	var v Value
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			v.kind = ValueKind(r.varint(typ))
		case 2:
			switch v.kind {
			case KindBool:
				v.b = r.varint(typ) != 0
			case KindInt:
				v.i = protowire.DecodeZigZag(r.varint(typ))
			case KindFloat:
				v.f = math.Float64frombits(r.fixed64(typ))
			case KindString:
				v.s = string(r.bytes(typ))
			case KindBytes:
				v.raw = append([]byte(nil), r.bytes(typ)...)
			default:
				r.fail(fmt.Errorf("%w: payload for value kind %s", ErrDecoding, v.kind))
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err == nil && v.kind > KindBytes {
		r.err = fmt.Errorf("%w: unknown value kind %d", ErrDecoding, v.kind)
	}
	parent.fail(r.err)
	return v
}

func appendAttribute(b []byte, a Attribute) []byte {
	b = appendString(b, 1, a.Name)
	b = appendVarint(b, 2, uint64(a.Type))
	var nullable uint64
	if a.Nullable {
		nullable = 1
	}
	return appendVarint(b, 3, nullable)
}

func decodeAttribute(parent *fieldReader, data []byte) Attribute {
	var a Attribute
	r := fieldReader{b: data}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			a.Name = string(r.bytes(typ))
		case 2:
			a.Type = FieldType(r.varint(typ))
		case 3:
			a.Nullable = r.varint(typ) != 0
		default:
			r.skip(num, typ)
		}
	}
	parent.fail(r.err)
	return a
}

func appendID(b []byte, num protowire.Number, id ObjectID) []byte {
	raw := id.RawValue()
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, raw[:])
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// fieldReader walks the fields of one message. The first failure sticks and
// ends the walk.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) fail(err error) {
	if r.err == nil && err != nil {
		r.err = err
		r.b = nil
	}
}

func (r *fieldReader) consumed(n int) bool {
	if n < 0 {
		r.fail(fmt.Errorf("%w: %v", ErrDecoding, protowire.ParseError(n)))
		return false
	}
	r.b = r.b[n:]
	return true
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if !r.consumed(n) {
		return 0, 0, false
	}
	return num, typ, true
}

func (r *fieldReader) want(got, want protowire.Type) bool {
	if got != want {
		r.fail(fmt.Errorf("%w: unexpected wire type %d", ErrDecoding, got))
		return false
	}
	return true
}

func (r *fieldReader) varint(typ protowire.Type) uint64 {
	if !r.want(typ, protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if !r.consumed(n) {
		return 0
	}
	return v
}

func (r *fieldReader) fixed64(typ protowire.Type) uint64 {
	if !r.want(typ, protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.b)
	if !r.consumed(n) {
		return 0
	}
	return v
}

func (r *fieldReader) bytes(typ protowire.Type) []byte {
	if !r.want(typ, protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if !r.consumed(n) {
		return nil
	}
	return v
}

func (r *fieldReader) id(typ protowire.Type) ObjectID {
	raw := r.bytes(typ)
	if r.err != nil {
		return NullID
	}
	id, err := IDFromBytes(raw)
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", ErrDecoding, err))
		return NullID
	}
	return id
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	r.consumed(protowire.ConsumeFieldValue(num, typ, r.b))
}
