package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Generators

func genID(t *rapid.T) ObjectID {
	raw := rapid.SliceOfN(rapid.Byte(), NumBytes, NumBytes).Draw(t, "id")
	id, _ := IDFromBytes(raw)
	return id
}

func genPerson(t *rapid.T) Person {
	return Person{
		Name:           rapid.String().Draw(t, "name"),
		Email:          rapid.String().Draw(t, "email"),
		Timestamp:      rapid.Int64().Draw(t, "timestamp"),
		TimezoneOffset: rapid.Int32().Draw(t, "tz"),
	}
}

func genEnvelope(t *rapid.T) Envelope {
	if rapid.Bool().Draw(t, "empty") {
		return Envelope{}
	}
	f := rapid.Float64Range(-180, 180)
	return NewEnvelope(f.Draw(t, "x1"), f.Draw(t, "y1"), f.Draw(t, "x2"), f.Draw(t, "y2"))
}

func genValue(t *rapid.T) Value {
	switch rapid.IntRange(0, 5).Draw(t, "kind") {
	case 1:
		return BoolValue(rapid.Bool().Draw(t, "bool"))
	case 2:
		return IntValue(rapid.Int64().Draw(t, "int"))
	case 3:
		return FloatValue(rapid.Float64().Draw(t, "float"))
	case 4:
		return StringValue(rapid.String().Draw(t, "string"))
	case 5:
		return BytesValue(rapid.SliceOf(rapid.Byte()).Draw(t, "bytes"))
	}
	return NullValue()
}

func genNode(t *rapid.T) Node {
	nodeType := NodeFeature
	if rapid.Bool().Draw(t, "isTree") {
		nodeType = NodeTree
	}
	metadata := NullID
	if rapid.Bool().Draw(t, "hasMetadata") {
		metadata = genID(t)
	}
	return NewNode(rapid.StringN(1, 12, -1).Draw(t, "nodeName"), genID(t), metadata, nodeType, genEnvelope(t))
}

func genRevObject(t *rapid.T) RevObject {
	switch rapid.IntRange(0, 4).Draw(t, "type") {
	case 0:
		return NewCommit(CommitParams{
			Tree:      genID(t),
			Parents:   rapid.SliceOfN(rapid.Custom(genID), 0, 3).Draw(t, "parents"),
			Author:    genPerson(t),
			Committer: genPerson(t),
			Message:   rapid.String().Draw(t, "message"),
		})
	case 1:
		nodes := rapid.SliceOfN(rapid.Custom(genNode), 0, 20).Draw(t, "nodes")
		return NewLeafTree(rapid.Uint64().Draw(t, "size"), rapid.IntRange(0, 1000).Draw(t, "numTrees"), nodes)
	case 2:
		return NewFeature(rapid.SliceOfN(rapid.Custom(genValue), 0, 8).Draw(t, "values"))
	case 3:
		attrs := make([]Attribute, rapid.IntRange(0, 5).Draw(t, "numAttrs"))
		for i := range attrs {
			attrs[i] = Attribute{
				Name:     rapid.String().Draw(t, "attrName"),
				Type:     FieldType(rapid.IntRange(0, int(FieldGeometry)).Draw(t, "fieldType")),
				Nullable: rapid.Bool().Draw(t, "nullable"),
			}
		}
		return NewFeatureType(rapid.String().Draw(t, "typeName"), attrs)
	default:
		return NewTag(rapid.String().Draw(t, "tagName"), genID(t), rapid.String().Draw(t, "tagMessage"), genPerson(t))
	}
}

func TestCodecRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		o := genRevObject(t)
		data := Encode(o)

		if Hash(data) != o.ID() {
			t.Fatalf("id %s is not the hash of the encoding", o.ID())
		}
		decoded, err := DecodeAs(data, o.Type())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.ID() != o.ID() {
			t.Fatalf("decoded id %s, want %s", decoded.ID(), o.ID())
		}
		if again := Encode(decoded); string(again) != string(data) {
			t.Fatalf("re-encoding %s changed the bytes", o.Type())
		}
	})
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	t.Parallel()

	c := NewCommit(CommitParams{
		Tree:    Hash([]byte("tree")),
		Author:  Person{Name: "a", Email: "a@example.com"},
		Message: "initial",
	})
	data := Encode(c)
	for _, n := range []int{0, 1, 5, len(data) - 1} {
		_, err := Decode(data[:n])
		assert.ErrorIs(t, err, ErrDecoding, "prefix of %d bytes", n)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0x08, 0x2a})
	assert.True(t, errors.Is(err, ErrDecoding))
}

func TestDecodeAsTypeMismatch(t *testing.T) {
	t.Parallel()

	data := Encode(NewFeature([]Value{IntValue(1)}))
	_, err := DecodeAs(data, TypeCommit)
	require.ErrorIs(t, err, ErrDecoding)

	o, err := DecodeAs(data, TypeFeature)
	require.NoError(t, err)
	f := o.(*Feature)
	v, ok := f.Get(0)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int())
}

func TestCommitAccessors(t *testing.T) {
	t.Parallel()

	p1, p2 := Hash([]byte("p1")), Hash([]byte("p2"))
	c := NewCommit(CommitParams{Tree: EmptyTree.ID(), Parents: []ObjectID{p1, p2}, Message: "merge"})

	assert.Equal(t, []ObjectID{p1, p2}, c.Parents())
	first, ok := c.ParentN(0)
	assert.True(t, ok)
	assert.Equal(t, p1, first)
	_, ok = c.ParentN(2)
	assert.False(t, ok)

	// same content, same identity
	assert.Equal(t, c.ID(), NewCommit(CommitParams{Tree: EmptyTree.ID(), Parents: []ObjectID{p1, p2}, Message: "merge"}).ID())
	// parent order is part of the content
	assert.NotEqual(t, c.ID(), NewCommit(CommitParams{Tree: EmptyTree.ID(), Parents: []ObjectID{p2, p1}, Message: "merge"}).ID())
}

func TestTreeIdentityIgnoresInsertionOrder(t *testing.T) {
	t.Parallel()

	a := FeatureNode("a", Hash([]byte("a")), NullID, NewEnvelope(0, 0, 1, 1))
	b := FeatureNode("b", Hash([]byte("b")), NullID, Envelope{})
	c := TreeNode("c", EmptyTree.ID(), NullID)

	t1 := NewLeafTree(2, 1, []Node{a, b, c})
	t2 := NewLeafTree(2, 1, []Node{c, a, b})
	assert.Equal(t, t1.ID(), t2.ID())

	got, ok := t1.Node("b")
	require.True(t, ok)
	assert.Equal(t, b, got)
	_, ok = t1.Node("missing")
	assert.False(t, ok)
	assert.Equal(t, NewEnvelope(0, 0, 1, 1), t1.Bounds())
}

func TestEmptyTree(t *testing.T) {
	t.Parallel()

	assert.True(t, EmptyTree.IsEmpty())
	o, err := Decode(Encode(EmptyTree))
	require.NoError(t, err)
	assert.Equal(t, EmptyTree, o)
}
