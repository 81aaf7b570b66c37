package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Hash([]byte("some canonical bytes"))
	b := Hash([]byte("some canonical bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Hash([]byte("other bytes")))
	assert.False(t, a.IsNull())
}

func TestObjectIDHexRoundTrip(t *testing.T) {
	t.Parallel()

	id := Hash([]byte("x"))
	s := id.String()
	require.Len(t, s, NumChars)

	parsed, err := IDFromHex(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	h1, h2, h3 := id.Parts()
	assert.Equal(t, id, IDFromParts(h1, h2, h3))

	fromBytes, err := IDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, fromBytes)
}

func TestObjectIDInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := IDFromHex("abc")
	assert.Error(t, err)
	_, err = IDFromHex(strings.Repeat("z", NumChars))
	assert.Error(t, err)
	_, err = IDFromBytes(make([]byte, 19))
	assert.Error(t, err)
}

func TestObjectIDPrefix(t *testing.T) {
	t.Parallel()

	id := MustIDFromHex("0123456789abcdef0123456789abcdef01234567")
	assert.True(t, id.HasPrefix("01234567"))
	assert.True(t, id.HasPrefix("012345678"))
	assert.False(t, id.HasPrefix("012345670"))

	raw, err := PartialRaw("012345678")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23, 0x45, 0x67}, raw)

	_, err = PartialRaw("01g3")
	assert.Error(t, err)
}

func TestObjectIDCompare(t *testing.T) {
	t.Parallel()

	a := IDFromParts(1, 0, 0)
	b := IDFromParts(1, 0, 1)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Negative(t, strings.Compare(a.String(), b.String()))
}
