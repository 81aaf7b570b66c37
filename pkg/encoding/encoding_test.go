package encoding

import (
	"bytes"
	"testing"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allCompressions = []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionLZMA}

func TestCompressRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		c := rapid.SampledFrom(allCompressions).Draw(t, "compression")

		framed, err := Compress(data, c)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		out, err := Decompress(framed)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("round trip changed %d bytes with %s", len(data), c)
		}
	})
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("geometry,"), 500)
	for _, c := range allCompressions[1:] {
		framed, err := Compress(data, c)
		require.NoError(t, err)
		assert.Equal(t, byte(c), framed[0], c.String())
		assert.Less(t, len(framed), len(data), c.String())
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	t.Parallel()

	framed, err := Compress([]byte{1, 2, 3}, CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), framed[0])
}

func TestDecompressCorruptFrame(t *testing.T) {
	t.Parallel()

	_, err := Decompress([]byte{byte(CompressionLZ4)})
	assert.ErrorIs(t, err, model.ErrDecoding)

	_, err = Decompress([]byte{42, 1, 0})
	assert.ErrorIs(t, err, model.ErrDecoding)

	framed, err := Compress(bytes.Repeat([]byte("a"), 100), CompressionZstd)
	require.NoError(t, err)
	_, err = Decompress(framed[:len(framed)-2])
	assert.ErrorIs(t, err, model.ErrDecoding)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for _, c := range allCompressions {
		parsed, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	def, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCompression, def)

	_, err = ParseCompression("lzf")
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	ft := model.NewFeatureType("roads", []model.Attribute{{Name: "geom", Type: model.FieldGeometry}})
	for _, c := range allCompressions {
		codec := Codec{Compression: c}
		id, data, err := codec.Encode(ft)
		require.NoError(t, err)
		assert.Equal(t, ft.ID(), id)

		o, err := codec.DecodeAs(data, model.TypeFeatureType)
		require.NoError(t, err)
		assert.Equal(t, ft, o)

		_, err = codec.DecodeAs(data, model.TypeTree)
		assert.ErrorIs(t, err, model.ErrDecoding)
	}
}
