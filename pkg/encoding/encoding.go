// Package encoding composes the canonical object codec with a compression
// stage. Every stored blob starts with a one byte compression tag followed by
// the uncompressed length, so any store can read blobs written with any
// compression.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies the compression algorithm of a stored blob. The
// values are written to disk and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
	CompressionLZMA Compression = 3
)

// DefaultCompression is used when a repository does not configure one.
const DefaultCompression = CompressionLZ4

var errIncompressible = errors.New("data is incompressible")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionLZMA:
		return "lzma"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name; the empty name is the default.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "":
		return DefaultCompression, nil
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "lzma":
		return CompressionLZMA, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("encoding: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("encoding: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress frames data with the given compression. Data the algorithm cannot
// shrink is stored uncompressed.
func Compress(data []byte, c Compression) ([]byte, error) {
	var payload []byte
	var err error
	switch c {
	case CompressionNone:
		payload, err = data, nil
	case CompressionLZ4:
		payload, err = compressLZ4(data)
	case CompressionZstd:
		payload, err = compressZstd(data)
	case CompressionLZMA:
		payload, err = compressLZMA(data)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
	if errors.Is(err, errIncompressible) {
		c, payload, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	out = append(out, byte(c))
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, payload...), nil
}

// Decompress reverses Compress. Malformed frames fail with model.ErrDecoding.
func Decompress(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("%w: frame too short", model.ErrDecoding)
	}
	c := Compression(framed[0])
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad frame length", model.ErrDecoding)
	}
	payload := framed[1+n:]

	var out []byte
	var err error
	switch c {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: size %d does not match expected %d", model.ErrDecoding, len(payload), size)
		}
		out = payload
	case CompressionLZ4:
		out, err = decompressLZ4(payload, size)
	case CompressionZstd:
		out, err = decompressZstd(payload, size)
	case CompressionLZMA:
		out, err = decompressLZMA(payload, size)
	default:
		return nil, fmt.Errorf("%w: unsupported compression tag %d", model.ErrDecoding, uint8(c))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecoding, err)
	}
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(payload []byte, size uint64) ([]byte, error) {
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if uint64(read) != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(payload []byte, size uint64) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

func compressLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	if buf.Len() >= len(data) {
		return nil, errIncompressible
	}
	return buf.Bytes(), nil
}

func decompressLZMA(payload []byte, size uint64) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if _, err = io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lzma decompress: %w", err)
	}
	return out, nil
}

// Codec is the full pipeline between RevObjects and stored bytes.
type Codec struct {
	Compression Compression
}

// DefaultCodec uses DefaultCompression.
var DefaultCodec = Codec{Compression: DefaultCompression}

// Encode returns the id of o and its compressed canonical encoding.
func (c Codec) Encode(o model.RevObject) (model.ObjectID, []byte, error) {
	data, err := Compress(model.Encode(o), c.Compression)
	if err != nil {
		return model.NullID, nil, err
	}
	return o.ID(), data, nil
}

// Decode decompresses and decodes a stored blob.
func (c Codec) Decode(stored []byte) (model.RevObject, error) {
	raw, err := Decompress(stored)
	if err != nil {
		return nil, err
	}
	return model.Decode(raw)
}

// DecodeAs is Decode with a check on the object type.
func (c Codec) DecodeAs(stored []byte, expected model.ObjectType) (model.RevObject, error) {
	raw, err := Decompress(stored)
	if err != nil {
		return nil, err
	}
	return model.DecodeAs(raw, expected)
}
