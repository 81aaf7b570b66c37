package model

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// NumBytes is the width of an ObjectID in bytes (SHA-1).
const NumBytes = 20

// NumChars is the width of an ObjectID in hex characters.
const NumChars = 2 * NumBytes

// ObjectID is the content hash of the canonical encoding of a RevObject.
// It is split into three integer components so relational backends can store
// it as plain integer columns.
type ObjectID struct {
	h1     uint32
	h2, h3 uint64
}

// NullID is the all-zero identifier. It never identifies a stored object.
var NullID = ObjectID{}

// Hash computes the ObjectID of the given canonical bytes.
func Hash(data []byte) ObjectID {
	sum := sha1.Sum(data)
	return fromRaw(sum[:])
}

func fromRaw(raw []byte) ObjectID {
	return ObjectID{
		h1: binary.BigEndian.Uint32(raw[0:4]),
		h2: binary.BigEndian.Uint64(raw[4:12]),
		h3: binary.BigEndian.Uint64(raw[12:20]),
	}
}

// IDFromBytes builds an ObjectID from its 20 raw bytes.
func IDFromBytes(raw []byte) (ObjectID, error) {
	if len(raw) != NumBytes {
		return NullID, fmt.Errorf("invalid byte length for ObjectID: %d", len(raw))
	}
	return fromRaw(raw), nil
}

// IDFromParts rebuilds an ObjectID from its integer components.
func IDFromParts(h1 uint32, h2, h3 uint64) ObjectID {
	return ObjectID{h1: h1, h2: h2, h3: h3}
}

// IDFromHex parses a full 40 character hex identifier.
func IDFromHex(s string) (ObjectID, error) {
	if len(s) != NumChars {
		return NullID, fmt.Errorf("invalid hash string %q: expected %d characters", s, NumChars)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NullID, fmt.Errorf("invalid hash string %q: %w", s, err)
	}
	return fromRaw(raw), nil
}

// MustIDFromHex is IDFromHex for constants and tests.
func MustIDFromHex(s string) ObjectID {
	id, err := IDFromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Parts returns the integer components of the id.
func (id ObjectID) Parts() (uint32, uint64, uint64) {
	return id.h1, id.h2, id.h3
}

// RawValue returns the 20 raw bytes of the id.
func (id ObjectID) RawValue() [NumBytes]byte {
	var raw [NumBytes]byte
	binary.BigEndian.PutUint32(raw[0:4], id.h1)
	binary.BigEndian.PutUint64(raw[4:12], id.h2)
	binary.BigEndian.PutUint64(raw[12:20], id.h3)
	return raw
}

// Bytes returns a freshly allocated copy of the raw bytes.
func (id ObjectID) Bytes() []byte {
	raw := id.RawValue()
	return raw[:]
}

func (id ObjectID) String() string {
	raw := id.RawValue()
	return hex.EncodeToString(raw[:])
}

func (id ObjectID) IsNull() bool {
	return id == NullID
}

// Compare orders ids by their unsigned byte representation.
func (id ObjectID) Compare(o ObjectID) int {
	switch {
	case id.h1 != o.h1:
		return cmpUint(uint64(id.h1), uint64(o.h1))
	case id.h2 != o.h2:
		return cmpUint(id.h2, o.h2)
	default:
		return cmpUint(id.h3, o.h3)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// HasPrefix reports whether the hex form of id starts with the given
// (lower or upper case) hex prefix.
func (id ObjectID) HasPrefix(hexPrefix string) bool {
	return strings.HasPrefix(id.String(), strings.ToLower(hexPrefix))
}

// PartialRaw decodes the even-length part of a hex prefix into raw bytes.
// A trailing odd character is validated but not included.
func PartialRaw(hexPrefix string) ([]byte, error) {
	for i, c := range hexPrefix {
		if !isHex(c) {
			return nil, fmt.Errorf("at index %d: partial id is not a valid hash subsequence %q", i, hexPrefix)
		}
	}
	even := hexPrefix[:len(hexPrefix)&^1]
	return hex.DecodeString(even)
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
