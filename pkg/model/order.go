package model

import (
	"slices"
	"strings"
	"unicode/utf16"
)

const (
	fnv64Offset uint64 = 14695981039346656037
	fnv64Prime  uint64 = 1099511628211

	// MaxDepth is the deepest level at which node names can still be told
	// apart by hash bucket.
	MaxDepth = 8
)

// NormalizedSizeLimit is the number of nodes a tree at the given depth may
// hold directly before it has to be split into buckets.
func NormalizedSizeLimit(depth int) int {
	if depth <= 2 {
		return 512
	}
	return 256
}

// MaxBucketsForLevel is the fan-out of a bucketed tree at the given depth.
func MaxBucketsForLevel(depth int) int {
	switch depth {
	case 0, 1, 2:
		return 32
	case 3, 4:
		return 8
	case 5, 6:
		return 4
	default:
		return 2
	}
}

// NameHash is the 64 bit FNV-1a hash of a node name over its UTF-16 code
// units, high byte first.
func NameHash(name string) uint64 {
	h := fnv64Offset
	for _, c := range utf16.Encode([]rune(name)) {
		h = fnvUpdate(h, byte(c>>8))
		h = fnvUpdate(h, byte(c))
	}
	return h
}

func fnvUpdate(h uint64, octet byte) uint64 {
	// the octet is sign-extended before the xor
	return (h ^ uint64(int64(int8(octet)))) * fnv64Prime
}

// BucketIndex returns the bucket a node name falls in at the given depth.
func BucketIndex(name string, depth int) int {
	return bucketOf(NameHash(name), depth)
}

func bucketOf(hash uint64, depth int) int {
	byteN := int(byte(hash >> (8 * (7 - depth))))
	return byteN * MaxBucketsForLevel(depth) / 256
}

// CompareNames is the canonical node order: names are compared bucket by
// bucket for every depth and only fall back to UTF-16 code unit order when
// they share all buckets.
func CompareNames(a, b string) int {
	if a == b {
		return 0
	}
	ha, hb := NameHash(a), NameHash(b)
	for depth := 0; depth < MaxDepth; depth++ {
		ba, bb := bucketOf(ha, depth), bucketOf(hb, depth)
		if ba != bb {
			if ba < bb {
				return -1
			}
			return 1
		}
	}
	return compareUTF16(a, b)
}

// compareUTF16 orders names by UTF-16 code units, which differs from byte
// order for code points above U+FFFF against U+E000..U+FFFF. Names that only
// differ in invalid UTF-8 encode to the same units and are split by bytes.
func compareUTF16(a, b string) int {
	if c := slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b))); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// CompareNodes orders nodes by CompareNames.
func CompareNodes(a, b Node) int {
	return CompareNames(a.name, b.name)
}
