package model

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNameHashKnownValues(t *testing.T) {
	t.Parallel()

	// FNV-1a offset basis for the empty name
	assert.Equal(t, fnv64Offset, NameHash(""))
	assert.Equal(t, NameHash("roads"), NameHash("roads"))
	assert.NotEqual(t, NameHash("roads"), NameHash("road"))
}

func TestBucketIndexInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.String().Draw(t, "name")
		depth := rapid.IntRange(0, MaxDepth-1).Draw(t, "depth")
		idx := BucketIndex(name, depth)
		if idx < 0 || idx >= MaxBucketsForLevel(depth) {
			t.Fatalf("bucket %d out of range at depth %d", idx, depth)
		}
	})
}

func TestCompareNamesIsTotalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		c := rapid.String().Draw(t, "c")

		if CompareNames(a, b) != -CompareNames(b, a) {
			t.Fatalf("not antisymmetric for %q %q", a, b)
		}
		if (CompareNames(a, b) == 0) != (a == b) {
			t.Fatalf("equality mismatch for %q %q", a, b)
		}
		names := []string{a, b, c}
		slices.SortFunc(names, CompareNames)
		if CompareNames(names[0], names[2]) > 0 {
			t.Fatalf("not transitive: %q", names)
		}
	})
}

func TestCompareNamesFollowsFirstBucket(t *testing.T) {
	t.Parallel()

	a, b := "feature.1", "feature.2"
	ba, bb := BucketIndex(a, 0), BucketIndex(b, 0)
	if ba == bb {
		t.Skip("names share the first bucket")
	}
	assert.Equal(t, ba < bb, CompareNames(a, b) < 0)
}

func TestBucketLayout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{32, 32, 32, 8, 8, 4, 4, 2}, func() []int {
		out := make([]int, MaxDepth)
		for d := range out {
			out[d] = MaxBucketsForLevel(d)
		}
		return out
	}())
	assert.Equal(t, 512, NormalizedSizeLimit(0))
	assert.Equal(t, 256, NormalizedSizeLimit(3))
}

func TestCompareUTF16CodeUnits(t *testing.T) {
	t.Parallel()

	// U+1F600 encodes as surrogates 0xD83D 0xDE00, below U+E000 in UTF-16
	// but above it in UTF-8.
	assert.Equal(t, -1, compareUTF16("\U0001F600", "\uE000"))
	assert.Equal(t, 1, compareUTF16("\uE000", "\U0001F600"))
	assert.Equal(t, 1, strings.Compare("\U0001F600", "\uE000"))

	assert.Equal(t, -1, compareUTF16("road", "roads"))
	assert.Equal(t, 0, compareUTF16("roads", "roads"))
	assert.NotEqual(t, 0, compareUTF16("\xff", "\xfe"))
}
