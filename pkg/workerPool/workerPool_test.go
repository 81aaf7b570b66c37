package workerpool

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCollectsAllResults(t *testing.T) {
	t.Parallel()

	wp := New(Config{WorkerCount: 4, GlobalBuffer: 16})
	defer wp.Close()

	room := NewRoom[int](wp, 100)
	for i := 0; i < 100; i++ {
		room.Submit(func() int { return i * i })
	}
	results := room.Collect()
	require.Len(t, results, 100)

	sort.Ints(results)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	t.Parallel()

	wp := New(Config{WorkerCount: 2})
	defer wp.Close()

	a := NewRoom[string](wp, 1)
	b := NewRoom[string](wp, 1)
	a.Submit(func() string { return "a" })
	b.Submit(func() string { return "b" })

	assert.Equal(t, []string{"b"}, b.Collect())
	assert.Equal(t, []string{"a"}, a.Collect())
}

func TestTrySubmitFullQueue(t *testing.T) {
	t.Parallel()

	wp := New(Config{WorkerCount: 1, GlobalBuffer: 1})
	defer wp.Close()

	block := make(chan struct{})
	room := NewRoom[int](wp, 8)
	// occupies the only worker
	room.Submit(func() int { <-block; return 0 })

	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = room.TrySubmit(func() int { return 1 })
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	assert.NotEmpty(t, room.Collect())
}

func TestEmptyRoom(t *testing.T) {
	t.Parallel()

	room := NewRoom[int](Shared(), 0)
	assert.Empty(t, room.Collect())
}
