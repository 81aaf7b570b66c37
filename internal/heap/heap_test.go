package heap

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackends(t *testing.T) storage.Backends {
	return NewBackends()
}

func TestHeapBackends(t *testing.T) {
	testutil.RunBackendSuite(t, newBackends)
}

func TestBlobsPutIfAbsentCopiesInput(t *testing.T) {
	t.Parallel()

	b := NewBlobs()
	id := testutil.ID("blob")
	data := []byte("payload")

	ok, err := b.PutIfAbsent(id, data)
	require.NoError(t, err)
	assert.True(t, ok)
	data[0] = 'X'

	got, err := b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, 1, b.Size())
}

func TestGraphNodeSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	root, child := testutil.ID("root"), testutil.ID("child")
	_, err := g.Put(root, nil)
	require.NoError(t, err)

	before, err := g.Node(root)
	require.NoError(t, err)
	_, err = g.Put(child, []model.ObjectID{root})
	require.NoError(t, err)

	assert.Empty(t, before.Children)
	after, err := g.Node(root)
	require.NoError(t, err)
	assert.Len(t, after.Children, 1)
}

func TestGraphParentsImplyChildren(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	root := testutil.ID("root")
	_, err := g.Put(root, nil)
	require.NoError(t, err)

	const writers, perWriter = 8, 50
	ids := make([][]model.ObjectID, writers)
	for w := range ids {
		for i := 0; i < perWriter; i++ {
			ids[w] = append(ids[w], testutil.ID(fmt.Sprintf("commit-%d-%d", w, i)))
		}
	}

	done := make(chan struct{})
	var violations sync.Map
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, chain := range ids {
					for _, id := range chain {
						node, err := g.Node(id)
						if err != nil {
							continue
						}
						for _, p := range node.Parents {
							parent, err := g.Node(p)
							if err != nil || !slices.Contains(parent.Children, id) {
								violations.Store(id, p)
							}
						}
					}
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(chain []model.ObjectID) {
			defer writersWG.Done()
			prev := root
			for _, id := range chain {
				parents := []model.ObjectID{prev}
				if prev != root {
					parents = append(parents, root)
				}
				_, err := g.Put(id, parents)
				assert.NoError(t, err)
				prev = id
			}
		}(ids[w])
	}
	writersWG.Wait()
	close(done)
	readers.Wait()

	violations.Range(func(k, v any) bool {
		t.Errorf("%v lists parent %v which does not list it as a child", k, v)
		return true
	})
	node, err := g.Node(root)
	require.NoError(t, err)
	assert.Len(t, node.Children, writers*perWriter)
}
