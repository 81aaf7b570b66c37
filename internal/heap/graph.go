package heap

import (
	"fmt"
	"slices"
	"sync"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// graphNode is one arena entry. Edges reference other entries by id; all
// fields are guarded by mu. pending holds a parent list that has been claimed
// by a put but not yet published as outgoing.
type graphNode struct {
	mu       sync.Mutex
	root     bool
	pending  []model.ObjectID
	outgoing []model.ObjectID
	incoming []model.ObjectID
	props    map[string]string
}

// Graph is the revision graph as an arena of nodes keyed by commit id. Nodes
// are created with insert-if-absent and mutated under their own lock only.
type Graph struct {
	storage.NopResource
	nodes    *xsync.MapOf[model.ObjectID, *graphNode]
	mappings *xsync.MapOf[model.ObjectID, model.ObjectID]
}

func NewGraph() *Graph {
	return &Graph{
		nodes:    xsync.NewMapOf[model.ObjectID, *graphNode](),
		mappings: xsync.NewMapOf[model.ObjectID, model.ObjectID](),
	}
}

func (g *Graph) getOrAdd(id model.ObjectID) *graphNode {
	n, _ := g.nodes.LoadOrCompute(id, func() *graphNode { return &graphNode{} })
	return n
}

func (g *Graph) Exists(id model.ObjectID) (bool, error) {
	_, ok := g.nodes.Load(id)
	return ok, nil
}

// Put links id to its parents. The child edge is added to every parent
// before the parent list is published on id, so a reader that sees p among
// the parents of c also sees c among the children of p. The reverse does not
// hold while a put is in flight. Only one node lock is held at a time.
func (g *Graph) Put(id model.ObjectID, parents []model.ObjectID) (bool, error) {
	n := g.getOrAdd(id)

	n.mu.Lock()
	claimed := n.outgoing
	if n.pending != nil {
		claimed = n.pending
	}
	updated, err := storage.PlanPut(storage.GraphNode{ID: id, Root: n.root, Parents: claimed}, parents)
	if err != nil || !updated {
		n.mu.Unlock()
		return false, err
	}
	if len(parents) == 0 {
		n.root = true
		n.mu.Unlock()
		return true, nil
	}
	n.pending = slices.Clone(parents)
	n.mu.Unlock()

	for _, p := range parents {
		pn := g.getOrAdd(p)
		pn.mu.Lock()
		if !slices.Contains(pn.incoming, id) {
			pn.incoming = append(pn.incoming, id)
		}
		pn.mu.Unlock()
	}

	n.mu.Lock()
	n.outgoing, n.pending = n.pending, nil
	n.mu.Unlock()
	return true, nil
}

func (g *Graph) Node(id model.ObjectID) (storage.GraphNode, error) {
	n, ok := g.nodes.Load(id)
	if !ok {
		return storage.GraphNode{}, fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return storage.GraphNode{
		ID:         id,
		Parents:    slices.Clone(n.outgoing),
		Children:   slices.Clone(n.incoming),
		Properties: cloneProps(n.props),
		Root:       n.root,
	}, nil
}

func cloneProps(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (g *Graph) SetProperty(id model.ObjectID, key, value string) error {
	n, ok := g.nodes.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.props == nil {
		n.props = map[string]string{}
	}
	n.props[key] = value
	return nil
}

func (g *Graph) Map(mapped, original model.ObjectID) error {
	g.mappings.Store(mapped, original)
	return nil
}

func (g *Graph) Mapping(id model.ObjectID) (model.ObjectID, error) {
	original, ok := g.mappings.Load(id)
	if !ok {
		return model.NullID, nil
	}
	return original, nil
}

func (g *Graph) Size() (int, error) {
	return g.nodes.Size(), nil
}

func (g *Graph) Truncate() error {
	g.nodes.Clear()
	g.mappings.Clear()
	return nil
}
