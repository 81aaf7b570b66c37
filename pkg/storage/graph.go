package storage

import (
	"fmt"
	"maps"
	"slices"

	"github.com/i5heu/geostore/pkg/model"
)

// SparseFlag marks a graph node standing in for history that was not
// imported.
const SparseFlag = "sparse"

// GraphNode is a snapshot of one node of the revision graph.
type GraphNode struct {
	ID model.ObjectID
	// Parents are the outgoing edges, in commit parent order.
	Parents []model.ObjectID
	// Children are the incoming edges, in insertion order.
	Children   []model.ObjectID
	Properties map[string]string
	// Root is set once the node was put with an empty parent list.
	Root bool
}

func (n GraphNode) IsSparse() bool {
	return n.Properties[SparseFlag] == "true"
}

// IsAttached reports whether the node's parent list is final, either as a
// root or with recorded parents.
func (n GraphNode) IsAttached() bool {
	return n.Root || len(n.Parents) > 0
}

func (n GraphNode) Clone() GraphNode {
	n.Parents = slices.Clone(n.Parents)
	n.Children = slices.Clone(n.Children)
	n.Properties = maps.Clone(n.Properties)
	return n
}

// PlanPut decides what a graph put does to an existing node. It reports
// whether the put changes the node and fails with ErrParentsChanged when the
// node is already attached to a different parent list.
func PlanPut(existing GraphNode, parents []model.ObjectID) (bool, error) {
	switch {
	case len(parents) == 0 && existing.Root:
		return false, nil
	case len(parents) == 0 && len(existing.Parents) > 0,
		len(parents) > 0 && existing.Root:
		return false, fmt.Errorf("%w: %s", ErrParentsChanged, existing.ID)
	case len(existing.Parents) == 0:
		return true, nil
	case slices.Equal(existing.Parents, parents):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrParentsChanged, existing.ID)
	}
}

// Depth is the breadth first distance from id to the nearest node without
// parents. The walk stops at the first level holding such a node.
func Depth(id model.ObjectID, parentsOf func(model.ObjectID) ([]model.ObjectID, error)) (int, error) {
	frontier, err := parentsOf(id)
	if err != nil {
		return 0, err
	}
	depth := 0
	seen := map[model.ObjectID]struct{}{id: {}}
	for len(frontier) > 0 {
		depth++
		var next []model.ObjectID
		for _, n := range frontier {
			parents, err := parentsOf(n)
			if err != nil {
				return 0, err
			}
			if len(parents) == 0 {
				return depth, nil
			}
			for _, p := range parents {
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return depth, nil
}

// GraphBackend is the physical realization of the revision graph. Put must
// make the attach transition of one node atomic against concurrent puts of
// the same node; see PlanPut.
type GraphBackend interface {
	Resource
	Exists(id model.ObjectID) (bool, error)
	Put(id model.ObjectID, parents []model.ObjectID) (bool, error)
	// Node fails with ErrGraphNodeNotFound for unknown ids.
	Node(id model.ObjectID) (GraphNode, error)
	SetProperty(id model.ObjectID, key, value string) error
	Map(mapped, original model.ObjectID) error
	// Mapping returns model.NullID when no mapping is recorded.
	Mapping(id model.ObjectID) (model.ObjectID, error)
	Size() (int, error)
	Truncate() error
}

// GraphDatabase is a view over a GraphBackend.
type GraphDatabase struct {
	*Guard
	b GraphBackend
}

func NewGraphDatabase(b GraphBackend, readOnly bool) *GraphDatabase {
	return &GraphDatabase{Guard: NewGuard("graph database", b, readOnly), b: b}
}

func (g *GraphDatabase) Exists(id model.ObjectID) (bool, error) {
	if err := g.CheckOpen(); err != nil {
		return false, err
	}
	return g.b.Exists(id)
}

// Put records the parents of a commit. It reports true only when this call
// attached the node or marked it root.
func (g *GraphDatabase) Put(id model.ObjectID, parents []model.ObjectID) (bool, error) {
	if err := g.CheckWritable(); err != nil {
		return false, err
	}
	if id.IsNull() {
		return false, fmt.Errorf("%w: null commit id", ErrInvalidArgument)
	}
	for _, p := range parents {
		if p.IsNull() || p == id {
			return false, fmt.Errorf("%w: invalid parent %s of %s", ErrInvalidArgument, p, id)
		}
	}
	return g.b.Put(id, slices.Clone(parents))
}

// PutAll records the ancestry of all commits and returns how many nodes
// changed.
func (g *GraphDatabase) PutAll(commits []*model.Commit) (int, error) {
	var updated int
	for _, c := range commits {
		ok, err := g.Put(c.ID(), c.Parents())
		if err != nil {
			return updated, err
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}

func (g *GraphDatabase) GetNode(id model.ObjectID) (GraphNode, error) {
	if err := g.CheckOpen(); err != nil {
		return GraphNode{}, err
	}
	return g.b.Node(id)
}

func (g *GraphDatabase) GetParents(id model.ObjectID) ([]model.ObjectID, error) {
	n, err := g.GetNode(id)
	if err != nil {
		return nil, err
	}
	return n.Parents, nil
}

func (g *GraphDatabase) GetChildren(id model.ObjectID) ([]model.ObjectID, error) {
	n, err := g.GetNode(id)
	if err != nil {
		return nil, err
	}
	return n.Children, nil
}

func (g *GraphDatabase) GetDepth(id model.ObjectID) (int, error) {
	if err := g.CheckOpen(); err != nil {
		return 0, err
	}
	return Depth(id, func(n model.ObjectID) ([]model.ObjectID, error) {
		node, err := g.b.Node(n)
		return node.Parents, err
	})
}

func (g *GraphDatabase) Map(mapped, original model.ObjectID) error {
	if err := g.CheckWritable(); err != nil {
		return err
	}
	return g.b.Map(mapped, original)
}

func (g *GraphDatabase) GetMapping(id model.ObjectID) (model.ObjectID, error) {
	if err := g.CheckOpen(); err != nil {
		return model.NullID, err
	}
	return g.b.Mapping(id)
}

// SetProperty fails with ErrGraphNodeNotFound when the node does not exist.
func (g *GraphDatabase) SetProperty(id model.ObjectID, key, value string) error {
	if err := g.CheckWritable(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: empty property name", ErrInvalidArgument)
	}
	return g.b.SetProperty(id, key, value)
}

func (g *GraphDatabase) GetProperty(id model.ObjectID, key string) (string, bool, error) {
	n, err := g.GetNode(id)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Properties[key]
	return v, ok, nil
}

func (g *GraphDatabase) Size() (int, error) {
	if err := g.CheckOpen(); err != nil {
		return 0, err
	}
	return g.b.Size()
}

func (g *GraphDatabase) Truncate() error {
	if err := g.CheckWritable(); err != nil {
		return err
	}
	return g.b.Truncate()
}
