package model

import (
	"fmt"
	"math"
	"slices"
)

// NodeType tells whether a tree node references a sub tree or a feature.
type NodeType uint8

const (
	NodeTree NodeType = iota + 1
	NodeFeature
)

func (t NodeType) String() string {
	switch t {
	case NodeTree:
		return "TREE"
	case NodeFeature:
		return "FEATURE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Envelope is an axis aligned bounding box. The zero value is empty.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
	set                    bool
}

func NewEnvelope(minX, minY, maxX, maxY float64) Envelope {
	return Envelope{
		MinX: math.Min(minX, maxX), MinY: math.Min(minY, maxY),
		MaxX: math.Max(minX, maxX), MaxY: math.Max(minY, maxY),
		set: true,
	}
}

func (e Envelope) IsEmpty() bool { return !e.set }

// ExpandToInclude returns the smallest envelope covering both.
func (e Envelope) ExpandToInclude(o Envelope) Envelope {
	switch {
	case o.IsEmpty():
		return e
	case e.IsEmpty():
		return o
	}
	return NewEnvelope(
		math.Min(e.MinX, o.MinX), math.Min(e.MinY, o.MinY),
		math.Max(e.MaxX, o.MaxX), math.Max(e.MaxY, o.MaxY),
	)
}

func (e Envelope) Intersects(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Node is one named entry of a tree.
type Node struct {
	name       string
	objectID   ObjectID
	metadataID ObjectID
	nodeType   NodeType
	bounds     Envelope
}

func NewNode(name string, objectID, metadataID ObjectID, nodeType NodeType, bounds Envelope) Node {
	return Node{name: name, objectID: objectID, metadataID: metadataID, nodeType: nodeType, bounds: bounds}
}

// TreeNode and FeatureNode are shorthands for NewNode.
func TreeNode(name string, treeID, metadataID ObjectID) Node {
	return Node{name: name, objectID: treeID, metadataID: metadataID, nodeType: NodeTree}
}

func FeatureNode(name string, featureID, metadataID ObjectID, bounds Envelope) Node {
	return Node{name: name, objectID: featureID, metadataID: metadataID, nodeType: NodeFeature, bounds: bounds}
}

func (n Node) Name() string         { return n.name }
func (n Node) ObjectID() ObjectID   { return n.objectID }
func (n Node) MetadataID() ObjectID { return n.metadataID }
func (n Node) Type() NodeType       { return n.nodeType }
func (n Node) Bounds() Envelope     { return n.bounds }

// WithObjectID returns a copy of n pointing at another object.
func (n Node) WithObjectID(id ObjectID) Node {
	n.objectID = id
	return n
}

// WithBounds returns a copy of n with another extent.
func (n Node) WithBounds(e Envelope) Node {
	n.bounds = e
	return n
}

func (n Node) String() string {
	return fmt.Sprintf("%s %s %s", n.nodeType, n.objectID, n.name)
}

// Bucket references one partition of a bucketed tree.
type Bucket struct {
	index  int
	treeID ObjectID
	bounds Envelope
}

func NewBucket(index int, treeID ObjectID, bounds Envelope) Bucket {
	return Bucket{index: index, treeID: treeID, bounds: bounds}
}

func (b Bucket) Index() int         { return b.index }
func (b Bucket) TreeID() ObjectID   { return b.treeID }
func (b Bucket) Bounds() Envelope   { return b.bounds }

// Tree is either a leaf tree holding nodes directly or a bucketed tree whose
// entries are spread over sub trees by name hash. A leaf tree may hold both
// feature and tree nodes; a bucketed tree holds no nodes.
type Tree struct {
	id       ObjectID
	size     uint64
	numTrees int
	nodes    []Node
	buckets  []Bucket
}

// EmptyTree is the tree without entries.
var EmptyTree = NewLeafTree(0, 0, nil)

// NewLeafTree builds a leaf tree; nodes are sorted canonically and the last
// node wins on duplicate names.
func NewLeafTree(size uint64, numTrees int, nodes []Node) *Tree {
	t := &Tree{size: size, numTrees: numTrees, nodes: canonicalNodes(nodes)}
	t.id = Hash(Encode(t))
	return t
}

// NewBucketTree builds a bucketed tree; buckets are sorted by index.
func NewBucketTree(size uint64, numTrees int, buckets []Bucket) *Tree {
	t := &Tree{size: size, numTrees: numTrees}
	if len(buckets) > 0 {
		t.buckets = slices.Clone(buckets)
		slices.SortFunc(t.buckets, func(a, b Bucket) int { return a.index - b.index })
		t.buckets = slices.CompactFunc(t.buckets, func(a, b Bucket) bool { return a.index == b.index })
	}
	t.id = Hash(Encode(t))
	return t
}

func canonicalNodes(nodes []Node) []Node {
	if len(nodes) == 0 {
		return nil
	}
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.name] = n
	}
	out := make([]Node, 0, len(byName))
	for _, n := range byName {
		out = append(out, n)
	}
	slices.SortFunc(out, CompareNodes)
	return out
}

func (t *Tree) ID() ObjectID     { return t.id }
func (t *Tree) Type() ObjectType { return TypeTree }

// Size is the number of features reachable from this tree.
func (t *Tree) Size() uint64 { return t.size }

// NumTrees is the number of tree nodes reachable from this tree.
func (t *Tree) NumTrees() int { return t.numTrees }

func (t *Tree) IsEmpty() bool     { return len(t.nodes) == 0 && len(t.buckets) == 0 }
func (t *Tree) IsBucketed() bool  { return len(t.buckets) > 0 }
func (t *Tree) Nodes() []Node     { return slices.Clone(t.nodes) }
func (t *Tree) Buckets() []Bucket { return slices.Clone(t.buckets) }

// Node finds a direct entry by name. Only leaf trees can answer this.
func (t *Tree) Node(name string) (Node, bool) {
	i, ok := slices.BinarySearchFunc(t.nodes, name, func(n Node, name string) int {
		return CompareNames(n.name, name)
	})
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Bucket finds a bucket by index.
func (t *Tree) Bucket(index int) (Bucket, bool) {
	i, ok := slices.BinarySearchFunc(t.buckets, index, func(b Bucket, index int) int {
		return b.index - index
	})
	if !ok {
		return Bucket{}, false
	}
	return t.buckets[i], true
}

// Bounds is the union of all entry extents.
func (t *Tree) Bounds() Envelope {
	var e Envelope
	for _, n := range t.nodes {
		e = e.ExpandToInclude(n.bounds)
	}
	for _, b := range t.buckets {
		e = e.ExpandToInclude(b.bounds)
	}
	return e
}
