// Package tree builds canonical trees. A tree with more entries than its
// depth allows is split into buckets by name hash, so equal entry sets
// always produce the same tree regardless of the edits that led to them.
package tree

import (
	"fmt"
	"iter"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
)

// Builder edits a base tree. Build writes the new root and every changed
// sub tree to the store; untouched buckets keep their ids.
type Builder struct {
	store   storage.ObjectStore
	base    *model.Tree
	changes map[string]*model.Node
	counts  map[model.ObjectID]counts
}

type counts struct {
	size     uint64
	numTrees int
}

// NewBuilder starts from base, or from the empty tree when base is nil.
func NewBuilder(store storage.ObjectStore, base *model.Tree) *Builder {
	if base == nil {
		base = model.EmptyTree
	}
	return &Builder{
		store:   store,
		base:    base,
		changes: map[string]*model.Node{},
		counts:  map[model.ObjectID]counts{},
	}
}

// Put adds or replaces the entry with the node's name.
func (b *Builder) Put(n model.Node) error {
	if n.Name() == "" {
		return fmt.Errorf("%w: empty node name", storage.ErrInvalidArgument)
	}
	if n.ObjectID().IsNull() && n.Type() != model.NodeTree {
		return fmt.Errorf("%w: node %q has a null object id", storage.ErrInvalidArgument, n.Name())
	}
	if n.Type() != model.NodeTree && n.Type() != model.NodeFeature {
		return fmt.Errorf("%w: node %q has no type", storage.ErrInvalidArgument, n.Name())
	}
	b.changes[n.Name()] = &n
	return nil
}

// Remove drops the entry with the given name, if any.
func (b *Builder) Remove(name string) {
	b.changes[name] = nil
}

// Pending is the number of edits not yet built.
func (b *Builder) Pending() int {
	return len(b.changes)
}

// Build applies the pending edits and stores the result, which becomes the
// base of further edits.
func (b *Builder) Build() (*model.Tree, error) {
	t, err := b.apply(b.base, 0, b.changes)
	if err != nil {
		return nil, err
	}
	if t.IsEmpty() {
		if _, err := b.store.Put(t); err != nil {
			return nil, err
		}
	}
	b.base = t
	b.changes = map[string]*model.Node{}
	return t, nil
}

func (b *Builder) apply(t *model.Tree, depth int, changes map[string]*model.Node) (*model.Tree, error) {
	if len(changes) == 0 {
		return t, nil
	}
	if !t.IsBucketed() {
		entries := make(map[string]model.Node, len(t.Nodes())+len(changes))
		for _, n := range t.Nodes() {
			entries[n.Name()] = n
		}
		for name, n := range changes {
			if n == nil {
				delete(entries, name)
			} else {
				entries[name] = *n
			}
		}
		return b.fromEntries(entries, depth)
	}

	groups := map[int]map[string]*model.Node{}
	for name, n := range changes {
		idx := model.BucketIndex(name, depth)
		if groups[idx] == nil {
			groups[idx] = map[string]*model.Node{}
		}
		groups[idx][name] = n
	}

	buckets := map[int]model.Bucket{}
	for _, bk := range t.Buckets() {
		buckets[bk.Index()] = bk
	}
	for idx, group := range groups {
		sub := model.EmptyTree
		if bk, ok := buckets[idx]; ok {
			var err error
			if sub, err = storage.GetTree(b.store, bk.TreeID()); err != nil {
				return nil, err
			}
		}
		updated, err := b.apply(sub, depth+1, group)
		if err != nil {
			return nil, err
		}
		if updated.IsEmpty() {
			delete(buckets, idx)
		} else {
			buckets[idx] = model.NewBucket(idx, updated.ID(), updated.Bounds())
		}
	}
	return b.fromBuckets(buckets, depth)
}

func (b *Builder) fromEntries(entries map[string]model.Node, depth int) (*model.Tree, error) {
	if len(entries) > model.NormalizedSizeLimit(depth) && depth < model.MaxDepth {
		groups := map[int]map[string]model.Node{}
		for name, n := range entries {
			idx := model.BucketIndex(name, depth)
			if groups[idx] == nil {
				groups[idx] = map[string]model.Node{}
			}
			groups[idx][name] = n
		}
		buckets := map[int]model.Bucket{}
		for idx, group := range groups {
			sub, err := b.fromEntries(group, depth+1)
			if err != nil {
				return nil, err
			}
			buckets[idx] = model.NewBucket(idx, sub.ID(), sub.Bounds())
		}
		return b.bucketTree(buckets)
	}

	var c counts
	nodes := make([]model.Node, 0, len(entries))
	for _, n := range entries {
		nodes = append(nodes, n)
		if n.Type() == model.NodeFeature {
			c.size++
			continue
		}
		sub, err := b.countsOf(n.ObjectID())
		if err != nil {
			return nil, err
		}
		c.size += sub.size
		c.numTrees += 1 + sub.numTrees
	}
	return b.save(model.NewLeafTree(c.size, c.numTrees, nodes), c)
}

func (b *Builder) fromBuckets(buckets map[int]model.Bucket, depth int) (*model.Tree, error) {
	if len(buckets) == 0 {
		return model.EmptyTree, nil
	}
	collapse, err := b.shouldCollapse(buckets, depth)
	if err != nil {
		return nil, err
	}
	if !collapse {
		return b.bucketTree(buckets)
	}
	entries := map[string]model.Node{}
	for _, bk := range buckets {
		for n, err := range Entries(b.store, bk.TreeID()) {
			if err != nil {
				return nil, err
			}
			entries[n.Name()] = n
		}
	}
	return b.fromEntries(entries, depth)
}

func (b *Builder) bucketTree(buckets map[int]model.Bucket) (*model.Tree, error) {
	var c counts
	list := make([]model.Bucket, 0, len(buckets))
	for _, bk := range buckets {
		list = append(list, bk)
		sub, err := b.countsOf(bk.TreeID())
		if err != nil {
			return nil, err
		}
		c.size += sub.size
		c.numTrees += sub.numTrees
	}
	return b.save(model.NewBucketTree(c.size, c.numTrees, list), c)
}

// shouldCollapse reports whether the buckets hold few enough direct
// entries to fit a leaf at depth.
func (b *Builder) shouldCollapse(buckets map[int]model.Bucket, depth int) (bool, error) {
	limit := model.NormalizedSizeLimit(depth)
	var total counts
	for _, bk := range buckets {
		c, err := b.countsOf(bk.TreeID())
		if err != nil {
			return false, err
		}
		total.size += c.size
		total.numTrees += c.numTrees
	}
	if total.size+uint64(total.numTrees) <= uint64(limit) {
		return true, nil
	}
	if total.numTrees == 0 {
		return false, nil
	}
	// sub trees hide their own entries in size, so count direct entries
	n := 0
	for _, bk := range buckets {
		for _, err := range Entries(b.store, bk.TreeID()) {
			if err != nil {
				return false, err
			}
			if n++; n > limit {
				return false, nil
			}
		}
	}
	return true, nil
}

func (b *Builder) save(t *model.Tree, c counts) (*model.Tree, error) {
	if _, err := b.store.Put(t); err != nil {
		return nil, err
	}
	b.counts[t.ID()] = c
	return t, nil
}

func (b *Builder) countsOf(id model.ObjectID) (counts, error) {
	if c, ok := b.counts[id]; ok {
		return c, nil
	}
	t, err := storage.GetTree(b.store, id)
	if err != nil {
		return counts{}, err
	}
	c := counts{size: t.Size(), numTrees: t.NumTrees()}
	b.counts[id] = c
	return c, nil
}

// Entries lists the direct entries of a tree across its buckets, in bucket
// order. An error ends the sequence.
func Entries(store storage.ObjectStore, id model.ObjectID) iter.Seq2[model.Node, error] {
	return func(yield func(model.Node, error) bool) {
		walkEntries(store, id, yield)
	}
}

func walkEntries(store storage.ObjectStore, id model.ObjectID, yield func(model.Node, error) bool) bool {
	t, err := storage.GetTree(store, id)
	if err != nil {
		return yield(model.Node{}, err)
	}
	for _, n := range t.Nodes() {
		if !yield(n, nil) {
			return false
		}
	}
	for _, bk := range t.Buckets() {
		if !walkEntries(store, bk.TreeID(), yield) {
			return false
		}
	}
	return true
}

// Find looks up a direct entry by name, following buckets by name hash.
func Find(store storage.ObjectStore, root *model.Tree, name string) (model.Node, bool, error) {
	t := root
	for depth := 0; ; depth++ {
		if !t.IsBucketed() {
			n, ok := t.Node(name)
			return n, ok, nil
		}
		bk, ok := t.Bucket(model.BucketIndex(name, depth))
		if !ok {
			return model.Node{}, false, nil
		}
		var err error
		if t, err = storage.GetTree(store, bk.TreeID()); err != nil {
			return model.Node{}, false, err
		}
	}
}

// Snapshot returns every direct entry of a tree keyed by name.
func Snapshot(store storage.ObjectStore, t *model.Tree) (map[string]model.Node, error) {
	out := map[string]model.Node{}
	for n, err := range Entries(store, t.ID()) {
		if err != nil {
			return nil, err
		}
		out[n.Name()] = n
	}
	return out, nil
}
