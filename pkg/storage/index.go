package storage

import (
	"errors"
	"fmt"
	"iter"
	"maps"

	"github.com/i5heu/geostore/pkg/model"
)

type IndexStrategy uint8

const (
	StrategyQuadtree IndexStrategy = iota + 1
)

func (s IndexStrategy) String() string {
	if s == StrategyQuadtree {
		return "QUADTREE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

func ParseIndexStrategy(name string) (IndexStrategy, error) {
	if name == "QUADTREE" || name == "quadtree" {
		return StrategyQuadtree, nil
	}
	return 0, fmt.Errorf("%w: unknown index strategy %q", ErrInvalidArgument, name)
}

// Well known index metadata keys.
const (
	// MetadataMaxBounds holds the quadtree's maximum extent as
	// [minX, minY, maxX, maxY].
	MetadataMaxBounds = "@MAX_BOUNDS"
	// MetadataAttributes lists the feature attributes materialized in the
	// index tree nodes.
	MetadataAttributes = "@ATTRIBUTES"
)

// IndexInfo describes one secondary index over one attribute of a tree.
// Metadata values must be plain data (numbers, strings, slices, maps) so
// every backend can persist them.
type IndexInfo struct {
	TreeName      string
	AttributeName string
	Strategy      IndexStrategy
	Metadata      map[string]any
}

func NewIndexInfo(treeName, attributeName string, strategy IndexStrategy, metadata map[string]any) IndexInfo {
	return IndexInfo{
		TreeName:      treeName,
		AttributeName: attributeName,
		Strategy:      strategy,
		Metadata:      maps.Clone(metadata),
	}
}

// ID identifies the index by its tree and attribute names.
func (i IndexInfo) ID() model.ObjectID {
	return IndexID(i.TreeName, i.AttributeName)
}

func IndexID(treeName, attributeName string) model.ObjectID {
	return model.Hash([]byte(treeName + "\x00" + attributeName))
}

// Key is the "tree.attribute" name of the index.
func (i IndexInfo) Key() string {
	return i.TreeName + "." + i.AttributeName
}

// MaxBounds reads MetadataMaxBounds.
func (i IndexInfo) MaxBounds() (model.Envelope, bool) {
	var f []float64
	switch v := i.Metadata[MetadataMaxBounds].(type) {
	case []float64:
		f = v
	case []any:
		for _, x := range v {
			n, ok := x.(float64)
			if !ok {
				return model.Envelope{}, false
			}
			f = append(f, n)
		}
	}
	if len(f) != 4 {
		return model.Envelope{}, false
	}
	return model.NewEnvelope(f[0], f[1], f[2], f[3]), true
}

// WithMaxBounds returns a copy of i with MetadataMaxBounds set.
func (i IndexInfo) WithMaxBounds(e model.Envelope) IndexInfo {
	i.Metadata = maps.Clone(i.Metadata)
	if i.Metadata == nil {
		i.Metadata = map[string]any{}
	}
	i.Metadata[MetadataMaxBounds] = []float64{e.MinX, e.MinY, e.MaxX, e.MaxY}
	return i
}

// Attributes reads MetadataAttributes.
func (i IndexInfo) Attributes() []string {
	switch v := i.Metadata[MetadataAttributes].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// IndexTreeMapping links a canonical tree to its indexed counterpart.
type IndexTreeMapping struct {
	Original model.ObjectID
	Indexed  model.ObjectID
}

// IndexBackend is the physical realization of the index registry.
type IndexBackend interface {
	Resource
	// PutIndex inserts or replaces the index with info's id.
	PutIndex(info IndexInfo) error
	Index(treeName, attributeName string) (IndexInfo, bool, error)
	// Indexes lists the indexes of a tree, or of all trees when treeName is
	// empty.
	Indexes(treeName string) ([]IndexInfo, error)
	// DropIndex removes the index and its mappings.
	DropIndex(info IndexInfo) (bool, error)
	ClearMappings(info IndexInfo) error
	AddMapping(info IndexInfo, original, indexed model.ObjectID) error
	ResolveMapping(info IndexInfo, original model.ObjectID) (model.ObjectID, bool, error)
	// Mappings reads the mappings lazily; an error ends the sequence.
	Mappings(info IndexInfo) iter.Seq2[IndexTreeMapping, error]
}

// IndexDatabase is the index registry. It decorates the object store the
// index trees are written to.
type IndexDatabase struct {
	ObjectStore
	guard *Guard
	b     IndexBackend
}

func NewIndexDatabase(objects ObjectStore, b IndexBackend, readOnly bool) *IndexDatabase {
	return &IndexDatabase{
		ObjectStore: objects,
		guard:       NewGuard("index database", b, readOnly),
		b:           b,
	}
}

func (d *IndexDatabase) Open() error {
	if err := d.ObjectStore.Open(); err != nil {
		return err
	}
	return d.guard.Open()
}

func (d *IndexDatabase) Close() error {
	return errors.Join(d.guard.Close(), d.ObjectStore.Close())
}

func (d *IndexDatabase) IsOpen() bool     { return d.guard.IsOpen() && d.ObjectStore.IsOpen() }
func (d *IndexDatabase) IsReadOnly() bool { return d.guard.IsReadOnly() }

func validIndexNames(treeName, attributeName string) error {
	if treeName == "" || attributeName == "" {
		return fmt.Errorf("%w: index needs a tree and an attribute name", ErrInvalidArgument)
	}
	return nil
}

// CreateIndex registers a new index; it fails if the tree already has an
// index on the attribute.
func (d *IndexDatabase) CreateIndex(treeName, attributeName string, strategy IndexStrategy, metadata map[string]any) (IndexInfo, error) {
	if err := d.guard.CheckWritable(); err != nil {
		return IndexInfo{}, err
	}
	if err := validIndexNames(treeName, attributeName); err != nil {
		return IndexInfo{}, err
	}
	_, exists, err := d.b.Index(treeName, attributeName)
	if err != nil {
		return IndexInfo{}, err
	}
	if exists {
		return IndexInfo{}, fmt.Errorf("%w: index on %s.%s already exists", ErrInvalidArgument, treeName, attributeName)
	}
	info := NewIndexInfo(treeName, attributeName, strategy, metadata)
	return info, d.b.PutIndex(info)
}

// UpdateIndex replaces the index on the same tree and attribute, leaving the
// other indexes of the tree alone.
func (d *IndexDatabase) UpdateIndex(treeName, attributeName string, strategy IndexStrategy, metadata map[string]any) (IndexInfo, error) {
	if err := d.guard.CheckWritable(); err != nil {
		return IndexInfo{}, err
	}
	if err := validIndexNames(treeName, attributeName); err != nil {
		return IndexInfo{}, err
	}
	info := NewIndexInfo(treeName, attributeName, strategy, metadata)
	return info, d.b.PutIndex(info)
}

func (d *IndexDatabase) GetIndex(treeName, attributeName string) (IndexInfo, bool, error) {
	if err := d.guard.CheckOpen(); err != nil {
		return IndexInfo{}, false, err
	}
	return d.b.Index(treeName, attributeName)
}

func (d *IndexDatabase) ListIndexes(treeName string) ([]IndexInfo, error) {
	if err := d.guard.CheckOpen(); err != nil {
		return nil, err
	}
	return d.b.Indexes(treeName)
}

func (d *IndexDatabase) ListAllIndexes() ([]IndexInfo, error) {
	return d.ListIndexes("")
}

func (d *IndexDatabase) DropIndex(info IndexInfo) (bool, error) {
	if err := d.guard.CheckWritable(); err != nil {
		return false, err
	}
	return d.b.DropIndex(info)
}

// ClearIndex drops the mappings of an index but keeps the index.
func (d *IndexDatabase) ClearIndex(info IndexInfo) error {
	if err := d.guard.CheckWritable(); err != nil {
		return err
	}
	return d.b.ClearMappings(info)
}

func (d *IndexDatabase) AddMapping(info IndexInfo, original, indexed model.ObjectID) error {
	if err := d.guard.CheckWritable(); err != nil {
		return err
	}
	if original.IsNull() || indexed.IsNull() {
		return fmt.Errorf("%w: null tree id in index mapping", ErrInvalidArgument)
	}
	_, ok, err := d.b.Index(info.TreeName, info.AttributeName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no index on %s", ErrInvalidArgument, info.Key())
	}
	return d.b.AddMapping(info, original, indexed)
}

func (d *IndexDatabase) ResolveMapping(info IndexInfo, original model.ObjectID) (model.ObjectID, bool, error) {
	if err := d.guard.CheckOpen(); err != nil {
		return model.NullID, false, err
	}
	return d.b.ResolveMapping(info, original)
}

// ListMappings lazily reads the mappings of an index as of the time the
// sequence is ranged over.
func (d *IndexDatabase) ListMappings(info IndexInfo) iter.Seq2[IndexTreeMapping, error] {
	if err := d.guard.CheckOpen(); err != nil {
		return func(yield func(IndexTreeMapping, error) bool) {
			yield(IndexTreeMapping{}, err)
		}
	}
	return d.b.Mappings(info)
}
