package storage

import (
	"golang.org/x/sync/errgroup"
)

// Stores is the bundle of stores of one repository.
type Stores struct {
	Objects   *ObjectDatabase
	Graph     *GraphDatabase
	Index     *IndexDatabase
	Conflicts *ConflictsDatabase
	Refs      *RefDatabase
	Config    *ConfigDatabase
}

func (s *Stores) all() []Lifecycle {
	return []Lifecycle{s.Objects, s.Graph, s.Index, s.Conflicts, s.Refs, s.Config}
}

// Open opens every store concurrently.
func (s *Stores) Open() error {
	var g errgroup.Group
	for _, l := range s.all() {
		g.Go(l.Open)
	}
	return g.Wait()
}

// Close closes every store, returning the first error.
func (s *Stores) Close() error {
	var g errgroup.Group
	for _, l := range s.all() {
		g.Go(l.Close)
	}
	return g.Wait()
}

func (s *Stores) IsOpen() bool {
	for _, l := range s.all() {
		if !l.IsOpen() {
			return false
		}
	}
	return true
}

// Backends are the physical stores of one repository. Views built over the
// same Backends share state but open, close and enforce read-only on their
// own.
type Backends struct {
	Blobs     BlobBackend
	Graph     GraphBackend
	Index     IndexBackend
	Conflicts ConflictsBackend
	Refs      RefBackend
	Config    ConfigBackend
}

// Views builds a fresh, closed set of store views honoring hints.
func (b Backends) Views(hints Hints, objects ObjectsConfig) *Stores {
	objects.ReadOnly = hints.ObjectsReadOnly
	graph := NewGraphDatabase(b.Graph, hints.ObjectsReadOnly)

	indexObjects := objects
	indexObjects.Name = "index object store"

	return &Stores{
		Objects:   NewObjectDatabase(NewObjects(b.Blobs, objects), graph),
		Graph:     graph,
		Index:     NewIndexDatabase(NewObjects(b.Blobs, indexObjects), b.Index, hints.ObjectsReadOnly),
		Conflicts: NewConflictsDatabase(b.Conflicts, hints.StagingReadOnly),
		Refs:      NewRefDatabase(b.Refs, hints.RefsReadOnly),
		Config:    NewConfigDatabase(b.Config, hints.ConfigReadOnly),
	}
}
