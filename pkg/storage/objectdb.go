package storage

import (
	"iter"

	"github.com/i5heu/geostore/pkg/model"
)

// ObjectDatabase is the repository object store: every commit it stores is
// also recorded in the revision graph.
type ObjectDatabase struct {
	ObjectStore
	graph *GraphDatabase
}

func NewObjectDatabase(objects ObjectStore, graph *GraphDatabase) *ObjectDatabase {
	return &ObjectDatabase{ObjectStore: objects, graph: graph}
}

func (d *ObjectDatabase) Graph() *GraphDatabase { return d.graph }

// Put stores o and, for commits, records its parents in the graph. The graph
// is updated even when the commit was already stored.
func (d *ObjectDatabase) Put(o model.RevObject) (bool, error) {
	inserted, err := d.ObjectStore.Put(o)
	if err != nil {
		return false, err
	}
	if c, ok := o.(*model.Commit); ok {
		if _, err := d.graph.Put(c.ID(), c.Parents()); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (d *ObjectDatabase) PutAll(objects iter.Seq[model.RevObject], listener BulkListener) error {
	var commits []*model.Commit
	tapped := func(yield func(model.RevObject) bool) {
		for o := range objects {
			if c, ok := o.(*model.Commit); ok {
				commits = append(commits, c)
			}
			if !yield(o) {
				return
			}
		}
	}
	if err := d.ObjectStore.PutAll(tapped, listener); err != nil {
		return err
	}
	_, err := d.graph.PutAll(commits)
	return err
}
