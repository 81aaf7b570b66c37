package heap

import "github.com/i5heu/geostore/pkg/storage"

// NewBackends creates the empty in-memory state of one repository.
func NewBackends() storage.Backends {
	return storage.Backends{
		Blobs:     NewBlobs(),
		Graph:     NewGraph(),
		Index:     NewIndex(),
		Conflicts: NewConflicts(),
		Refs:      NewRefs(),
		Config:    NewConfig(),
	}
}
