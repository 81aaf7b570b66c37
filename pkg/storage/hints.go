package storage

// Hints tune how a repository's stores are opened.
type Hints struct {
	// ObjectsReadOnly opens the object, graph and index stores read-only.
	ObjectsReadOnly bool
	// StagingReadOnly opens the conflict ledger read-only.
	StagingReadOnly bool
	RefsReadOnly    bool
	ConfigReadOnly  bool
}

// ReadOnlyHints opens every store read-only.
func ReadOnlyHints() Hints {
	return Hints{ObjectsReadOnly: true, StagingReadOnly: true, RefsReadOnly: true, ConfigReadOnly: true}
}
