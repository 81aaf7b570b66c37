package storage

import (
	"fmt"
	"iter"
	"strings"

	"github.com/i5heu/geostore/pkg/model"
)

// DefaultNamespace holds the conflicts created outside any transaction.
const DefaultNamespace = ""

// Conflict is a three way merge collision at one dataset path.
type Conflict struct {
	Path     string
	Ancestor model.ObjectID
	Ours     model.ObjectID
	Theirs   model.ObjectID
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s\t%s %s %s", c.Path, c.Ancestor, c.Ours, c.Theirs)
}

// MatchesPrefix reports whether path is the prefix itself or lies below it.
// The empty prefix matches every path.
func MatchesPrefix(path, prefix string) bool {
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ConflictsBackend is the physical realization of the conflict ledger.
// Namespaces are independent of each other.
type ConflictsBackend interface {
	Resource
	// Add inserts or replaces conflicts by path.
	Add(namespace string, conflicts []Conflict) error
	Get(namespace, path string) (Conflict, bool, error)
	Remove(namespace string, paths []string) error
	RemoveByPrefix(namespace, prefix string) error
	// Find returns the subset of paths that have a conflict.
	Find(namespace string, paths []string) ([]string, error)
	Count(namespace, prefix string) (int, error)
	// List reads the matching conflicts lazily; an error ends the sequence.
	List(namespace, prefix string) iter.Seq2[Conflict, error]
	Has(namespace string) (bool, error)
	Clear(namespace string) error
}

// ConflictsDatabase is the conflict ledger view.
type ConflictsDatabase struct {
	*Guard
	b ConflictsBackend
}

func NewConflictsDatabase(b ConflictsBackend, readOnly bool) *ConflictsDatabase {
	return &ConflictsDatabase{Guard: NewGuard("conflicts database", b, readOnly), b: b}
}

func validPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: malformed path %q", ErrInvalidArgument, path)
	}
	return nil
}

func (d *ConflictsDatabase) AddConflict(namespace string, c Conflict) error {
	return d.AddConflicts(namespace, []Conflict{c})
}

func (d *ConflictsDatabase) AddConflicts(namespace string, conflicts []Conflict) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	for _, c := range conflicts {
		if err := validPath(c.Path); err != nil {
			return err
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return d.b.Add(namespace, conflicts)
}

func (d *ConflictsDatabase) GetConflict(namespace, path string) (Conflict, bool, error) {
	if err := d.CheckOpen(); err != nil {
		return Conflict{}, false, err
	}
	return d.b.Get(namespace, path)
}

func (d *ConflictsDatabase) RemoveConflict(namespace, path string) error {
	return d.RemoveConflicts(namespace, []string{path})
}

func (d *ConflictsDatabase) RemoveConflicts(namespace string, paths []string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	return d.b.Remove(namespace, paths)
}

// RemoveByPrefix removes the conflicts at or below prefix.
func (d *ConflictsDatabase) RemoveByPrefix(namespace, prefix string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return d.b.RemoveByPrefix(namespace, prefix)
}

// FindConflicts returns the set of paths among paths that have a conflict.
func (d *ConflictsDatabase) FindConflicts(namespace string, paths []string) (map[string]struct{}, error) {
	if err := d.CheckOpen(); err != nil {
		return nil, err
	}
	found, err := d.b.Find(namespace, paths)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(found))
	for _, p := range found {
		set[p] = struct{}{}
	}
	return set, nil
}

func (d *ConflictsDatabase) CountByPrefix(namespace, prefix string) (int, error) {
	if err := d.CheckOpen(); err != nil {
		return 0, err
	}
	return d.b.Count(namespace, prefix)
}

func (d *ConflictsDatabase) ListByPrefix(namespace, prefix string) iter.Seq2[Conflict, error] {
	if err := d.CheckOpen(); err != nil {
		return func(yield func(Conflict, error) bool) {
			yield(Conflict{}, err)
		}
	}
	return d.b.List(namespace, prefix)
}

func (d *ConflictsDatabase) HasConflicts(namespace string) (bool, error) {
	if err := d.CheckOpen(); err != nil {
		return false, err
	}
	return d.b.Has(namespace)
}

func (d *ConflictsDatabase) Clear(namespace string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return d.b.Clear(namespace)
}
