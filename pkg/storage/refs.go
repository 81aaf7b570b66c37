package storage

import (
	"fmt"
	"strings"

	"github.com/i5heu/geostore/pkg/model"
)

// SymRefPrefix starts the stored value of a symbolic ref.
const SymRefPrefix = "ref: "

// Well known ref names.
const (
	Head           = "HEAD"
	WorkHead       = "WORK_HEAD"
	StageHead      = "STAGE_HEAD"
	OrigHead       = "ORIG_HEAD"
	MergeHead      = "MERGE_HEAD"
	CherryPickHead = "CHERRY_PICK_HEAD"

	HeadsPrefix   = "refs/heads/"
	RemotesPrefix = "refs/remotes/"
	TagsPrefix    = "refs/tags/"
)

// RefBackend stores raw ref values by name.
type RefBackend interface {
	Resource
	Get(name string) (string, bool, error)
	Put(name, value string) error
	Delete(name string) (bool, error)
	// All returns the refs whose name starts with prefix.
	All(prefix string) (map[string]string, error)
}

// RefDatabase is the ref store view.
type RefDatabase struct {
	*Guard
	b RefBackend
}

func NewRefDatabase(b RefBackend, readOnly bool) *RefDatabase {
	return &RefDatabase{Guard: NewGuard("ref database", b, readOnly), b: b}
}

func validRefName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return fmt.Errorf("%w: malformed ref name %q", ErrInvalidArgument, name)
	}
	return nil
}

// IsSymRef reports whether a stored ref value is a symbolic ref.
func IsSymRef(value string) bool {
	return strings.HasPrefix(value, SymRefPrefix)
}

func (r *RefDatabase) raw(name string) (string, error) {
	if err := r.CheckOpen(); err != nil {
		return "", err
	}
	v, ok, err := r.b.Get(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRefNotFound, name)
	}
	return v, nil
}

// GetRef returns the object id a direct ref points to.
func (r *RefDatabase) GetRef(name string) (string, error) {
	v, err := r.raw(name)
	if err != nil {
		return "", err
	}
	if IsSymRef(v) {
		return "", fmt.Errorf("%w: %s is a symbolic ref", ErrInvalidArgument, name)
	}
	return v, nil
}

// GetSymRef returns the target of a symbolic ref.
func (r *RefDatabase) GetSymRef(name string) (string, error) {
	v, err := r.raw(name)
	if err != nil {
		return "", err
	}
	if !IsSymRef(v) {
		return "", fmt.Errorf("%w: %s is not a symbolic ref", ErrInvalidArgument, name)
	}
	return strings.TrimPrefix(v, SymRefPrefix), nil
}

// PutRef points name at an object id given in hex.
func (r *RefDatabase) PutRef(name, value string) error {
	if err := r.CheckWritable(); err != nil {
		return err
	}
	if err := validRefName(name); err != nil {
		return err
	}
	if _, err := model.IDFromHex(value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return r.b.Put(name, value)
}

func (r *RefDatabase) PutSymRef(name, target string) error {
	if err := r.CheckWritable(); err != nil {
		return err
	}
	if err := validRefName(name); err != nil {
		return err
	}
	if err := validRefName(target); err != nil {
		return err
	}
	return r.b.Put(name, SymRefPrefix+target)
}

// Remove deletes a ref and reports whether it existed.
func (r *RefDatabase) Remove(name string) (bool, error) {
	if err := r.CheckWritable(); err != nil {
		return false, err
	}
	return r.b.Delete(name)
}

// GetAll returns the raw values of the refs under prefix.
func (r *RefDatabase) GetAll(prefix string) (map[string]string, error) {
	if err := r.CheckOpen(); err != nil {
		return nil, err
	}
	return r.b.All(prefix)
}

// RemoveAll deletes the refs under prefix and returns what was removed.
func (r *RefDatabase) RemoveAll(prefix string) (map[string]string, error) {
	if err := r.CheckWritable(); err != nil {
		return nil, err
	}
	all, err := r.b.All(prefix)
	if err != nil {
		return nil, err
	}
	for name := range all {
		if _, err := r.b.Delete(name); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// put writes a raw value, symbolic or not.
func (r *RefDatabase) put(name, value string) error {
	if IsSymRef(value) {
		return r.PutSymRef(name, strings.TrimPrefix(value, SymRefPrefix))
	}
	return r.PutRef(name, value)
}
