package storage

import (
	"errors"
	"maps"
	"strings"
)

// TransactionRefs overlays the refs of one transaction on a base ref store.
// The refs visible to the transaction live under
// transactions/<id>/changed/, a snapshot of their starting values under
// transactions/<id>/orig/.
type TransactionRefs struct {
	base    *RefDatabase
	id      string
	orig    string
	changed string
}

var transactionRefs = []string{Head, WorkHead, StageHead, OrigHead, MergeHead, CherryPickHead}

var transactionPrefixes = []string{HeadsPrefix, RemotesPrefix, TagsPrefix}

func TransactionNamespace(id string) string {
	return "transactions/" + id + "/"
}

func NewTransactionRefs(base *RefDatabase, id string) *TransactionRefs {
	ns := TransactionNamespace(id)
	return &TransactionRefs{base: base, id: id, orig: ns + "orig/", changed: ns + "changed/"}
}

func (t *TransactionRefs) ID() string { return t.id }

// Create snapshots the head refs and the branches, remotes and tags of the
// base store into the transaction namespace.
func (t *TransactionRefs) Create() error {
	refs := map[string]string{}
	for _, name := range transactionRefs {
		v, err := t.base.raw(name)
		if errors.Is(err, ErrRefNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		refs[name] = v
	}
	for _, prefix := range transactionPrefixes {
		all, err := t.base.GetAll(prefix)
		if err != nil {
			return err
		}
		maps.Copy(refs, all)
	}
	for name, v := range refs {
		if err := t.base.put(t.orig+name, v); err != nil {
			return err
		}
		if err := t.base.put(t.changed+name, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *TransactionRefs) GetRef(name string) (string, error) {
	return t.base.GetRef(t.changed + name)
}

func (t *TransactionRefs) GetSymRef(name string) (string, error) {
	return t.base.GetSymRef(t.changed + name)
}

func (t *TransactionRefs) PutRef(name, value string) error {
	return t.base.PutRef(t.changed+name, value)
}

func (t *TransactionRefs) PutSymRef(name, target string) error {
	return t.base.PutSymRef(t.changed+name, target)
}

func (t *TransactionRefs) Remove(name string) (bool, error) {
	return t.base.Remove(t.changed + name)
}

// GetAll returns the transaction's refs under prefix, named as in the base
// store.
func (t *TransactionRefs) GetAll(prefix string) (map[string]string, error) {
	all, err := t.base.GetAll(t.changed + prefix)
	if err != nil {
		return nil, err
	}
	return trimKeys(all, t.changed), nil
}

// ChangedRefs returns the refs created or modified by the transaction and
// the names of the refs it removed.
func (t *TransactionRefs) ChangedRefs() (map[string]string, []string, error) {
	orig, err := t.base.GetAll(t.orig)
	if err != nil {
		return nil, nil, err
	}
	changed, err := t.base.GetAll(t.changed)
	if err != nil {
		return nil, nil, err
	}
	orig, changed = trimKeys(orig, t.orig), trimKeys(changed, t.changed)

	updates := map[string]string{}
	for name, v := range changed {
		if ov, ok := orig[name]; !ok || ov != v {
			updates[name] = v
		}
	}
	var removed []string
	for name := range orig {
		if _, ok := changed[name]; !ok {
			removed = append(removed, name)
		}
	}
	return updates, removed, nil
}

// Apply writes the transaction's changes to the base store.
func (t *TransactionRefs) Apply() error {
	updates, removed, err := t.ChangedRefs()
	if err != nil {
		return err
	}
	for name, v := range updates {
		if err := t.base.put(name, v); err != nil {
			return err
		}
	}
	for _, name := range removed {
		if _, err := t.base.Remove(name); err != nil {
			return err
		}
	}
	return nil
}

// Close removes the transaction namespace.
func (t *TransactionRefs) Close() error {
	_, err := t.base.RemoveAll(TransactionNamespace(t.id))
	return err
}

func trimKeys(m map[string]string, prefix string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out
}
