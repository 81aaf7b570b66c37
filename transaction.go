package geostore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
)

var ErrTransactionClosed = errors.New("transaction already committed or aborted")

// Transaction isolates ref updates and conflicts until Commit. Refs is the
// ref store the transaction works on; its conflicts live in the namespace
// returned by ConflictsNamespace.
type Transaction struct {
	repo *Repository
	Refs *storage.TransactionRefs

	mu     sync.Mutex
	closed bool
}

// BeginTransaction snapshots the current refs into a new transaction.
func (r *Repository) BeginTransaction() (*Transaction, error) {
	refs := storage.NewTransactionRefs(r.Refs, uuid.NewString())
	if err := refs.Create(); err != nil {
		if cerr := refs.Close(); cerr != nil {
			r.log.WithError(cerr).Error("removing failed transaction")
		}
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	r.log.WithField("transaction", refs.ID()).Debug("transaction started")
	return &Transaction{repo: r, Refs: refs}, nil
}

func (t *Transaction) ID() string { return t.Refs.ID() }

func (t *Transaction) ConflictsNamespace() string {
	return storage.TransactionNamespace(t.ID())
}

func (t *Transaction) finish(fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	if err := fn(); err != nil {
		return err
	}
	t.closed = true
	return nil
}

// Commit writes the changed refs to the repository, moves the transaction's
// conflicts to the default namespace and removes the transaction state.
func (t *Transaction) Commit() error {
	return t.finish(func() error {
		conflicts := t.repo.Conflicts
		ns := t.ConflictsNamespace()
		var moved []storage.Conflict
		for c, err := range conflicts.ListByPrefix(ns, "") {
			if err != nil {
				return err
			}
			moved = append(moved, c)
		}
		updates, removed, err := t.Refs.ChangedRefs()
		if err != nil {
			return err
		}
		if err := t.Refs.Apply(); err != nil {
			return err
		}
		if err := conflicts.AddConflicts(storage.DefaultNamespace, moved); err != nil {
			return err
		}
		if err := conflicts.Clear(ns); err != nil {
			return err
		}
		t.repo.log.WithFields(logrus.Fields{
			"transaction": t.ID(),
			"updated":     len(updates),
			"removed":     len(removed),
			"conflicts":   len(moved),
		}).Debug("transaction committed")
		return t.Refs.Close()
	})
}

// Abort discards the transaction's refs and conflicts.
func (t *Transaction) Abort() error {
	return t.finish(func() error {
		if err := t.repo.Conflicts.Clear(t.ConflictsNamespace()); err != nil {
			return err
		}
		t.repo.log.WithField("transaction", t.ID()).Debug("transaction aborted")
		return t.Refs.Close()
	})
}
