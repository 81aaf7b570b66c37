package storage

import (
	"fmt"
	"sync"
)

// Lifecycle is shared by every store view.
type Lifecycle interface {
	Open() error
	Close() error
	IsOpen() bool
	IsReadOnly() bool
}

// Resource is implemented by backends that hold a physical handle. Every
// view opening over a backend acquires it once and releases it on close.
type Resource interface {
	Acquire() error
	Release() error
}

// NopResource is embedded by backends without a physical handle.
type NopResource struct{}

func (NopResource) Acquire() error { return nil }
func (NopResource) Release() error { return nil }

// Guard holds the open and read-only flags of one store view. Open and
// Close are idempotent.
type Guard struct {
	mu       sync.RWMutex
	open     bool
	readOnly bool
	res      Resource
	name     string
}

func NewGuard(name string, res Resource, readOnly bool) *Guard {
	if res == nil {
		res = NopResource{}
	}
	return &Guard{name: name, res: res, readOnly: readOnly}
}

func (g *Guard) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil
	}
	if err := g.res.Acquire(); err != nil {
		return fmt.Errorf("opening %s: %w", g.name, err)
	}
	g.open = true
	return nil
}

func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return nil
	}
	g.open = false
	if err := g.res.Release(); err != nil {
		return fmt.Errorf("closing %s: %w", g.name, err)
	}
	return nil
}

func (g *Guard) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open
}

func (g *Guard) IsReadOnly() bool {
	return g.readOnly
}

// CheckOpen fails with ErrNotOpen while closed.
func (g *Guard) CheckOpen() error {
	if !g.IsOpen() {
		return fmt.Errorf("%s: %w", g.name, ErrNotOpen)
	}
	return nil
}

// CheckWritable fails with ErrNotOpen while closed and ErrReadOnly on a
// read-only view.
func (g *Guard) CheckWritable() error {
	if err := g.CheckOpen(); err != nil {
		return err
	}
	if g.readOnly {
		return fmt.Errorf("%s: %w", g.name, ErrReadOnly)
	}
	return nil
}
