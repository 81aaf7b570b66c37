package heap

import (
	"strings"

	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// Refs is a flat map of ref names to raw values. Config reuses it for
// settings.
type Refs struct {
	storage.NopResource
	m *xsync.MapOf[string, string]
}

func NewRefs() *Refs {
	return &Refs{m: xsync.NewMapOf[string, string]()}
}

func (r *Refs) Get(name string) (string, bool, error) {
	v, ok := r.m.Load(name)
	return v, ok, nil
}

func (r *Refs) Put(name, value string) error {
	r.m.Store(name, value)
	return nil
}

func (r *Refs) Delete(name string) (bool, error) {
	_, ok := r.m.LoadAndDelete(name)
	return ok, nil
}

func (r *Refs) All(prefix string) (map[string]string, error) {
	out := map[string]string{}
	r.m.Range(func(k, v string) bool {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
		return true
	})
	return out, nil
}

// Config is the heap settings store.
type Config struct {
	*Refs
}

func NewConfig() *Config {
	return &Config{Refs: NewRefs()}
}

func (c *Config) All() (map[string]string, error) {
	return c.Refs.All("")
}
