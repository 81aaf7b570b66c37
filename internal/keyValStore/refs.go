package keyValStore

import "github.com/i5heu/geostore/pkg/storage"

// Refs keeps raw ref values under 'r' + name.
type Refs struct {
	*KeyValStore
}

var _ storage.RefBackend = (*Refs)(nil)

func (r *Refs) Get(name string) (string, bool, error) {
	v, ok, err := r.get(makeKey(prefixRef, []byte(name)))
	return string(v), ok, err
}

func (r *Refs) Put(name, value string) error {
	return r.set(makeKey(prefixRef, []byte(name)), []byte(value))
}

func (r *Refs) Delete(name string) (bool, error) {
	return r.remove(makeKey(prefixRef, []byte(name)))
}

func (r *Refs) All(prefix string) (map[string]string, error) {
	return r.all(prefixRef, prefix)
}

func (k *KeyValStore) all(space byte, prefix string) (map[string]string, error) {
	out := map[string]string{}
	err := k.scan(makeKey(space, []byte(prefix)), true, func(key, v []byte) (bool, error) {
		out[string(key[1:])] = string(v)
		return true, nil
	})
	return out, err
}

// Config keeps "section.key" settings under 's' + key.
type Config struct {
	*KeyValStore
}

var _ storage.ConfigBackend = (*Config)(nil)

func (c *Config) Get(key string) (string, bool, error) {
	v, ok, err := c.get(makeKey(prefixSetting, []byte(key)))
	return string(v), ok, err
}

func (c *Config) Put(key, value string) error {
	return c.set(makeKey(prefixSetting, []byte(key)), []byte(value))
}

func (c *Config) Delete(key string) (bool, error) {
	return c.remove(makeKey(prefixSetting, []byte(key)))
}

func (c *Config) All() (map[string]string, error) {
	return c.all(prefixSetting, "")
}
