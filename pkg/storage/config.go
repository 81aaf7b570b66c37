package storage

import (
	"fmt"
	"strings"
)

// ConfigBackend stores repository settings under "section.key" names.
type ConfigBackend interface {
	Resource
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) (bool, error)
	All() (map[string]string, error)
}

// ConfigDatabase is the repository configuration view. Sections may be
// nested with dots; the key is the part after the last dot.
type ConfigDatabase struct {
	*Guard
	b ConfigBackend
}

func NewConfigDatabase(b ConfigBackend, readOnly bool) *ConfigDatabase {
	return &ConfigDatabase{Guard: NewGuard("config database", b, readOnly), b: b}
}

// SplitConfigKey splits "section.key" and fails with ErrInvalidSectionOrKey
// when either part is missing.
func SplitConfigKey(key string) (string, string, error) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 || strings.ContainsAny(key, " \t\n") || strings.Contains(key, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSectionOrKey, key)
	}
	return key[:i], key[i+1:], nil
}

func (c *ConfigDatabase) Get(key string) (string, bool, error) {
	if err := c.CheckOpen(); err != nil {
		return "", false, err
	}
	if _, _, err := SplitConfigKey(key); err != nil {
		return "", false, err
	}
	return c.b.Get(key)
}

func (c *ConfigDatabase) Put(key, value string) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	if _, _, err := SplitConfigKey(key); err != nil {
		return err
	}
	return c.b.Put(key, value)
}

func (c *ConfigDatabase) Remove(key string) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	if _, _, err := SplitConfigKey(key); err != nil {
		return err
	}
	_, err := c.b.Delete(key)
	return err
}

// RemoveSection deletes every key of a section, including nested sections.
func (c *ConfigDatabase) RemoveSection(section string) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	keys, err := c.GetSection(section)
	if err != nil {
		return err
	}
	sub, err := c.subsectionKeys(section)
	if err != nil {
		return err
	}
	if len(keys) == 0 && len(sub) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingSection, section)
	}
	for k := range keys {
		if _, err := c.b.Delete(section + "." + k); err != nil {
			return err
		}
	}
	for _, k := range sub {
		if _, err := c.b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConfigDatabase) GetAll() (map[string]string, error) {
	if err := c.CheckOpen(); err != nil {
		return nil, err
	}
	return c.b.All()
}

// GetSection returns the keys directly in a section, without the section
// name.
func (c *ConfigDatabase) GetSection(section string) (map[string]string, error) {
	all, err := c.GetAll()
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k, v := range all {
		s, key, err := SplitConfigKey(k)
		if err == nil && s == section {
			out[key] = v
		}
	}
	return out, nil
}

// ListSubsections returns the names of the sections nested in section.
func (c *ConfigDatabase) ListSubsections(section string) ([]string, error) {
	keys, err := c.subsectionKeys(section)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, k := range keys {
		s, _, _ := SplitConfigKey(k)
		name := strings.TrimPrefix(s, section+".")
		name, _, _ = strings.Cut(name, ".")
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out, nil
}

func (c *ConfigDatabase) subsectionKeys(section string) ([]string, error) {
	all, err := c.GetAll()
	if err != nil {
		return nil, err
	}
	var out []string
	for k := range all {
		s, _, err := SplitConfigKey(k)
		if err == nil && strings.HasPrefix(s, section+".") {
			out = append(out, k)
		}
	}
	return out, nil
}
