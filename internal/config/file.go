package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/i5heu/geostore/pkg/storage"
	"gopkg.in/yaml.v2"
)

// ConfigFileName holds the repository key/value settings.
const ConfigFileName = "config.yaml"

// File keeps "section.key" settings in a YAML document of sections. Every
// write rewrites the whole file.
type File struct {
	path string
	mu   sync.Mutex
}

var _ storage.ConfigBackend = (*File)(nil)

// NewFile stores settings in dir/config.yaml.
func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, ConfigFileName)}
}

func (f *File) Acquire() error {
	info, err := os.Stat(filepath.Dir(f.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(f.path))
	}
	return nil
}

func (f *File) Release() error { return nil }

type sections map[string]map[string]string

func (f *File) read() (sections, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return sections{}, nil
	}
	if err != nil {
		return nil, err
	}
	s := sections{}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ConfigFileName, err)
	}
	return s, nil
}

func (f *File) write(s sections) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}

func (f *File) Get(key string) (string, bool, error) {
	section, name, err := storage.SplitConfigKey(key)
	if err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := s[section][name]
	return v, ok, nil
}

func (f *File) Put(key, value string) error {
	section, name, err := storage.SplitConfigKey(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return err
	}
	if s[section] == nil {
		s[section] = map[string]string{}
	}
	s[section][name] = value
	return f.write(s)
}

func (f *File) Delete(key string) (bool, error) {
	section, name, err := storage.SplitConfigKey(key)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return false, err
	}
	if _, ok := s[section][name]; !ok {
		return false, nil
	}
	delete(s[section], name)
	if len(s[section]) == 0 {
		delete(s, section)
	}
	return true, f.write(s)
}

func (f *File) All() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for section, keys := range s {
		for name, v := range keys {
			out[section+"."+name] = v
		}
	}
	return out, nil
}
