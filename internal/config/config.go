// Package config reads and writes the per repository storage settings and
// provides a YAML file realization of the repository config store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/i5heu/geostore/pkg/encoding"
	"gopkg.in/yaml.v2"
)

// FileName is the storage settings file inside a repository directory.
const FileName = "storage.yaml"

// Format selects a backend implementation for one store kind.
type Format struct {
	Name    string `yaml:"format"`
	Version string `yaml:"version"`
}

func (f Format) String() string { return f.Name + "/" + f.Version }

type StorageConfig struct {
	Objects   Format `yaml:"objects"`
	Graph     Format `yaml:"graph"`
	Index     Format `yaml:"index"`
	Conflicts Format `yaml:"conflicts"`
	Refs      Format `yaml:"refs"`
	Config    Format `yaml:"config"`

	Compression      string `yaml:"compression"`
	CacheSize        int    `yaml:"cacheSize"`
	MinimumFreeSpace int    `yaml:"minimumFreeSpace"` // in GB
	LogLevel         string `yaml:"logLevel"`
}

func Default() StorageConfig {
	var c StorageConfig
	c.applyDefaults()
	return c
}

func (c *StorageConfig) applyDefaults() {
	for _, f := range []*Format{&c.Objects, &c.Graph, &c.Index, &c.Conflicts, &c.Refs} {
		if f.Name == "" {
			*f = Format{Name: "badger", Version: "1"}
		}
	}
	if c.Config.Name == "" {
		c.Config = Format{Name: "yaml", Version: "1"}
	}
	if c.Compression == "" {
		c.Compression = encoding.DefaultCompression.String()
	}
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks settings that defaults cannot repair.
func (c StorageConfig) Validate() error {
	if _, err := encoding.ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative, got %d", c.CacheSize)
	}
	if c.MinimumFreeSpace < 0 {
		return fmt.Errorf("minimumFreeSpace must not be negative, got %d", c.MinimumFreeSpace)
	}
	return nil
}

// Load reads dir/storage.yaml. Missing fields take their defaults; a missing
// file is reported as fs.ErrNotExist.
func Load(dir string) (StorageConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return StorageConfig{}, err
	}
	var c StorageConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return StorageConfig{}, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

// Exists reports whether dir holds a storage.yaml.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

func Save(dir string, c StorageConfig) error {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, FileName), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		return errors.Join(err, os.Remove(tmp.Name()))
	}
	return nil
}
