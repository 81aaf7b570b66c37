package registry

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
)

// File resolves file:///abs/dir locations. The directory holds storage.yaml,
// which selects the format of every store; backends are built through the
// registry once per directory and shared afterwards.
type File struct {
	Registry *Registry
	Logger   *logrus.Logger

	mu    sync.Mutex
	repos map[string]fileRepo
}

type fileRepo struct {
	backends storage.Backends
	storage  config.StorageConfig
}

var _ Resolver = (*File)(nil)

func NewFile(r *Registry, log *logrus.Logger) *File {
	return &File{Registry: r, Logger: logging.OrDefault(log), repos: map[string]fileRepo{}}
}

func (f *File) CanHandle(u *url.URL) bool {
	return u.Scheme == "file" && u.Path != ""
}

func dirOf(u *url.URL) (string, error) {
	return filepath.Abs(filepath.FromSlash(u.Path))
}

// Init creates the directory and writes its storage.yaml.
func (f *File) Init(u *url.URL, sc config.StorageConfig) error {
	dir, err := dirOf(u)
	if err != nil {
		return err
	}
	if config.Exists(dir) {
		return fmt.Errorf("%w: %s", ErrRepositoryExists, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := config.Save(dir, sc); err != nil {
		return err
	}
	f.Logger.WithFields(logrus.Fields{
		"dir":     dir,
		"objects": sc.Objects.String(),
		"graph":   sc.Graph.String(),
	}).Info("repository created")
	return nil
}

func (f *File) Exists(u *url.URL) (bool, error) {
	dir, err := dirOf(u)
	if err != nil {
		return false, err
	}
	return config.Exists(dir), nil
}

func (f *File) Backends(u *url.URL) (storage.Backends, config.StorageConfig, error) {
	dir, err := dirOf(u)
	if err != nil {
		return storage.Backends{}, config.StorageConfig{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[dir]; ok {
		return r.backends, r.storage, nil
	}
	if !config.Exists(dir) {
		return storage.Backends{}, config.StorageConfig{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, dir)
	}
	sc, err := config.Load(dir)
	if err != nil {
		return storage.Backends{}, config.StorageConfig{}, err
	}
	b, err := f.Registry.Backends(Env{Dir: dir, Storage: sc, Logger: f.Logger})
	if err != nil {
		return storage.Backends{}, config.StorageConfig{}, err
	}
	f.repos[dir] = fileRepo{backends: b, storage: sc}
	return b, sc, nil
}

// Delete removes the repository directory. Views over it must be closed.
func (f *File) Delete(u *url.URL) (bool, error) {
	dir, err := dirOf(u)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.repos, dir)
	if !config.Exists(dir) {
		return false, nil
	}
	return true, os.RemoveAll(dir)
}
