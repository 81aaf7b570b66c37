package registry

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/storage"
)

var (
	ErrUnsupportedLocation = errors.New("no resolver for repository location")
	ErrRepositoryNotFound  = errors.New("repository does not exist")
	ErrRepositoryExists    = errors.New("repository already exists")
)

// Resolver finds the shared stores of repositories under one URI scheme.
// Backends returns the same state for every call on one location, so views
// opened over it observe each other's writes.
type Resolver interface {
	CanHandle(u *url.URL) bool
	// Init creates the repository; it fails with ErrRepositoryExists when
	// there already is one.
	Init(u *url.URL, storage config.StorageConfig) error
	Exists(u *url.URL) (bool, error)
	// Backends fails with ErrRepositoryNotFound for locations never
	// initialized.
	Backends(u *url.URL) (storage.Backends, config.StorageConfig, error)
	Delete(u *url.URL) (bool, error)
}

type Resolvers []Resolver

// Find returns the first resolver able to handle u.
func (rs Resolvers) Find(u *url.URL) (Resolver, error) {
	for _, r := range rs {
		if r.CanHandle(u) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, u)
}

// Parse parses a repository location; plain paths are taken as file
// locations.
func Parse(location string) (*url.URL, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidArgument, err)
	}
	if u.Scheme == "" {
		u = &url.URL{Scheme: "file", Path: u.Path}
	}
	return u, nil
}
