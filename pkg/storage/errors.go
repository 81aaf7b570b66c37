package storage

import (
	"errors"

	"github.com/i5heu/geostore/pkg/model"
)

var (
	ErrNotOpen             = errors.New("store is not open")
	ErrReadOnly            = errors.New("store is read-only")
	ErrObjectNotFound      = errors.New("object not found")
	ErrDecoding            = model.ErrDecoding
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrGraphNodeNotFound   = errors.New("graph node not found")
	ErrParentsChanged      = errors.New("commit parents cannot change once attached")
	ErrMissingSection      = errors.New("config section does not exist")
	ErrInvalidSectionOrKey = errors.New("invalid config section or key")
	ErrRefNotFound         = errors.New("ref not found")
	ErrUnknownFormat       = errors.New("unknown storage format")
)
