package storage

import (
	"errors"
	"fmt"
	"iter"

	"github.com/i5heu/geostore/pkg/encoding"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/model"
	workerpool "github.com/i5heu/geostore/pkg/workerPool"
	"github.com/sirupsen/logrus"
)

// MinLookUpChars is the shortest partial id LookUp accepts.
const MinLookUpChars = 8

const defaultBatchSize = 1000

// ObjectStore is the content addressed store of RevObjects.
type ObjectStore interface {
	Lifecycle

	Exists(id model.ObjectID) (bool, error)
	// Get fails with ErrObjectNotFound when id is not stored.
	Get(id model.ObjectID) (model.RevObject, error)
	GetIfPresent(id model.ObjectID) (model.RevObject, bool, error)
	// GetAll returns the stored objects among ids, firing Found or NotFound
	// per id.
	GetAll(ids []model.ObjectID, listener BulkListener) ([]model.RevObject, error)
	// Put stores o unless an object with the same id is already stored and
	// reports whether this call inserted it.
	Put(o model.RevObject) (bool, error)
	// PutAll fires Inserted or Found once per object.
	PutAll(objects iter.Seq[model.RevObject], listener BulkListener) error
	Delete(id model.ObjectID) (bool, error)
	// DeleteAll fires Deleted or NotFound once per id.
	DeleteAll(ids iter.Seq[model.ObjectID], listener BulkListener) error
	// LookUp returns the stored ids starting with a hex prefix of at least
	// MinLookUpChars characters.
	LookUp(partialID string) ([]model.ObjectID, error)
}

// BlobBackend stores encoded objects keyed by id. PutIfAbsent must be atomic
// per id: of many concurrent calls for one id exactly one reports true.
type BlobBackend interface {
	Resource
	Has(id model.ObjectID) (bool, error)
	// Get fails with ErrObjectNotFound when id is not stored.
	Get(id model.ObjectID) ([]byte, error)
	PutIfAbsent(id model.ObjectID, data []byte) (bool, error)
	Delete(id model.ObjectID) (bool, error)
	// ScanPrefix calls fn for every stored id whose raw bytes start with
	// prefix until fn returns false.
	ScanPrefix(prefix []byte, fn func(model.ObjectID) bool) error
}

type ObjectsConfig struct {
	Name     string
	ReadOnly bool
	// Codec defaults to uncompressed blobs.
	Codec encoding.Codec
	// Pool runs the parallel encoding of bulk puts; workerpool.Shared() when nil.
	Pool      *workerpool.WorkerPool
	BatchSize int
	Logger    *logrus.Logger
}

// Objects is an ObjectStore view over a BlobBackend.
type Objects struct {
	*Guard
	blobs  BlobBackend
	config ObjectsConfig
	log    *logrus.Logger
}

func NewObjects(blobs BlobBackend, config ObjectsConfig) *Objects {
	if config.Name == "" {
		config.Name = "object store"
	}
	if config.Pool == nil {
		config.Pool = workerpool.Shared()
	}
	if config.BatchSize < 1 {
		config.BatchSize = defaultBatchSize
	}
	return &Objects{
		Guard:  NewGuard(config.Name, blobs, config.ReadOnly),
		blobs:  blobs,
		config: config,
		log:    logging.OrDefault(config.Logger),
	}
}

func (o *Objects) Exists(id model.ObjectID) (bool, error) {
	if err := o.CheckOpen(); err != nil {
		return false, err
	}
	return o.blobs.Has(id)
}

func (o *Objects) Get(id model.ObjectID) (model.RevObject, error) {
	obj, ok, err := o.GetIfPresent(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return obj, nil
}

func (o *Objects) GetIfPresent(id model.ObjectID) (model.RevObject, bool, error) {
	if err := o.CheckOpen(); err != nil {
		return nil, false, err
	}
	obj, _, err := o.load(id)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

func (o *Objects) load(id model.ObjectID) (model.RevObject, int, error) {
	data, err := o.blobs.Get(id)
	if err != nil {
		return nil, 0, err
	}
	obj, err := o.config.Codec.Decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("object %s: %w", id, err)
	}
	if obj.ID() != id {
		return nil, 0, fmt.Errorf("%w: object stored as %s hashes to %s", ErrDecoding, id, obj.ID())
	}
	return obj, len(data), nil
}

func (o *Objects) GetAll(ids []model.ObjectID, listener BulkListener) ([]model.RevObject, error) {
	if err := o.CheckOpen(); err != nil {
		return nil, err
	}
	listener = listenerOrNoop(listener)

	out := make([]model.RevObject, 0, len(ids))
	for _, id := range ids {
		obj, size, err := o.load(id)
		switch {
		case errors.Is(err, ErrObjectNotFound):
			listener.NotFound(id)
		case err != nil:
			return out, err
		default:
			listener.Found(id, size)
			out = append(out, obj)
		}
	}
	return out, nil
}

func (o *Objects) Put(obj model.RevObject) (bool, error) {
	if err := o.CheckWritable(); err != nil {
		return false, err
	}
	id, data, err := o.config.Codec.Encode(obj)
	if err != nil {
		return false, err
	}
	return o.blobs.PutIfAbsent(id, data)
}

type putResult struct {
	id       model.ObjectID
	size     int
	inserted bool
	err      error
}

func (o *Objects) PutAll(objects iter.Seq[model.RevObject], listener BulkListener) error {
	if err := o.CheckWritable(); err != nil {
		return err
	}
	listener = listenerOrNoop(listener)

	var inserted, found int
	batch := make([]model.RevObject, 0, o.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		room := workerpool.NewRoom[putResult](o.config.Pool, len(batch))
		for _, obj := range batch {
			room.Submit(func() putResult {
				id, data, err := o.config.Codec.Encode(obj)
				if err != nil {
					return putResult{id: obj.ID(), err: err}
				}
				ok, err := o.blobs.PutIfAbsent(id, data)
				return putResult{id: id, size: len(data), inserted: ok, err: err}
			})
		}
		batch = batch[:0]

		var firstErr error
		for _, r := range room.Collect() {
			switch {
			case r.err != nil:
				if firstErr == nil {
					firstErr = fmt.Errorf("storing %s: %w", r.id, r.err)
				}
			case r.inserted:
				inserted++
				listener.Inserted(r.id, r.size)
			default:
				found++
				listener.Found(r.id, r.size)
			}
		}
		return firstErr
	}

	for obj := range objects {
		batch = append(batch, obj)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	o.log.WithFields(logrus.Fields{
		"store":    o.config.Name,
		"inserted": inserted,
		"found":    found,
	}).Debug("bulk put")
	return nil
}

func (o *Objects) Delete(id model.ObjectID) (bool, error) {
	if err := o.CheckWritable(); err != nil {
		return false, err
	}
	return o.blobs.Delete(id)
}

func (o *Objects) DeleteAll(ids iter.Seq[model.ObjectID], listener BulkListener) error {
	if err := o.CheckWritable(); err != nil {
		return err
	}
	listener = listenerOrNoop(listener)

	var deleted int
	for id := range ids {
		ok, err := o.blobs.Delete(id)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		if ok {
			deleted++
			listener.Deleted(id)
		} else {
			listener.NotFound(id)
		}
	}
	o.log.WithFields(logrus.Fields{"store": o.config.Name, "deleted": deleted}).Debug("bulk delete")
	return nil
}

func (o *Objects) LookUp(partialID string) ([]model.ObjectID, error) {
	if err := o.CheckOpen(); err != nil {
		return nil, err
	}
	prefix, err := ValidatePartialID(partialID)
	if err != nil {
		return nil, err
	}

	var matches []model.ObjectID
	err = o.blobs.ScanPrefix(prefix, func(id model.ObjectID) bool {
		if id.HasPrefix(partialID) {
			matches = append(matches, id)
		}
		return true
	})
	return matches, err
}

// ValidatePartialID checks a partial hex id and returns the raw bytes of its
// even length part.
func ValidatePartialID(partialID string) ([]byte, error) {
	if len(partialID) < MinLookUpChars {
		return nil, fmt.Errorf("%w: partial id %q must be at least %d characters", ErrInvalidArgument, partialID, MinLookUpChars)
	}
	if len(partialID) > model.NumChars {
		return nil, fmt.Errorf("%w: partial id %q is longer than an object id", ErrInvalidArgument, partialID)
	}
	raw, err := model.PartialRaw(partialID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return raw, nil
}

// GetAs reads an object and checks its type.
func GetAs[T model.RevObject](store ObjectStore, id model.ObjectID) (T, error) {
	var zero T
	obj, err := store.Get(id)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: object %s is a %s, not a %T", ErrInvalidArgument, id, obj.Type(), zero)
	}
	return typed, nil
}

func GetCommit(store ObjectStore, id model.ObjectID) (*model.Commit, error) {
	return GetAs[*model.Commit](store, id)
}

func GetTree(store ObjectStore, id model.ObjectID) (*model.Tree, error) {
	if id == model.EmptyTree.ID() {
		return model.EmptyTree, nil
	}
	return GetAs[*model.Tree](store, id)
}

func GetFeature(store ObjectStore, id model.ObjectID) (*model.Feature, error) {
	return GetAs[*model.Feature](store, id)
}

func GetFeatureType(store ObjectStore, id model.ObjectID) (*model.FeatureType, error) {
	return GetAs[*model.FeatureType](store, id)
}

func GetTag(store ObjectStore, id model.ObjectID) (*model.Tag, error) {
	return GetAs[*model.Tag](store, id)
}
