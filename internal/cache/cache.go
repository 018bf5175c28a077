package cache

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/utils"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

var (
	ErrLocked         = errors.New("cache locked by another process")
	ErrUnknownBackend = errors.New("unknown cache backend")
	ErrForeignBuilder = errors.New("builder does not belong to this cache")
)

// Cache maps object keys to the last remote metadata seen for them.
// An entry is only present while the store is known to hold that object with
// that metadata; callers purge it before overwriting or deleting the object.
type Cache interface {
	Get(key string) (*blob.ObjectMeta, bool, error)
	Set(meta *blob.ObjectMeta) error
	Delete(key string) error

	// Begin starts building a fresh cache beside the current one.
	Begin() (Builder, error)
	// Replace atomically swaps the current contents for the builder's.
	Replace(b Builder) error

	Close() error
}

// Builder accumulates entries for a replacement cache.
type Builder interface {
	Set(meta *blob.ObjectMeta) error
	Discard() error
}

func ValidBackend(name string) bool {
	return name == BackendSQLite || name == BackendBadger
}

// Open opens the cache at path with exclusive ownership. A second Open of the
// same path, from this or another process, fails with ErrLocked until Close.
func Open(path string, backend string) (Cache, error) {
	if !ValidBackend(backend) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("cache path: %w", err)
	}
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	var inner Cache
	switch backend {
	case BackendBadger:
		inner, err = openBadger(path)
	default:
		inner, err = openSQLite(path)
	}
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	return &lockedCache{Cache: inner, lock: lock}, nil
}

type lockedCache struct {
	Cache
	lock *flock.Flock
}

func (c *lockedCache) Close() error {
	err := c.Cache.Close()
	// the lock file stays in place: removing it would let a later Open lock
	// a fresh inode while another holder still has the old one
	if uerr := c.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func tmpPath(path string) string {
	return path + ".tmp"
}
