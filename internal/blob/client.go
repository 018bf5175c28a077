package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Head when the store holds no object for the key.
	ErrNotFound = errors.New("object not found")

	ErrInvalidKey = errors.New("invalid key")
)

// MetaMtime is the user-metadata attribute carrying the local mtime in
// decimal epoch seconds.
const MetaMtime = "mtime"

// Backend is the narrow object-store surface the sync engine needs.
// Implementations must be safe for sequential use; no concurrent calls are made.
type Backend interface {
	// CreateBucket creates the configured bucket, or updates its ACL if it
	// already exists and is owned by the caller. acl may be empty.
	CreateBucket(ctx context.Context, acl string) error

	// Head returns the object's metadata or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Put uploads an object and returns the stored metadata.
	Put(ctx context.Context, params *PutObjectParams) (*ObjectMeta, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPage returns the objects whose keys sort strictly after marker,
	// in key order. An empty page means the listing is exhausted.
	ListPage(ctx context.Context, marker string) ([]*ObjectInfo, error)
}

// ===================================================================================================

// ObjectMeta is the remote metadata record the sync decision is made on.
type ObjectMeta struct {
	Key   string `json:"key" db:"key"`
	Size  int64  `json:"size" db:"size"`
	Mtime string `json:"mtime" db:"mtime"`
	ETag  string `json:"etag" db:"etag"`
}

// ===================================================================================================

type PutObjectParams struct {
	Key   string
	Size  int64
	Mtime string
	ACL   string
	Body  io.Reader
}

// ===================================================================================================

// ObjectInfo is one entry of a bucket listing.
type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}
