package blob

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

const defaultPageSize = 1000

// CallStats counts the calls a MemoryBackend has served.
type CallStats struct {
	CreateBucket int
	Head         int
	Put          int
	Delete       int
	ListPage     int
}

type memObject struct {
	data         []byte
	mtime        string
	etag         string
	lastModified time.Time
}

// MemoryBackend is an in-process object store. Errors can be injected per key
// through the Fail* maps to exercise per-file failure handling.
type MemoryBackend struct {
	// PageSize bounds ListPage results; zero means 1000.
	PageSize int

	FailHead   map[string]error
	FailPut    map[string]error
	FailDelete map[string]error
	FailList   error

	mu        sync.Mutex
	objects   map[string]*memObject
	bucketACL string
	calls     CallStats
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects:    make(map[string]*memObject),
		FailHead:   make(map[string]error),
		FailPut:    make(map[string]error),
		FailDelete: make(map[string]error),
	}
}

func (m *MemoryBackend) CreateBucket(_ context.Context, acl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.CreateBucket++
	if acl != "" {
		m.bucketACL = acl
	}
	return nil
}

func (m *MemoryBackend) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Head++
	if err := m.FailHead[key]; err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.meta(key), nil
}

func (m *MemoryBackend) Put(ctx context.Context, params *PutObjectParams) (*ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	m.mu.Lock()
	m.calls.Put++
	failErr := m.FailPut[params.Key]
	m.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != params.Size {
		return nil, fmt.Errorf("content length mismatch: declared %d, read %d", params.Size, len(data))
	}

	obj := &memObject{
		data:         data,
		mtime:        params.Mtime,
		etag:         fmt.Sprintf("%x", md5.Sum(data)),
		lastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[params.Key] = obj
	return obj.meta(params.Key), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Delete++
	if err := m.FailDelete[key]; err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) ListPage(ctx context.Context, marker string) ([]*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.ListPage++
	if m.FailList != nil {
		return nil, m.FailList
	}

	pageSize := m.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	keys := m.sortedKeys()
	start, found := slices.BinarySearch(keys, marker)
	if found {
		start++
	}

	page := make([]*ObjectInfo, 0, pageSize)
	for _, key := range keys[start:] {
		if len(page) == pageSize {
			break
		}
		obj := m.objects[key]
		page = append(page, &ObjectInfo{
			Key:          key,
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	return page, nil
}

// ===================================================================================================

// Seed stores an object directly, bypassing call accounting.
func (m *MemoryBackend) Seed(key string, data []byte, mtime string) *ObjectMeta {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := &memObject{
		data:         data,
		mtime:        mtime,
		etag:         fmt.Sprintf("%x", md5.Sum(data)),
		lastModified: time.Now().UTC(),
	}
	m.objects[key] = obj
	return obj.meta(key)
}

// Object returns the stored bytes and metadata for key.
func (m *MemoryBackend) Object(key string) ([]byte, *ObjectMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, false
	}
	return slices.Clone(obj.data), obj.meta(key), true
}

// Keys returns all stored keys in order.
func (m *MemoryBackend) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedKeys()
}

func (m *MemoryBackend) BucketACL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketACL
}

func (m *MemoryBackend) Calls() CallStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemoryBackend) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = CallStats{}
}

func (m *MemoryBackend) sortedKeys() []string {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (o *memObject) meta(key string) *ObjectMeta {
	return &ObjectMeta{
		Key:   key,
		Size:  int64(len(o.data)),
		Mtime: o.mtime,
		ETag:  o.etag,
	}
}

var _ Backend = (*MemoryBackend)(nil)
