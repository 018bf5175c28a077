package mirror

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/cache"
	"github.com/openmined/bucketsync/internal/ignore"
	"github.com/openmined/bucketsync/internal/keys"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// events is a shared, ordered log of store and cache operations.
type events []string

func (e *events) add(op, key string) {
	*e = append(*e, op+":"+key)
}

func (e *events) has(prefix string) bool {
	for _, ev := range *e {
		if strings.HasPrefix(ev, prefix) {
			return true
		}
	}
	return false
}

func (e *events) index(ev string) int {
	for i, got := range *e {
		if got == ev {
			return i
		}
	}
	return -1
}

type recordingBackend struct {
	blob.Backend
	log  *events
	acls map[string]string
}

func (r *recordingBackend) Head(ctx context.Context, key string) (*blob.ObjectMeta, error) {
	r.log.add("head", key)
	return r.Backend.Head(ctx, key)
}

func (r *recordingBackend) Put(ctx context.Context, params *blob.PutObjectParams) (*blob.ObjectMeta, error) {
	r.log.add("put", params.Key)
	r.acls[params.Key] = params.ACL
	return r.Backend.Put(ctx, params)
}

func (r *recordingBackend) Delete(ctx context.Context, key string) error {
	r.log.add("delete", key)
	return r.Backend.Delete(ctx, key)
}

type recordingCache struct {
	cache.Cache
	log *events
}

func (r *recordingCache) Set(meta *blob.ObjectMeta) error {
	r.log.add("cache.set", meta.Key)
	return r.Cache.Set(meta)
}

func (r *recordingCache) Delete(key string) error {
	r.log.add("cache.delete", key)
	return r.Cache.Delete(key)
}

func (r *recordingCache) Begin() (cache.Builder, error) {
	r.log.add("cache.begin", "")
	return r.Cache.Begin()
}

func (r *recordingCache) Replace(b cache.Builder) error {
	r.log.add("cache.replace", "")
	return r.Cache.Replace(b)
}

type harness struct {
	t       *testing.T
	fs      afero.Fs
	mem     *blob.MemoryBackend
	backend *recordingBackend
	cache   *recordingCache
	log     *events
}

func newHarness(t *testing.T, withCache bool) *harness {
	t.Helper()
	log := &events{}
	mem := blob.NewMemoryBackend()
	h := &harness{
		t:       t,
		fs:      afero.NewMemMapFs(),
		mem:     mem,
		backend: &recordingBackend{Backend: mem, log: log, acls: map[string]string{}},
		log:     log,
	}
	if withCache {
		c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.BackendSQLite)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		h.cache = &recordingCache{Cache: c, log: log}
	}
	return h
}

func (h *harness) engine(roots []string, relative bool, rules ignore.Matcher, opts Options) *Engine {
	h.t.Helper()
	addr, err := keys.New(roots, relative)
	require.NoError(h.t, err)

	var c cache.Cache
	if h.cache != nil {
		c = h.cache
	}
	return NewEngine(h.backend, c, h.fs, addr, rules, opts)
}

func (h *harness) run(roots []string, opts Options) *Stats {
	h.t.Helper()
	stats, err := h.engine(roots, false, nil, opts).Run(context.Background())
	require.NoError(h.t, err)
	return stats
}

func (h *harness) write(path, content string, mtime int64) {
	h.t.Helper()
	require.NoError(h.t, h.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, afero.WriteFile(h.fs, path, []byte(content), 0o644))
	ts := time.Unix(mtime, 0)
	require.NoError(h.t, h.fs.Chtimes(path, ts, ts))
}

func (h *harness) reset() {
	*h.log = nil
	h.mem.ResetCalls()
}
