package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/cache"
	"github.com/openmined/bucketsync/internal/ignore"
	"github.com/openmined/bucketsync/internal/keys"
	"github.com/openmined/bucketsync/internal/walker"
	"github.com/spf13/afero"
)

type Options struct {
	DryRun       bool
	Delete       bool
	RebuildCache bool
	BucketACL    string
	ObjectACL    string
}

type Action int

const (
	ActionSkip Action = iota
	ActionUpload
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// Decision is the outcome of comparing one local file with the store.
type Decision struct {
	Key    string
	Action Action
	// Remote is the metadata the decision was made on; nil when absent.
	Remote *blob.ObjectMeta
}

// Engine mirrors local roots onto a bucket. It is single-threaded and keeps
// the cache coherent by purging an entry before its object is overwritten or
// deleted.
type Engine struct {
	opts    Options
	backend blob.Backend
	cache   cache.Cache
	fs      afero.Fs
	addr    *keys.Addressing
	walker  *walker.Walker
	stats   *Stats
}

// NewEngine wires an engine. A nil cache disables caching; nil rules ignore nothing.
func NewEngine(
	backend blob.Backend,
	c cache.Cache,
	fs afero.Fs,
	addr *keys.Addressing,
	rules ignore.Matcher,
	opts Options,
) *Engine {
	return &Engine{
		opts:    opts,
		backend: backend,
		cache:   c,
		fs:      fs,
		addr:    addr,
		walker:  walker.New(fs, rules),
		stats:   &Stats{},
	}
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

// Run ensures the bucket, reconciles when needed, then walks every root.
// The returned error covers run-level failures only; per-file failures are
// logged and counted in Stats.Failed.
func (e *Engine) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	defer func() { e.stats.Elapsed = time.Since(start) }()

	if err := e.backend.CreateBucket(ctx, e.opts.BucketACL); err != nil {
		return e.stats, fmt.Errorf("create bucket: %w", err)
	}

	if e.opts.Delete || (e.cache != nil && e.opts.RebuildCache) {
		if err := e.Reconcile(ctx); err != nil {
			return e.stats, err
		}
	}

	for _, root := range e.addr.Roots() {
		slog.Info("syncing", "root", root, "dry_run", e.opts.DryRun)
		for file := range e.walker.Walk(root) {
			if err := ctx.Err(); err != nil {
				return e.stats, err
			}
			e.syncFile(ctx, file)
		}
	}
	e.stats.Ignored = e.walker.Ignored()

	return e.stats, nil
}

func (e *Engine) syncFile(ctx context.Context, file *walker.LocalFile) {
	decision, err := e.Decide(ctx, file)
	if err != nil {
		e.fail(file.Path, decision.Key, err)
		return
	}

	if decision.Action == ActionSkip {
		e.stats.Skipped++
		slog.Debug("skip", "key", decision.Key)
		return
	}

	if err := e.upload(ctx, file, decision); err != nil {
		e.fail(file.Path, decision.Key, err)
	}
}

// Decide compares a local file against the cached or live remote metadata.
func (e *Engine) Decide(ctx context.Context, file *walker.LocalFile) (Decision, error) {
	decision := Decision{Key: e.addr.Key(file.Root, file.RelPath)}

	remote, err := e.remoteMeta(ctx, decision.Key)
	if err != nil {
		return decision, err
	}
	decision.Remote = remote

	switch {
	case remote == nil:
		decision.Action = ActionUpload
	case strconv.FormatInt(file.Mtime, 10) != remote.Mtime,
		strconv.FormatInt(file.Size, 10) != strconv.FormatInt(remote.Size, 10):
		decision.Action = ActionUpdate
	default:
		decision.Action = ActionSkip
	}
	return decision, nil
}

// remoteMeta returns nil, nil when the store has no object for key.
func (e *Engine) remoteMeta(ctx context.Context, key string) (*blob.ObjectMeta, error) {
	if e.cache != nil {
		meta, ok, err := e.cache.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return meta, nil
		}
	}

	meta, err := e.backend.Head(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("head %s: %w", key, err)
	}

	if e.cache != nil && !e.opts.DryRun {
		if err := e.cache.Set(meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (e *Engine) fail(path, key string, err error) {
	e.stats.Failed++
	slog.Error("sync failed", "path", path, "key", key, "error", err)
}
