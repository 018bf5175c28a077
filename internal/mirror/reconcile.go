package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/cache"
)

// Reconcile makes one pass over the bucket listing. In delete mode it removes
// objects whose local file no longer exists. With a cache and rebuild enabled
// it carries over every entry whose etag still matches the listing into a fresh
// cache, which then replaces the old one. A dry run changes nothing.
func (e *Engine) Reconcile(ctx context.Context) error {
	rebuild := e.cache != nil && e.opts.RebuildCache

	var builder cache.Builder
	if rebuild && !e.opts.DryRun {
		var err error
		if builder, err = e.cache.Begin(); err != nil {
			return fmt.Errorf("begin cache rebuild: %w", err)
		}
	}
	discard := func() {
		if builder != nil {
			builder.Discard()
		}
	}

	lister := blob.NewLister(e.backend)
	for obj, err := range lister.All(ctx) {
		if err != nil {
			discard()
			return fmt.Errorf("list bucket: %w", err)
		}

		if e.opts.Delete && e.sweep(ctx, obj) {
			continue
		}
		if rebuild {
			if err := e.carry(builder, obj); err != nil {
				discard()
				return err
			}
		}
	}
	e.stats.Listed = lister.Objects()

	if builder != nil {
		if err := e.cache.Replace(builder); err != nil {
			return fmt.Errorf("replace cache: %w", err)
		}
	}

	slog.Info("reconciled", "objects", lister.Objects(), "pages", lister.Pages(),
		"cache_kept", e.stats.CacheKept, "cache_stale", e.stats.CacheStale)
	return nil
}

// sweep deletes obj when its local counterpart is gone and reports whether a
// deletion was attempted.
func (e *Engine) sweep(ctx context.Context, obj *blob.ObjectInfo) bool {
	local, err := e.addr.LocalPath(obj.Key)
	if err != nil {
		slog.Warn("not deleting", "key", obj.Key, "error", err)
		return false
	}

	_, err = e.fs.Stat(local)
	if err == nil {
		return false
	}
	if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("not deleting, cannot stat local path", "key", obj.Key, "path", local, "error", err)
		return false
	}

	if err := e.remove(ctx, obj.Key, local); err != nil {
		e.fail(local, obj.Key, err)
	}
	return true
}

// carry copies the cached entry for obj into b if it still matches the store.
// b is nil during a dry run, which only reports mismatches.
func (e *Engine) carry(b cache.Builder, obj *blob.ObjectInfo) error {
	old, ok, err := e.cache.Get(obj.Key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if old.ETag != obj.ETag {
		e.stats.CacheStale++
		slog.Warn("cache does not match remote", "key", obj.Key, "cached_etag", old.ETag, "remote_etag", obj.ETag)
		return nil
	}

	e.stats.CacheKept++
	if b == nil {
		return nil
	}
	return b.Set(old)
}
