package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/walker"
)

func (e *Engine) upload(ctx context.Context, file *walker.LocalFile, decision Decision) error {
	// the file may have changed since it was walked
	info, err := e.fs.Stat(file.Path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	size := info.Size()
	mtime := strconv.FormatInt(info.ModTime().Unix(), 10)

	if e.opts.DryRun {
		slog.Info(decision.Action.String(), "key", decision.Key, "size", humanize.Bytes(uint64(size)), "dry_run", true)
		e.stats.record(decision.Action, size)
		return nil
	}

	if e.cache != nil {
		if err := e.cache.Delete(decision.Key); err != nil {
			return err
		}
	}

	f, err := e.fs.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	start := time.Now()
	meta, err := e.backend.Put(ctx, &blob.PutObjectParams{
		Key:   decision.Key,
		Size:  size,
		Mtime: mtime,
		ACL:   e.opts.ObjectACL,
		Body:  f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", decision.Key, err)
	}
	elapsed := time.Since(start)

	if e.cache != nil {
		if err := e.cache.Set(meta); err != nil {
			return err
		}
	}

	e.stats.record(decision.Action, size)
	slog.Info(decision.Action.String(),
		"key", decision.Key,
		"size", humanize.Bytes(uint64(size)),
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", rate(size, elapsed),
	)
	return nil
}

func (e *Engine) remove(ctx context.Context, key, local string) error {
	if e.opts.DryRun {
		slog.Info("delete", "key", key, "path", local, "dry_run", true)
		e.stats.Deleted++
		return nil
	}

	if e.cache != nil {
		if err := e.cache.Delete(key); err != nil {
			return err
		}
	}
	if err := e.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	e.stats.Deleted++
	slog.Info("delete", "key", key, "path", local)
	return nil
}
