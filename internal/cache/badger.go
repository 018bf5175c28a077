package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"
	"github.com/openmined/bucketsync/internal/blob"
)

type badgerCache struct {
	path string
	kv   *badger.DB
}

func openBadger(path string) (*badgerCache, error) {
	kv, err := openBadgerDB(path)
	if err != nil {
		return nil, err
	}
	return &badgerCache{path: path, kv: kv}, nil
}

func openBadgerDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	kv, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return kv, nil
}

func (c *badgerCache) Get(key string) (*blob.ObjectMeta, bool, error) {
	var raw []byte
	err := c.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	var meta blob.ObjectMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false, fmt.Errorf("cache decode %q: %w", key, err)
	}
	return &meta, true, nil
}

func (c *badgerCache) Set(meta *blob.ObjectMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", meta.Key, err)
	}
	err = c.kv.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(meta.Key), raw)
	})
	if err != nil {
		return fmt.Errorf("cache set %q: %w", meta.Key, err)
	}
	return nil
}

func (c *badgerCache) Delete(key string) error {
	err := c.kv.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

func (c *badgerCache) Begin() (Builder, error) {
	tmp := tmpPath(c.path)
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("remove stale rebuild: %w", err)
	}
	kv, err := openBadgerDB(tmp)
	if err != nil {
		return nil, err
	}
	return &badgerBuilder{owner: c, path: tmp, kv: kv, batch: kv.NewWriteBatch()}, nil
}

func (c *badgerCache) Replace(b Builder) error {
	builder, ok := b.(*badgerBuilder)
	if !ok || builder.owner != c {
		return ErrForeignBuilder
	}

	if err := builder.commit(); err != nil {
		builder.Discard()
		return err
	}
	if err := c.kv.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}

	old := c.path + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("remove %s: %w", old, err)
	}
	if err := os.Rename(c.path, old); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	if err := os.Rename(builder.path, c.path); err != nil {
		// put the previous generation back so the cache stays usable
		os.Rename(old, c.path)
		return fmt.Errorf("replace cache: %w", err)
	}
	os.RemoveAll(old)

	kv, err := openBadgerDB(c.path)
	if err != nil {
		return err
	}
	c.kv = kv
	return nil
}

func (c *badgerCache) Close() error {
	return c.kv.Close()
}

// ===================================================================================================

type badgerBuilder struct {
	owner *badgerCache
	path  string
	kv    *badger.DB
	batch *badger.WriteBatch
}

func (b *badgerBuilder) Set(meta *blob.ObjectMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", meta.Key, err)
	}
	if err := b.batch.Set([]byte(meta.Key), raw); err != nil {
		return fmt.Errorf("cache rebuild set %q: %w", meta.Key, err)
	}
	return nil
}

func (b *badgerBuilder) commit() error {
	if err := b.batch.Flush(); err != nil {
		return fmt.Errorf("flush cache rebuild: %w", err)
	}
	if err := b.kv.Close(); err != nil {
		return fmt.Errorf("close cache rebuild: %w", err)
	}
	return nil
}

func (b *badgerBuilder) Discard() error {
	b.batch.Cancel()
	b.kv.Close()
	return os.RemoveAll(b.path)
}
