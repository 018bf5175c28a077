package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/db"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache (
	key   TEXT PRIMARY KEY,
	etag  TEXT NOT NULL,
	size  INTEGER NOT NULL,
	mtime TEXT NOT NULL
);`

const sqliteUpsert = `
INSERT INTO cache (key, etag, size, mtime) VALUES (:key, :etag, :size, :mtime)
ON CONFLICT(key) DO UPDATE SET etag = excluded.etag, size = excluded.size, mtime = excluded.mtime`

type sqliteCache struct {
	path string
	conn *sqlx.DB
}

func openSQLite(path string) (*sqliteCache, error) {
	conn, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	return &sqliteCache{path: path, conn: conn}, nil
}

func openSQLiteDB(path string) (*sqlx.DB, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init sqlite cache: %w", err)
	}
	return conn, nil
}

func (c *sqliteCache) Get(key string) (*blob.ObjectMeta, bool, error) {
	var meta blob.ObjectMeta
	err := c.conn.Get(&meta, `SELECT key, etag, size, mtime FROM cache WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return &meta, true, nil
}

func (c *sqliteCache) Set(meta *blob.ObjectMeta) error {
	if _, err := c.conn.NamedExec(sqliteUpsert, meta); err != nil {
		return fmt.Errorf("cache set %q: %w", meta.Key, err)
	}
	return nil
}

func (c *sqliteCache) Delete(key string) error {
	if _, err := c.conn.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

func (c *sqliteCache) Begin() (Builder, error) {
	tmp := tmpPath(c.path)
	if err := removeSQLiteFiles(tmp); err != nil {
		return nil, err
	}

	conn, err := openSQLiteDB(tmp)
	if err != nil {
		return nil, err
	}
	tx, err := conn.Beginx()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin cache rebuild: %w", err)
	}
	return &sqliteBuilder{owner: c, path: tmp, conn: conn, tx: tx}, nil
}

func (c *sqliteCache) Replace(b Builder) error {
	builder, ok := b.(*sqliteBuilder)
	if !ok || builder.owner != c {
		return ErrForeignBuilder
	}

	if err := builder.commit(); err != nil {
		builder.Discard()
		return err
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(builder.path, c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}

	conn, err := openSQLiteDB(c.path)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *sqliteCache) Close() error {
	return c.conn.Close()
}

// ===================================================================================================

type sqliteBuilder struct {
	owner *sqliteCache
	path  string
	conn  *sqlx.DB
	tx    *sqlx.Tx
}

func (b *sqliteBuilder) Set(meta *blob.ObjectMeta) error {
	if _, err := b.tx.NamedExec(sqliteUpsert, meta); err != nil {
		return fmt.Errorf("cache rebuild set %q: %w", meta.Key, err)
	}
	return nil
}

func (b *sqliteBuilder) commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit cache rebuild: %w", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("close cache rebuild: %w", err)
	}
	return nil
}

func (b *sqliteBuilder) Discard() error {
	b.tx.Rollback()
	b.conn.Close()
	return removeSQLiteFiles(b.path)
}

func removeSQLiteFiles(path string) error {
	for _, p := range []string{path, path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
