package walker

import (
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/openmined/bucketsync/internal/ignore"
	"github.com/spf13/afero"
)

// LocalFile describes one regular file found under a root.
type LocalFile struct {
	Root    string
	RelPath string // "/" separated
	Path    string
	Size    int64
	Mtime   int64 // epoch seconds
}

// Walker enumerates regular files beneath a root in depth-first, name-sorted
// order. Symlinks, special files and ignored paths are skipped.
type Walker struct {
	fs      afero.Fs
	rules   ignore.Matcher
	ignored int
}

// New returns a walker over fs. rules may be nil.
func New(fs afero.Fs, rules ignore.Matcher) *Walker {
	return &Walker{fs: fs, rules: rules}
}

// Ignored returns how many paths were skipped by ignore rules so far.
func (w *Walker) Ignored() int {
	return w.ignored
}

func (w *Walker) Walk(root string) iter.Seq[*LocalFile] {
	return func(yield func(*LocalFile) bool) {
		w.walk(filepath.Clean(root), "", yield)
	}
}

// walk returns false when the consumer stopped iteration.
func (w *Walker) walk(root, rel string, yield func(*LocalFile) bool) bool {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	slog.Debug("scanning", "dir", dir)

	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		slog.Warn("cannot read directory", "dir", dir, "error", err)
		return true
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		childRel := path.Join(rel, name)
		full := filepath.Join(dir, name)
		mode := entry.Mode()

		if mode&os.ModeSymlink != 0 {
			slog.Debug("skip symlink", "path", full)
			continue
		}
		if w.rules != nil && w.rules.Match(full) {
			slog.Debug("skip ignored", "path", full)
			w.ignored++
			continue
		}

		switch {
		case mode.IsDir():
			if !w.walk(root, childRel, yield) {
				return false
			}
		case mode.IsRegular():
			file := &LocalFile{
				Root:    root,
				RelPath: childRel,
				Path:    full,
				Size:    entry.Size(),
				Mtime:   entry.ModTime().Unix(),
			}
			if !yield(file) {
				return false
			}
		}
	}
	return true
}
