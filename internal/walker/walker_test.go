package walker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/bucketsync/internal/ignore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

func collect(w *Walker, root string) []string {
	var rels []string
	for f := range w.Walk(root) {
		rels = append(rels, f.RelPath)
	}
	return rels
}

func TestWalk_SortedDepthFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/b.txt":       "b",
		"/data/a/z.txt":     "z",
		"/data/a/b/c.txt":   "c",
		"/data/c.txt":       "c",
		"/data/a/a.txt":     "a",
		"/other/ignored.go": "x",
	})

	got := collect(New(fs, nil), "/data")
	assert.Equal(t, []string{"a/a.txt", "a/b/c.txt", "a/z.txt", "b.txt", "c.txt"}, got)
}

func TestWalk_Descriptor(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/data/a.txt": "0123456789"})
	mtime := time.Unix(1000, 0)
	require.NoError(t, fs.Chtimes("/data/a.txt", mtime, mtime))

	var files []*LocalFile
	for f := range New(fs, nil).Walk("/data/") {
		files = append(files, f)
	}
	require.Len(t, files, 1)
	assert.Equal(t, &LocalFile{
		Root:    "/data",
		RelPath: "a.txt",
		Path:    "/data/a.txt",
		Size:    10,
		Mtime:   1000,
	}, files[0])
}

func TestWalk_IgnoreRules(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/data/keep.txt":           "k",
		"/data/debug.log":          "l",
		"/data/build/out.o":        "o",
		"/data/src/main.go":        "m",
		"/data/src/node_modules/x": "x",
	})

	rules, err := ignore.Compile([]string{`\.log$`, "prefix:/data/build", "gitignore:node_modules/"})
	require.NoError(t, err)

	w := New(fs, rules)
	got := collect(w, "/data")
	assert.Equal(t, []string{"keep.txt", "src/main.go"}, got)
	assert.Equal(t, 3, w.Ignored())
}

func TestWalk_MissingRootYieldsNothing(t *testing.T) {
	got := collect(New(afero.NewMemMapFs(), nil), "/nope")
	assert.Empty(t, got)
}

func TestWalk_EarlyStop(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/d/a/1": "1", "/d/a/2": "2", "/d/b": "3"})

	var got []string
	for f := range New(fs, nil).Walk("/d") {
		got = append(got, f.RelPath)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a/1", "a/2"}, got)
}

func TestWalk_OsFsSkipsSymlinksAndUnreadableDirs(t *testing.T) {
	root := t.TempDir()
	fs := afero.NewOsFs()
	writeFiles(t, fs, map[string]string{
		filepath.Join(root, "real.txt"):        "r",
		filepath.Join(root, "dir", "in.txt"):   "i",
		filepath.Join(root, "locked", "x.txt"): "x",
	})
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "linkdir")))

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	got := collect(New(fs, nil), root)
	if os.Geteuid() == 0 {
		// root can read the locked directory anyway
		assert.Equal(t, []string{"dir/in.txt", "locked/x.txt", "real.txt"}, got)
		return
	}
	assert.Equal(t, []string{"dir/in.txt", "real.txt"}, got)
}
