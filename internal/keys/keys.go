package keys

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrNoRoots        = errors.New("no roots configured")
	ErrRelativeRoot   = errors.New("root must be an absolute path")
	ErrOverlapping    = errors.New("roots overlap")
	ErrMultipleRoots  = errors.New("relative addressing requires exactly one root")
	ErrOutsideRoot    = errors.New("key resolves outside the root")
	ErrUnknownRootKey = errors.New("key is not under any root")
)

// Addressing maps (root, relative path) pairs to object keys and back.
//
// In relative mode the key is the path relative to the single root. In
// absolute mode the key is the absolute local path without its leading
// separator, which keeps keys from different roots distinct as long as no root
// contains another.
type Addressing struct {
	roots    []string
	relative bool
}

func New(roots []string, relative bool) (*Addressing, error) {
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	if relative && len(roots) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrMultipleRoots, len(roots))
	}

	clean := make([]string, 0, len(roots))
	for _, root := range roots {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("%w: %q", ErrRelativeRoot, root)
		}
		clean = append(clean, filepath.Clean(root))
	}
	slices.Sort(clean)

	for i, a := range clean {
		for _, b := range clean[i+1:] {
			if within(a, b) || within(b, a) {
				return nil, fmt.Errorf("%w: %q and %q", ErrOverlapping, a, b)
			}
		}
	}

	return &Addressing{roots: clean, relative: relative}, nil
}

// Roots returns the cleaned roots in sorted order.
func (a *Addressing) Roots() []string {
	return slices.Clone(a.roots)
}

func (a *Addressing) Relative() bool {
	return a.relative
}

// Key returns the object key for rel under root. rel uses "/" separators.
func (a *Addressing) Key(root, rel string) string {
	if a.relative {
		return rel
	}
	return strings.TrimLeft(filepath.ToSlash(root)+"/"+rel, "/")
}

// LocalPath inverts a key to the local path it would have come from.
func (a *Addressing) LocalPath(key string) (string, error) {
	if a.relative {
		local := filepath.Join(a.roots[0], filepath.FromSlash(key))
		if !within(a.roots[0], local) || local == a.roots[0] {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, key)
		}
		return local, nil
	}
	return filepath.FromSlash("/" + key), nil
}

// split inverts a key to its root and relative path.
func (a *Addressing) split(key string) (root, rel string, err error) {
	local, err := a.LocalPath(key)
	if err != nil {
		return "", "", err
	}
	for _, root := range a.roots {
		if within(root, local) && local != root {
			rel, err := filepath.Rel(root, local)
			if err != nil {
				return "", "", err
			}
			return root, filepath.ToSlash(rel), nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownRootKey, key)
}

// within reports whether p is base or lies beneath it.
func within(base, p string) bool {
	if base == p {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
