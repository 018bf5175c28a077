package blob

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrListingStalled is returned when a store hands back a page that does not
// advance past the previous marker.
var ErrListingStalled = errors.New("listing did not advance")

// Lister enumerates a whole bucket through marker pagination. It starts with an
// empty marker, uses the last key of each non-empty page as the next marker, and
// stops at the first empty page.
type Lister struct {
	backend Backend
	pages   int
	objects int
}

func NewLister(backend Backend) *Lister {
	return &Lister{backend: backend}
}

// All yields every object in key order. On failure it yields a single
// (nil, err) pair and stops.
func (l *Lister) All(ctx context.Context) iter.Seq2[*ObjectInfo, error] {
	return func(yield func(*ObjectInfo, error) bool) {
		marker := ""
		for {
			page, err := l.backend.ListPage(ctx, marker)
			if err != nil {
				yield(nil, fmt.Errorf("list page after %q: %w", marker, err))
				return
			}
			if len(page) == 0 {
				return
			}

			last := page[len(page)-1].Key
			if last <= marker {
				yield(nil, fmt.Errorf("%w: marker %q, last key %q", ErrListingStalled, marker, last))
				return
			}
			l.pages++

			for _, obj := range page {
				l.objects++
				if !yield(obj, nil) {
					return
				}
			}
			marker = last
		}
	}
}

// Pages returns the number of non-empty pages consumed so far.
func (l *Lister) Pages() int {
	return l.pages
}

// Objects returns the number of objects yielded so far.
func (l *Lister) Objects() int {
	return l.objects
}
