// Package rotation serves cached photos to the display in bounded chunks.
package rotation

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/mediacache"
)

// MaxChunk caps a single chunk regardless of what the caller asks for.
const MaxChunk = 50

// Order is the display ordering of the buffer.
type Order string

const (
	OrderNewest Order = "new"
	OrderOldest Order = "old"
	OrderRandom Order = "random"
)

// ParseOrder validates a configured sort order.
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case OrderNewest, OrderOldest, OrderRandom:
		return o, nil
	default:
		return "", fmt.Errorf("rotation: unknown sort order %q (want new, old or random)", s)
	}
}

// Buffer holds the ordered photo list and the read pointer. The pointer is
// always in [0, len) for a non-empty buffer.
type Buffer struct {
	order   Order
	shuffle func([]mediacache.CachedPhoto)

	mu      sync.Mutex
	photos  []mediacache.CachedPhoto
	pointer int
}

// NewBuffer creates an empty buffer using the given order.
func NewBuffer(order Order) *Buffer {
	return &Buffer{
		order: order,
		shuffle: func(p []mediacache.CachedPhoto) {
			rand.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] }) //nolint:gosec // display order
		},
	}
}

// Load replaces the contents and resets the pointer. Random order shuffles
// once here; date orders sort by create time, ties by ID.
func (b *Buffer) Load(photos []mediacache.CachedPhoto) {
	cp := slices.Clone(photos)

	if b.order == OrderRandom {
		b.shuffle(cp)
	} else {
		slices.SortStableFunc(cp, b.compare)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.photos = cp
	b.pointer = 0
}

// Merge adds the photos whose IDs are not in the buffer yet and returns how
// many were added. The pointer keeps its place in the rotation: date orders
// insert each photo at its sorted position, so one sorting before the
// pointer waits for the next wrap. Random order shuffles the new photos and
// appends them, so they show before the next wrap.
func (b *Buffer) Merge(photos []mediacache.CachedPhoto) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.photos))
	for i := range b.photos {
		seen[b.photos[i].ID] = struct{}{}
	}

	var added []mediacache.CachedPhoto

	for _, p := range photos {
		if _, ok := seen[p.ID]; ok {
			continue
		}

		seen[p.ID] = struct{}{}
		added = append(added, p)
	}

	if len(added) == 0 {
		return 0
	}

	if b.order == OrderRandom {
		b.shuffle(added)
		b.photos = append(b.photos, added...)

		return len(added)
	}

	for _, p := range added {
		i, _ := slices.BinarySearchFunc(b.photos, p, b.compare)
		b.photos = slices.Insert(b.photos, i, p)

		if i < b.pointer {
			b.pointer++
		}
	}

	return len(added)
}

// compare orders photos for the date orders: by create time, ties by ID.
func (b *Buffer) compare(x, y mediacache.CachedPhoto) int {
	c := x.CreateTime.Compare(y.CreateTime)
	if b.order != OrderOldest {
		c = -c
	}

	if c != 0 {
		return c
	}

	return compareID(x, y)
}

func compareID(x, y mediacache.CachedPhoto) int {
	switch {
	case x.ID < y.ID:
		return -1
	case x.ID > y.ID:
		return 1
	default:
		return 0
	}
}

// NextChunk returns up to min(desired, MaxChunk, remaining-before-wrap)
// photos from the pointer and advances it, wrapping to the start after the
// last photo. Random order is reshuffled at the wrap. Returns nil for an
// empty buffer or a non-positive desired size.
func (b *Buffer) NextChunk(desired int) []mediacache.CachedPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.photos) == 0 || desired <= 0 {
		return nil
	}

	n := min(desired, MaxChunk, len(b.photos)-b.pointer)
	chunk := slices.Clone(b.photos[b.pointer : b.pointer+n])

	b.pointer += n
	if b.pointer >= len(b.photos) {
		b.pointer = 0

		if b.order == OrderRandom {
			b.shuffle(b.photos)
		}
	}

	return chunk
}

// Remove drops the photo with the given ID, keeping the pointer on the
// same next photo. Reports whether a photo was removed.
func (b *Buffer) Remove(id string) bool {
	return b.RemoveFunc(func(p mediacache.CachedPhoto) bool { return p.ID == id }) > 0
}

// RemoveFunc drops every photo matching fn and returns how many were
// removed.
func (b *Buffer) RemoveFunc(fn func(mediacache.CachedPhoto) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.photos[:0]
	pointer := b.pointer

	for i, p := range b.photos {
		if fn(p) {
			if i < b.pointer {
				pointer--
			}

			continue
		}

		kept = append(kept, p)
	}

	removed := len(b.photos) - len(kept)

	clear(b.photos[len(kept):])
	b.photos = kept

	if pointer >= len(b.photos) {
		pointer = 0
	}

	b.pointer = pointer

	return removed
}

// Len returns the number of photos in the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.photos)
}

// Snapshot returns a copy of the photos in buffer order.
func (b *Buffer) Snapshot() []mediacache.CachedPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.photos)
}

// ChunkSize returns how many photos cover window at one photo per
// interval: ceil(window / interval), at least 1.
func ChunkSize(window, interval time.Duration) int {
	if interval <= 0 || window <= 0 {
		return 1
	}

	n := int((window + interval - 1) / interval)

	return max(n, 1)
}
