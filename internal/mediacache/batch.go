package mediacache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/photoframe-go/internal/picker"
)

// BatchResult aggregates a DownloadBatch run. Photos keeps input order.
type BatchResult struct {
	Photos  []CachedPhoto
	Skipped int // items without a download URL
	Failed  int // items whose download failed
}

// DownloadBatch caches every item with bounded parallelism. Per-item
// failures are counted and logged and never abort the batch; only context
// cancellation returns an error. progress, if non-nil, is called after each
// item with the number finished so far.
func (s *Store) DownloadBatch(
	ctx context.Context, items []picker.MediaItem, progress func(done, total int),
) (BatchResult, error) {
	results := make([]*CachedPhoto, len(items))

	var (
		skipped atomic.Int32
		failed  atomic.Int32
		done    atomic.Int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)

	for i := range items {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			photo, err := s.DownloadAndCache(gctx, &items[i])

			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				failed.Add(1)
				s.logger.Warn("download failed, skipping item",
					slog.String("item_id", items[i].ID),
					slog.String("error", err.Error()),
				)
			case photo == nil:
				skipped.Add(1)
			default:
				results[i] = photo
			}

			if progress != nil {
				progress(int(done.Add(1)), len(items))
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return BatchResult{}, fmt.Errorf("mediacache: download batch canceled: %w", err)
	}

	res := BatchResult{
		Photos:  make([]CachedPhoto, 0, len(items)),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}

	for _, p := range results {
		if p != nil {
			res.Photos = append(res.Photos, *p)
		}
	}

	s.logger.Info("download batch complete",
		slog.Int("cached", len(res.Photos)),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)

	return res, nil
}

// Missing returns the items with no usable cache file yet. A zero-byte
// file counts as missing, matching DownloadAndCache.
func (s *Store) Missing(items []picker.MediaItem) []picker.MediaItem {
	var out []picker.MediaItem

	for i := range items {
		if !s.Has(&items[i]) {
			out = append(out, items[i])
		}
	}

	return out
}

// Has reports whether item has a non-empty regular cache file.
func (s *Store) Has(item *picker.MediaItem) bool {
	return cachedFileOK(s.entryFor(item).LocalPath)
}
