// Package mediacache lists picked media and keeps a durable on-disk cache
// of the images, resumable across restarts.
package mediacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/picker"
)

// IndexFileName is the cache index inside the cache directory.
const IndexFileName = "photos.json"

const (
	partialSuffix = ".partial"
	tmpSuffix     = ".tmp"
	cacheDirPerms = 0o700
	cacheFilePerm = 0o600
)

// CachedPhoto is a downloaded image and its display metadata. LocalPath is
// derived from the cache directory on load and is not persisted.
type CachedPhoto struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	CreateTime time.Time `json:"create_time"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`

	LocalPath string `json:"-"`
}

// API is the subset of the picker client the cache needs.
type API interface {
	ListMediaItems(ctx context.Context, sessionID string) ([]picker.MediaItem, error)
	Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
}

// Options configures a Store.
type Options struct {
	Dir string

	// ShowWidth and ShowHeight, when both positive, ask the API to scale
	// images down before download.
	ShowWidth  int
	ShowHeight int

	// Parallel bounds concurrent downloads in DownloadBatch.
	Parallel int
}

// Store owns the cache directory and its index.
type Store struct {
	api    API
	opts   Options
	logger *slog.Logger
}

// NewStore creates a Store. The directory is created lazily.
func NewStore(api API, opts Options, logger *slog.Logger) *Store {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}

	return &Store{api: api, opts: opts, logger: logger}
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.opts.Dir
}

// EnsureDir creates the cache directory if needed.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.opts.Dir, cacheDirPerms); err != nil {
		return fmt.Errorf("mediacache: creating cache dir: %w", err)
	}

	return nil
}

// ListSelected returns the images picked in the session, in server order.
// Videos and other non-image items are dropped.
func (s *Store) ListSelected(ctx context.Context, sessionID string) ([]picker.MediaItem, error) {
	items, err := s.api.ListMediaItems(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("mediacache: listing selected media: %w", err)
	}

	images := make([]picker.MediaItem, 0, len(items))
	for i := range items {
		if items[i].IsImage() {
			images = append(images, items[i])
		}
	}

	if skipped := len(items) - len(images); skipped > 0 {
		s.logger.Info("skipping non-image items",
			slog.Int("skipped", skipped),
			slog.Int("images", len(images)),
		)
	}

	return images, nil
}

// RangeDownloader is implemented by APIs that can resume a download at a
// byte offset. Checked by type assertion so test fakes need not provide it.
type RangeDownloader interface {
	DownloadRange(ctx context.Context, downloadURL string, w io.Writer, offset int64) (int64, error)
}

// DownloadAndCache returns the cache entry for item, downloading it first
// unless a non-empty file is already cached. A .partial left by an
// interrupted attempt is resumed with a range request when the API
// supports it. Returns nil, nil when the item carries no download URL.
func (s *Store) DownloadAndCache(ctx context.Context, item *picker.MediaItem) (*CachedPhoto, error) {
	photo := s.entryFor(item)

	if cachedFileOK(photo.LocalPath) {
		return photo, nil
	}

	url := item.DownloadURL(s.opts.ShowWidth, s.opts.ShowHeight)
	if url == "" {
		s.logger.Warn("media item has no download URL, skipping", slog.String("item_id", item.ID))
		return nil, nil
	}

	if err := s.EnsureDir(); err != nil {
		return nil, err
	}

	partialPath := photo.LocalPath + partialSuffix

	n, err := s.downloadWithResume(ctx, item.ID, url, partialPath)
	if err != nil {
		s.removePartialIfNotCanceled(ctx, partialPath)
		return nil, fmt.Errorf("mediacache: downloading %s: %w", item.ID, err)
	}

	// Atomic rename: a crash before this point leaves only the .partial,
	// which the next attempt resumes or overwrites.
	if err := os.Rename(partialPath, photo.LocalPath); err != nil {
		os.Remove(partialPath)
		return nil, fmt.Errorf("mediacache: renaming partial for %s: %w", item.ID, err)
	}

	s.logger.Debug("cached photo",
		slog.String("item_id", item.ID),
		slog.Int64("bytes", n),
	)

	return photo, nil
}

// downloadWithResume appends to an existing non-empty .partial when the API
// supports range requests, falling back to a fresh download on any range
// failure. Returns the total size of the partial.
func (s *Store) downloadWithResume(ctx context.Context, itemID, url, partialPath string) (int64, error) {
	if n, ok := s.tryResumeDownload(ctx, itemID, url, partialPath); ok {
		return n, nil
	}

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	return s.freshDownload(ctx, url, partialPath)
}

func (s *Store) tryResumeDownload(ctx context.Context, itemID, url, partialPath string) (int64, bool) {
	rd, ok := s.api.(RangeDownloader)
	if !ok {
		return 0, false
	}

	info, err := os.Stat(partialPath)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}

	offset := info.Size()

	f, err := os.OpenFile(partialPath, os.O_WRONLY|os.O_APPEND, cacheFilePerm)
	if err != nil {
		return 0, false
	}

	s.logger.Info("resuming download",
		slog.String("item_id", itemID),
		slog.Int64("offset", offset),
	)

	n, dlErr := rd.DownloadRange(ctx, url, f, offset)
	closeErr := f.Close()

	if dlErr == nil && closeErr == nil {
		return offset + n, true
	}

	if dlErr == nil {
		dlErr = closeErr
	}

	s.logger.Warn("range download failed, falling back to fresh download",
		slog.String("item_id", itemID),
		slog.String("error", dlErr.Error()),
	)

	if ctx.Err() == nil {
		os.Remove(partialPath)
	}

	return 0, false
}

func (s *Store) freshDownload(ctx context.Context, url, partialPath string) (int64, error) {
	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, cacheFilePerm)
	if err != nil {
		return 0, fmt.Errorf("creating partial file: %w", err)
	}

	n, dlErr := s.api.Download(ctx, url, f)
	closeErr := f.Close()

	if dlErr != nil {
		return n, dlErr
	}

	if closeErr != nil {
		return n, fmt.Errorf("closing partial file: %w", closeErr)
	}

	if n == 0 {
		return 0, errors.New("empty download")
	}

	return n, nil
}

// removePartialIfNotCanceled keeps the .partial across shutdown so the next
// run can resume it.
func (s *Store) removePartialIfNotCanceled(ctx context.Context, partialPath string) {
	if ctx.Err() != nil {
		return
	}

	os.Remove(partialPath)
}

// cachedFileOK reports whether path holds a usable cached image: a regular,
// non-empty file.
func cachedFileOK(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func (s *Store) entryFor(item *picker.MediaItem) *CachedPhoto {
	name := FileName(item.ID, item.MimeType)

	return &CachedPhoto{
		ID:         item.ID,
		FileName:   name,
		MimeType:   item.MimeType,
		Filename:   item.Filename,
		CreateTime: item.CreateTime,
		Width:      item.Width,
		Height:     item.Height,
		LocalPath:  filepath.Join(s.opts.Dir, name),
	}
}

// PersistMetadata writes the full cache index atomically.
func (s *Store) PersistMetadata(photos []CachedPhoto) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}

	if photos == nil {
		photos = []CachedPhoto{}
	}

	data, err := json.MarshalIndent(photos, "", "  ")
	if err != nil {
		return fmt.Errorf("mediacache: marshaling index: %w", err)
	}

	path := s.indexPath()
	tmpPath := path + tmpSuffix

	if err := os.WriteFile(tmpPath, data, cacheFilePerm); err != nil {
		return fmt.Errorf("mediacache: writing index temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("mediacache: renaming index temp file: %w", err)
	}

	s.logger.Info("persisted cache index", slog.Int("photos", len(photos)))

	return nil
}

// LoadCached rebuilds the photo list from the index, keeping only entries
// whose file still exists. ok is false when nothing usable remains: no
// index, an unreadable or empty one, or no backing files.
func (s *Store) LoadCached() ([]CachedPhoto, bool) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading cache index failed", slog.String("error", err.Error()))
		}

		return nil, false
	}

	var entries []CachedPhoto
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("cache index is corrupt, ignoring", slog.String("error", err.Error()))
		return nil, false
	}

	photos := make([]CachedPhoto, 0, len(entries))

	for i := range entries {
		p := entries[i]
		if p.ID == "" {
			continue
		}

		if p.FileName == "" {
			p.FileName = FileName(p.ID, p.MimeType)
		}

		p.LocalPath = filepath.Join(s.opts.Dir, p.FileName)

		if _, err := os.Stat(p.LocalPath); err != nil {
			s.logger.Debug("cached file missing, dropping entry", slog.String("item_id", p.ID))
			continue
		}

		photos = append(photos, p)
	}

	if dropped := len(entries) - len(photos); dropped > 0 {
		s.logger.Info("dropped cache entries without files",
			slog.Int("dropped", dropped),
			slog.Int("usable", len(photos)),
		)
	}

	if len(photos) == 0 {
		return nil, false
	}

	return photos, true
}

// Evict removes every cached file for id. No error if none exist.
func (s *Store) Evict(id string) error {
	matches, err := filepath.Glob(filepath.Join(s.opts.Dir, sanitizeID(id)+".*"))
	if err != nil {
		return fmt.Errorf("mediacache: evicting %s: %w", id, err)
	}

	var errs []error

	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("mediacache: evicting %s: %w", id, errors.Join(errs...))
	}

	s.logger.Info("evicted cached photo", slog.String("item_id", id))

	return nil
}

// Prune deletes cache files not referenced by keep, including leftover
// partial downloads. Returns the number of files removed.
func (s *Store) Prune(keep []CachedPhoto) (int, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("mediacache: reading cache dir: %w", err)
	}

	wanted := make(map[string]struct{}, len(keep))
	for i := range keep {
		wanted[keep[i].FileName] = struct{}{}
	}

	removed := 0

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == IndexFileName {
			continue
		}

		if _, ok := wanted[name]; ok {
			continue
		}

		if err := os.Remove(filepath.Join(s.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("pruning cache file failed",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		removed++
	}

	if removed > 0 {
		s.logger.Info("pruned cache", slog.Int("removed", removed))
	}

	return removed, nil
}

// Usage reports the number of cached photo files and their total size.
func (s *Store) Usage() (int, int64, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}

		return 0, 0, fmt.Errorf("mediacache: reading cache dir: %w", err)
	}

	var (
		files int
		total int64
	)

	for _, e := range entries {
		if e.IsDir() || !IsPhotoFile(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		files++
		total += info.Size()
	}

	return files, total, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.opts.Dir, IndexFileName)
}

// FileName returns the cache file name for an item: the item ID restricted
// to a filesystem-safe alphabet plus an extension for its MIME type.
func FileName(id, mimeType string) string {
	return sanitizeID(id) + extensionFor(mimeType)
}

// IsPhotoFile reports whether name is a finished photo file rather than
// the index or an in-progress download.
func IsPhotoFile(name string) bool {
	return name != IndexFileName &&
		!strings.HasSuffix(name, partialSuffix) &&
		!strings.HasSuffix(name, tmpSuffix) &&
		!strings.HasPrefix(name, ".")
}

func sanitizeID(id string) string {
	var b strings.Builder

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic", "image/heif":
		return ".heic"
	default:
		return ".jpg"
	}
}
