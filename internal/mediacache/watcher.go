package mediacache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff bounds.
const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Watch reports photo files removed from the cache directory out of band
// (operator cleanup, disk tools) until ctx is canceled. onRemoved receives
// the file name. Partial downloads and the index are ignored.
func (s *Store) Watch(ctx context.Context, onRemoved func(fileName string)) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mediacache: creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.opts.Dir); err != nil {
		return fmt.Errorf("mediacache: watching %s: %w", s.opts.Dir, err)
	}

	s.logger.Debug("watching cache directory", slog.String("dir", s.opts.Dir))

	return s.watchLoop(ctx, w.Events, w.Errors, onRemoved)
}

func (s *Store) watchLoop(
	ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, onRemoved func(string),
) error {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			s.handleEvent(ev, onRemoved)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-errs:
			if !ok {
				return nil
			}

			s.logger.Warn("cache watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			timer := time.NewTimer(errBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

func (s *Store) handleEvent(ev fsnotify.Event, onRemoved func(string)) {
	if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Base(ev.Name)
	if !IsPhotoFile(name) {
		return
	}

	// Replaced in place through a rename.
	if fileExists(ev.Name) {
		return
	}

	s.logger.Info("cached photo removed externally", slog.String("file", name))

	if onRemoved != nil {
		onRemoved(name)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
