// Package frame wires the picker session, media cache, rotation buffer,
// refresh scheduler and display hub into one long-running service.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/photoframe-go/internal/auth"
	"github.com/tonimelisma/photoframe-go/internal/display"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/refresh"
	"github.com/tonimelisma/photoframe-go/internal/rotation"
	"github.com/tonimelisma/photoframe-go/internal/session"
)

// Service defaults for Options fields left zero.
const (
	DefaultInitRetry      = 3 * time.Minute
	DefaultUpdateInterval = 30 * time.Second
	DefaultRefillWindow   = 20 * time.Minute

	// firstChunk is the batch sent right after photos become available.
	firstChunk = rotation.MaxChunk

	// progressEvery throttles download progress status events.
	progressEvery = 10

	// ledgerRetention bounds how long image load records are kept.
	ledgerRetention = 30 * 24 * time.Hour
)

// Sessions is the session controller surface the service drives.
type Sessions interface {
	refresh.Sessions
	Create(ctx context.Context) (*picker.Session, error)
	Resume(ctx context.Context) (*picker.Session, session.State, error)
	Poll(ctx context.Context, sessionID string, onStatus func(string)) (session.PollOutcome, error)
	Delete(ctx context.Context, sessionID string)
	Consume(ctx context.Context)
}

// Cache is the media cache surface the service drives.
type Cache interface {
	refresh.Lister
	EnsureDir() error
	LoadCached() ([]mediacache.CachedPhoto, bool)
	DownloadBatch(ctx context.Context, items []picker.MediaItem, progress func(done, total int)) (mediacache.BatchResult, error)
	PersistMetadata(photos []mediacache.CachedPhoto) error
	Missing(items []picker.MediaItem) []picker.MediaItem
	Prune(keep []mediacache.CachedPhoto) (int, error)
	Evict(id string) error
	Watch(ctx context.Context, onRemoved func(fileName string)) error
}

// Ledger records display feedback and download batches.
type Ledger interface {
	RecordLoad(ctx context.Context, photoID, loadErr string) error
	ShouldEvict(ctx context.Context, photoID string) (bool, error)
	RecordBatch(ctx context.Context, b ledger.BatchStats) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Hub is the display transport.
type Hub interface {
	Publish(ev display.Event)
	Requests() <-chan display.Request
}

// Options tunes the service. Zero durations select the defaults.
type Options struct {
	Order          rotation.Order
	RetainSession  bool
	UpdateInterval time.Duration
	RefillWindow   time.Duration
	InitRetry      time.Duration
	RefreshEvery   time.Duration
}

// Deps are the collaborators the service owns for its lifetime.
type Deps struct {
	Sessions Sessions
	Cache    Cache
	Tokens   refresh.TokenSource
	Ledger   Ledger
	Hub      Hub

	// Serve, if non-nil, runs the display HTTP server until ctx is done.
	Serve func(ctx context.Context) error
}

// Service is the photo frame backend. All mutable state lives here.
type Service struct {
	opts      Options
	deps      Deps
	buffer    *rotation.Buffer
	scheduler *refresh.Scheduler
	logger    *slog.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	pickerBusy  atomic.Bool
	initialized atomic.Bool
	flows       sync.WaitGroup
}

// NewService creates a Service. Nothing runs until Run.
func NewService(opts Options, deps Deps, logger *slog.Logger) *Service {
	if opts.Order == "" {
		opts.Order = rotation.OrderNewest
	}

	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}

	if opts.RefillWindow <= 0 {
		opts.RefillWindow = DefaultRefillWindow
	}

	if opts.InitRetry <= 0 {
		opts.InitRetry = DefaultInitRetry
	}

	s := &Service{
		opts:      opts,
		deps:      deps,
		buffer:    rotation.NewBuffer(opts.Order),
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}

	s.scheduler = refresh.NewScheduler(refresh.Config{
		Interval:    opts.RefreshEvery,
		Sessions:    deps.Sessions,
		Lister:      deps.Cache,
		Tokens:      deps.Tokens,
		OnRefreshed: s.onRefreshed,
		OnRestart:   s.onRestart,
	}, logger)

	return s
}

// Run starts the display server, the request loop, the refresh scheduler
// and the cache watcher, then initializes. It blocks until ctx is canceled
// or a component fails, and waits for any picker flow to unwind.
func (s *Service) Run(ctx context.Context) error {
	if err := s.deps.Cache.EnsureDir(); err != nil {
		return fmt.Errorf("frame: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.deps.Serve != nil {
		g.Go(func() error { return s.deps.Serve(gctx) })
	}

	g.Go(func() error { return s.requestLoop(gctx) })
	g.Go(func() error { return s.scheduler.Run(gctx) })
	g.Go(func() error {
		if err := s.deps.Cache.Watch(gctx, s.onFileRemoved); err != nil {
			s.logger.Warn("cache watcher unavailable", slog.String("error", err.Error()))
		}

		return nil
	})
	g.Go(func() error { return s.initLoop(gctx) })

	err := g.Wait()
	s.flows.Wait()

	return err
}

// initLoop retries initialization until it succeeds, hits a fatal error
// or ctx is canceled.
func (s *Service) initLoop(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		s.logger.Info("starting initialization", slog.Int("attempt", attempt))

		err := s.initialize(ctx)
		if err == nil {
			s.initialized.Store(true)
			s.logger.Info("initialization complete")

			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		if isFatal(err) {
			s.logger.Error("initialization failed, not retrying", slog.String("error", err.Error()))
			s.deps.Hub.Publish(display.ErrorEvent(err.Error()))

			return nil
		}

		s.logger.Warn("initialization failed, will retry",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", s.opts.InitRetry),
		)

		if err := s.sleepFunc(ctx, s.opts.InitRetry); err != nil {
			return nil
		}
	}
}

// initialize validates the token, shows cached photos when there are any
// and picks up a persisted session. With neither, it starts a picker flow.
func (s *Service) initialize(ctx context.Context) error {
	if err := s.deps.Cache.EnsureDir(); err != nil {
		return err
	}

	if _, err := s.deps.Tokens.AccessToken(ctx); err != nil {
		return fmt.Errorf("frame: validating token: %w", err)
	}

	cached, haveCache := s.deps.Cache.LoadCached()
	if haveCache {
		s.logger.Info("loaded cached photos", slog.Int("count", len(cached)))
		s.showPhotos(cached)
	}

	sess, state, err := s.deps.Sessions.Resume(ctx)
	if err != nil {
		if haveCache {
			s.logger.Warn("resuming picker session failed", slog.String("error", err.Error()))
			return nil
		}

		return fmt.Errorf("frame: resuming session: %w", err)
	}

	switch state {
	case session.StateReady:
		if !haveCache {
			id := sess.ID
			s.launchFlow(ctx, func(ctx context.Context) { s.processSelection(ctx, id) })
		}
	case session.StateCreated, session.StatePolling:
		s.launchFlow(ctx, func(ctx context.Context) { s.pickerFlow(ctx, sess) })
	default:
		if !haveCache {
			s.deps.Hub.Publish(display.Event{Type: display.EventNoPhotosCached})
			s.launchFlow(ctx, func(ctx context.Context) { s.pickerFlow(ctx, nil) })
		}
	}

	return nil
}

// showPhotos replaces the rotation with photos and sends the first chunk.
func (s *Service) showPhotos(photos []mediacache.CachedPhoto) {
	s.buffer.Load(photos)
	s.deps.Hub.Publish(display.Event{
		Type:    display.EventInitialized,
		Payload: display.InitializedPayload{Count: s.buffer.Len()},
	})
	s.sendChunk(firstChunk)
}

// sendChunk publishes the next n photos of the rotation.
func (s *Service) sendChunk(n int) {
	photos := s.buffer.NextChunk(n)
	if len(photos) == 0 {
		s.logger.Warn("no photos in rotation to send")
		return
	}

	s.logger.Debug("sending photos", slog.Int("count", len(photos)), slog.Int("rotation", s.buffer.Len()))
	s.deps.Hub.Publish(display.NewPhotosEvent(photos))
}

func (s *Service) refillChunk() int {
	return rotation.ChunkSize(s.opts.RefillWindow, s.opts.UpdateInterval)
}

// onFileRemoved drops a photo whose cache file was deleted out from under
// the service.
func (s *Service) onFileRemoved(fileName string) {
	n := s.buffer.RemoveFunc(func(p mediacache.CachedPhoto) bool {
		return p.FileName == fileName
	})

	if n > 0 {
		s.logger.Info("cached photo removed from disk, dropped from rotation",
			slog.String("file", fileName),
		)
	}
}

func isFatal(err error) bool {
	return errors.Is(err, auth.ErrConfig) || errors.Is(err, auth.ErrNotAuthorized)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
