// Package refresh periodically re-lists the picked media so the short-lived
// base URLs and the access token never go stale while a session is active.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/picker"
)

// DefaultInterval stays under the ~60 minute lifetime of base URLs and
// access tokens.
const DefaultInterval = 50 * time.Minute

// Outcome is the result of one refresh tick.
type Outcome int

const (
	// OutcomeIdle: no active session, or the user has not picked yet.
	OutcomeIdle Outcome = iota
	// OutcomeRefreshed: media re-listed and handed to the callback.
	OutcomeRefreshed
	// OutcomeRetained: refresh failed but the session is still valid.
	OutcomeRetained
	// OutcomeRestarted: the session is gone; a new picker flow was started.
	OutcomeRestarted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeRetained:
		return "retained"
	case OutcomeRestarted:
		return "restarted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sessions is the session controller surface the scheduler needs.
type Sessions interface {
	Active() *picker.Session
	Status(ctx context.Context, sessionID string) (*picker.Session, error)
	Clear() error
}

// Lister re-lists the session's images.
type Lister interface {
	ListSelected(ctx context.Context, sessionID string) ([]picker.MediaItem, error)
}

// TokenSource re-resolves the access token each tick.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config wires the scheduler. OnRefreshed receives the freshly listed
// items; OnRestart starts a brand-new picker flow after the old session
// was found invalid. Both are called synchronously from Tick.
type Config struct {
	Interval    time.Duration
	Sessions    Sessions
	Lister      Lister
	Tokens      TokenSource
	OnRefreshed func(ctx context.Context, items []picker.MediaItem)
	OnRestart   func(ctx context.Context)
}

// Scheduler runs the refresh loop.
type Scheduler struct {
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewScheduler creates a Scheduler. A zero interval selects DefaultInterval.
func NewScheduler(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Scheduler{cfg: cfg, logger: logger, nowFunc: time.Now}
}

// Run ticks every interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("base URL refresh scheduled", slog.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			outcome := s.Tick(ctx)
			s.logger.Debug("refresh tick finished", slog.String("outcome", outcome.String()))
		}
	}
}

// Tick performs one refresh. A listing failure only discards the session
// when the API confirms it is gone, expired or no longer has items set; a
// failed status check keeps it for the next tick.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	active := s.cfg.Sessions.Active()
	if active == nil {
		return OutcomeIdle
	}

	log := s.logger.With(slog.String("session_id", active.ID))

	// A session still being polled has nothing to list; the picker flow
	// owns it until the user finishes picking.
	if !active.MediaItemsSet {
		log.Debug("refresh: session not ready yet, skipping")
		return OutcomeIdle
	}

	if _, err := s.cfg.Tokens.AccessToken(ctx); err != nil {
		log.Warn("refresh: token unavailable, retrying next tick", slog.String("error", err.Error()))
		return OutcomeRetained
	}

	items, err := s.cfg.Lister.ListSelected(ctx, active.ID)
	if err == nil {
		log.Info("refreshed picked media URLs", slog.Int("items", len(items)))

		if s.cfg.OnRefreshed != nil {
			s.cfg.OnRefreshed(ctx, items)
		}

		return OutcomeRefreshed
	}

	log.Warn("refresh: listing media failed, checking session", slog.String("error", err.Error()))

	if s.sessionStillValid(ctx, log, active.ID) {
		return OutcomeRetained
	}

	log.Info("refresh: session no longer valid, starting a new picker session")

	if err := s.cfg.Sessions.Clear(); err != nil {
		log.Warn("refresh: clearing session failed", slog.String("error", err.Error()))
	}

	if s.cfg.OnRestart != nil {
		s.cfg.OnRestart(ctx)
	}

	return OutcomeRestarted
}

func (s *Scheduler) sessionStillValid(ctx context.Context, log *slog.Logger, id string) bool {
	live, err := s.cfg.Sessions.Status(ctx, id)
	if err != nil {
		if picker.IsGone(err) {
			return false
		}

		log.Warn("refresh: session status check failed, keeping session", slog.String("error", err.Error()))

		return true
	}

	if live.ExpiredAt(s.nowFunc()) {
		return false
	}

	return live.MediaItemsSet
}
