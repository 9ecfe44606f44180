// Package session drives the lifecycle of a Google Photos picker session:
// creation, polling until the user finishes selecting, resumption across
// restarts and deletion. At most one session is active per controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/picker"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxAge       = 7 * 24 * time.Hour
	DefaultPollInterval = 15 * time.Second
	DefaultMaxPolls     = 360
)

// State is the controller's view of the active session.
type State int

const (
	StateNone State = iota
	StateCreated
	StatePolling
	StateReady
	StateExpired
	StateConsumed
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCreated:
		return "created"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	case StateExpired:
		return "expired"
	case StateConsumed:
		return "consumed"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PollOutcome is how a Poll loop ended.
type PollOutcome int

const (
	PollReady PollOutcome = iota
	PollExpired
	PollTimedOut
	PollExhausted
)

func (o PollOutcome) String() string {
	switch o {
	case PollReady:
		return "ready"
	case PollExpired:
		return "expired"
	case PollTimedOut:
		return "timed out"
	case PollExhausted:
		return "poll limit reached"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// API is the subset of the picker client the controller needs.
type API interface {
	CreateSession(ctx context.Context) (*picker.Session, error)
	GetSession(ctx context.Context, sessionID string) (*picker.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Options tunes the controller. Zero values select the defaults.
type Options struct {
	// MaxAge bounds how long a persisted session without an expire time
	// is considered resumable.
	MaxAge time.Duration

	// DefaultPollInterval applies when the API sends no usable interval.
	DefaultPollInterval time.Duration

	MaxPolls int
}

// Controller owns the active picker session and its persisted copy.
type Controller struct {
	api    API
	store  *Store
	opts   Options
	logger *slog.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	active  *picker.Session
	savedAt time.Time
	state   State
}

// NewController creates a Controller. Nothing is loaded until Resume.
func NewController(api API, store *Store, opts Options, logger *slog.Logger) *Controller {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}

	if opts.DefaultPollInterval <= 0 {
		opts.DefaultPollInterval = DefaultPollInterval
	}

	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultMaxPolls
	}

	return &Controller{
		api:       api,
		store:     store,
		opts:      opts,
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Active returns a copy of the active session, or nil.
func (c *Controller) Active() *picker.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil
	}

	s := *c.active

	return &s
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Create starts a new remote session and persists it. Any session still
// active is deleted first.
func (c *Controller) Create(ctx context.Context) (*picker.Session, error) {
	if prev := c.Active(); prev != nil {
		c.Delete(ctx, prev.ID)
	}

	s, err := c.api.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: creating: %w", err)
	}

	c.mu.Lock()
	c.savedAt = c.nowFunc().UTC()
	c.adoptLocked(s, StateCreated)
	c.mu.Unlock()

	out := *s

	return &out, nil
}

// Resume reloads the persisted session after a restart. It returns
// StateNone when nothing was persisted and StateExpired when the persisted
// session can no longer be used. Otherwise the live status decides between
// StateReady and StatePolling; a transient failure to fetch it keeps the
// session in StatePolling so the poll loop retries.
func (c *Controller) Resume(ctx context.Context) (*picker.Session, State, error) {
	rec, err := c.store.Load()
	if err != nil {
		if errors.Is(err, ErrCorruptSession) {
			c.setState(StateNone)
			return nil, StateNone, nil
		}

		return nil, StateNone, fmt.Errorf("session: loading: %w", err)
	}

	if rec == nil {
		c.setState(StateNone)
		return nil, StateNone, nil
	}

	now := c.nowFunc()

	if c.expiredRecord(rec, now) {
		c.logger.Info("persisted picker session expired, discarding",
			slog.String("session_id", rec.ID),
			slog.Time("saved_at", rec.SavedAt),
		)
		c.discardLocal(StateExpired)

		return nil, StateExpired, nil
	}

	c.mu.Lock()
	c.savedAt = rec.SavedAt
	c.active = &rec.Session
	c.mu.Unlock()

	live, err := c.api.GetSession(ctx, rec.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, StateNone, fmt.Errorf("session: resuming: %w", ctx.Err())
		}

		if picker.IsGone(err) {
			c.logger.Info("persisted picker session no longer exists remotely",
				slog.String("session_id", rec.ID),
			)
			c.discardLocal(StateExpired)

			return nil, StateExpired, nil
		}

		c.logger.Warn("could not fetch persisted session status, will keep polling",
			slog.String("session_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.setState(StatePolling)

		s := rec.Session

		return &s, StatePolling, nil
	}

	state := StatePolling

	switch {
	case live.MediaItemsSet:
		state = StateReady
	case live.ExpiredAt(now):
		c.discardLocal(StateExpired)
		return nil, StateExpired, nil
	}

	c.mu.Lock()
	c.adoptLocked(live, state)
	c.mu.Unlock()

	c.logger.Info("resumed picker session",
		slog.String("session_id", live.ID),
		slog.String("state", state.String()),
	)

	out := *live

	return &out, state, nil
}

func (c *Controller) expiredRecord(rec *Record, now time.Time) bool {
	if rec.HasExpiry() {
		return rec.ExpiredAt(now)
	}

	return now.Sub(rec.SavedAt) > c.opts.MaxAge
}

// Poll re-fetches the session until one exit condition holds, checked in
// order each iteration: items selected, expire time passed, remote timeout
// reached, iteration cap reached. Fetch failures are logged and count as
// an iteration. onStatus, if non-nil, receives one progress message per
// iteration. Only context cancellation returns an error.
func (c *Controller) Poll(ctx context.Context, sessionID string, onStatus func(string)) (PollOutcome, error) {
	c.setState(StatePolling)

	interval := c.opts.DefaultPollInterval

	for i := 1; ; i++ {
		s, err := c.api.GetSession(ctx, sessionID)

		switch {
		case err != nil && ctx.Err() != nil:
			return 0, fmt.Errorf("session: polling: %w", ctx.Err())
		case err != nil:
			c.logger.Warn("polling picker session failed",
				slog.String("session_id", sessionID),
				slog.Int("iteration", i),
				slog.String("error", err.Error()),
			)
			notify(onStatus, fmt.Sprintf("Waiting for photo selection (status check failed, retrying in %s)", interval))
		default:
			if outcome, done := c.checkPoll(s); done {
				return outcome, nil
			}

			interval = PollInterval(s.PollingConfig.PollInterval, c.opts.DefaultPollInterval)
			notify(onStatus, statusMessage(s, interval))
		}

		if i >= c.opts.MaxPolls {
			c.logger.Warn("picker session poll limit reached",
				slog.String("session_id", sessionID),
				slog.Int("polls", i),
			)

			return PollExhausted, nil
		}

		if err := c.sleepFunc(ctx, interval); err != nil {
			return 0, fmt.Errorf("session: polling: %w", err)
		}
	}
}

// checkPoll applies the exit conditions to one fetched status.
func (c *Controller) checkPoll(s *picker.Session) (PollOutcome, bool) {
	if s.MediaItemsSet {
		c.mu.Lock()
		c.adoptLocked(s, StateReady)
		c.mu.Unlock()

		c.logger.Info("picker session ready", slog.String("session_id", s.ID))

		return PollReady, true
	}

	if s.ExpiredAt(c.nowFunc()) {
		c.logger.Info("picker session expired while polling", slog.String("session_id", s.ID))
		c.setState(StateExpired)

		return PollExpired, true
	}

	if raw := s.PollingConfig.TimeoutIn; raw != "" {
		d, ok := ParseDuration(raw)
		if !ok {
			c.logger.Debug("ignoring malformed timeoutIn", slog.String("raw", raw))
		} else if d <= 0 {
			c.logger.Info("picker session timed out", slog.String("session_id", s.ID))
			c.setState(StateExpired)

			return PollTimedOut, true
		}
	}

	c.mu.Lock()
	c.adoptLocked(s, StatePolling)
	c.mu.Unlock()

	return 0, false
}

func statusMessage(s *picker.Session, interval time.Duration) string {
	msg := fmt.Sprintf("Waiting for photo selection (checking every %s)", interval)
	if s.HasExpiry() {
		msg += fmt.Sprintf(", session expires at %s", s.ExpireTime.Local().Format(time.Kitchen))
	}

	return msg
}

func notify(onStatus func(string), msg string) {
	if onStatus != nil {
		onStatus(msg)
	}
}

// Status fetches the live session once without changing local state.
func (c *Controller) Status(ctx context.Context, sessionID string) (*picker.Session, error) {
	s, err := c.api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: status: %w", err)
	}

	return s, nil
}

// Delete removes the session remotely (best effort) and locally.
func (c *Controller) Delete(ctx context.Context, sessionID string) {
	if err := c.api.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Warn("deleting picker session failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.ID != sessionID {
		return
	}

	c.active = nil
	c.state = StateDeleted

	if err := c.store.Delete(); err != nil {
		c.logger.Warn("removing session file failed", slog.String("error", err.Error()))
	}
}

// Consume marks the active session consumed and deletes it.
func (c *Controller) Consume(ctx context.Context) {
	s := c.Active()
	if s == nil {
		return
	}

	c.setState(StateConsumed)
	c.Delete(ctx, s.ID)
}

// Clear forgets the active session locally without contacting the API.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = nil
	c.state = StateNone

	return c.store.Delete()
}

// adoptLocked makes s the active session and persists it under the
// original savedAt. Persistence failures are logged: the in-memory session
// stays usable until the next restart.
func (c *Controller) adoptLocked(s *picker.Session, state State) {
	cp := *s
	c.active = &cp
	c.state = state

	if err := c.store.Save(&Record{Session: cp, SavedAt: c.savedAt}); err != nil {
		c.logger.Warn("persisting picker session failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) discardLocal(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = nil
	c.state = state

	if err := c.store.Delete(); err != nil {
		c.logger.Warn("removing session file failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
