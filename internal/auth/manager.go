// Package auth owns the OAuth2 credential and token files: it loads the saved
// token, refreshes it through Google's token endpoint, persists every refresh,
// and hands out access tokens that are guaranteed not to expire within a
// safety margin.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

// PickerScope is the read-only scope for media items picked by the user.
const PickerScope = "https://www.googleapis.com/auth/photospicker.mediaitems.readonly"

// DefaultSafetyMargin is how close to expiry a cached token may get before
// Token refreshes it.
const DefaultSafetyMargin = 2 * time.Minute

// assumedLifetime is used when the token endpoint omits expires_in.
const assumedLifetime = time.Hour

var (
	// ErrConfig is returned when a required file path is missing from
	// configuration. Fatal: startup cannot continue.
	ErrConfig = errors.New("auth: missing required configuration")

	// ErrNotAuthorized is returned when the credentials file or the saved
	// token is missing, or the refresh token was revoked. Fatal until the
	// operator runs "photoframe-go login".
	ErrNotAuthorized = errors.New("auth: not authorized (run \"photoframe-go login\")")
)

// Options configures a Manager.
type Options struct {
	CredentialsPath string
	TokenPath       string
	SafetyMargin    time.Duration // 0 = DefaultSafetyMargin
}

// refreshFunc exchanges a refresh token for a new token.
type refreshFunc func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)

// Manager is the single owner of the live access token. Safe for concurrent
// use; concurrent callers during a refresh wait for it instead of refreshing
// twice.
type Manager struct {
	credentialsPath string
	tokenPath       string
	margin          time.Duration
	logger          *slog.Logger

	nowFunc func() time.Time
	refresh refreshFunc // nil until credentials are loaded; tests inject one

	mu        sync.Mutex
	token     *oauth2.Token
	refreshed bool // at least one successful refresh in this process
	invalid   bool // set by Invalidate
}

// NewManager validates the configured paths and returns a Manager. No file
// is read until the first Token call.
func NewManager(opts Options, logger *slog.Logger) (*Manager, error) {
	if opts.CredentialsPath == "" {
		return nil, fmt.Errorf("%w: credentials_file", ErrConfig)
	}

	if opts.TokenPath == "" {
		return nil, fmt.Errorf("%w: token_file", ErrConfig)
	}

	if logger == nil {
		logger = slog.Default()
	}

	margin := opts.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}

	return &Manager{
		credentialsPath: opts.CredentialsPath,
		tokenPath:       opts.TokenPath,
		margin:          margin,
		logger:          logger,
		nowFunc:         time.Now,
	}, nil
}

// Token returns a token that stays valid for at least the safety margin.
// The first call in a process always refreshes, so a token restored from
// disk is proven usable before anything depends on it.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshed && !m.invalid && m.usable(m.token) {
		tok := *m.token
		return &tok, nil
	}

	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}

	newTok, err := m.refresh(ctx, m.token)
	if err != nil {
		refreshErr := m.refreshFailed(err)

		// A transient failure still leaves the loaded token usable if it
		// has not reached the margin; refresh is retried on the next call.
		if !errors.Is(refreshErr, ErrNotAuthorized) && !m.invalid && m.usable(m.token) {
			tok := *m.token
			return &tok, nil
		}

		return nil, refreshErr
	}

	if newTok.Expiry.IsZero() {
		newTok.Expiry = m.nowFunc().Add(assumedLifetime)
	}

	// Persisting is best-effort: a failed write still leaves a valid token
	// in memory and the next refresh retries the write.
	if saveErr := tokenfile.Save(m.tokenPath, newTok); saveErr != nil {
		m.logger.Warn("failed to persist refreshed token",
			slog.String("path", m.tokenPath),
			slog.String("error", saveErr.Error()),
		)
	} else {
		m.logger.Info("token refreshed",
			slog.String("path", m.tokenPath),
			slog.Time("expiry", newTok.Expiry),
		)
	}

	m.token = newTok
	m.refreshed = true
	m.invalid = false

	tok := *newTok

	return &tok, nil
}

// AccessToken returns just the bearer string of a valid token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// Invalidate forces the next Token call to refresh. The transport calls it
// after a 401 from the API.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.invalid = true
	m.mu.Unlock()

	m.logger.Debug("cached token invalidated")
}

// usable reports whether tok stays valid for longer than the safety margin.
func (m *Manager) usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}

	return m.nowFunc().Before(tok.Expiry.Add(-m.margin))
}

// ensureLoaded reads the credentials and, on first use, the saved token.
// Caller holds m.mu.
func (m *Manager) ensureLoaded() error {
	if _, err := os.Stat(m.credentialsPath); err != nil {
		return fmt.Errorf("%w: credentials file %s: %w", ErrNotAuthorized, m.credentialsPath, err)
	}

	if m.refresh == nil {
		cfg, err := loadOAuthConfig(m.credentialsPath)
		if err != nil {
			return err
		}

		m.refresh = oauthRefresher(cfg)
	}

	if m.token != nil {
		return nil
	}

	tf, err := tokenfile.Load(m.tokenPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}

	if tf == nil {
		return fmt.Errorf("%w: no saved token at %s", ErrNotAuthorized, m.tokenPath)
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(m.nowFunc())
	m.logger.Info("loaded saved token",
		slog.String("path", m.tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	m.token = tf.Token

	return nil
}

// refreshFailed classifies a refresh error. A revoked grant is terminal;
// anything else is transient and the caller retries on its own schedule.
// Caller holds m.mu.
func (m *Manager) refreshFailed(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		m.logger.Error("refresh token rejected", slog.String("error", err.Error()))
		return fmt.Errorf("%w: refresh token rejected: %w", ErrNotAuthorized, err)
	}

	m.logger.Warn("token refresh failed", slog.String("error", err.Error()))

	return fmt.Errorf("auth: refreshing token: %w", err)
}

// loadOAuthConfig parses a Google "installed" (or "web") client credentials
// file.
func loadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading credentials %s: %w", ErrNotAuthorized, credentialsPath, err)
	}

	cfg, err := google.ConfigFromJSON(data, PickerScope)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing credentials %s: %w", credentialsPath, err)
	}

	return cfg, nil
}

// oauthRefresher returns a refreshFunc backed by the oauth2 library's
// refresh-token grant. Only the refresh token is handed over so the library
// never short-circuits with the still-cached access token.
func oauthRefresher(cfg *oauth2.Config) refreshFunc {
	return func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})

		return src.Token()
	}
}
