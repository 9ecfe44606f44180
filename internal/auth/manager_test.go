package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

// tokenServer is a mock Google token endpoint that counts refresh grants.
type tokenServer struct {
	srv   *httptest.Server
	calls atomic.Int32
}

// newTokenServer serves a fresh access token per refresh. handler overrides
// the default response when non-nil.
func newTokenServer(t *testing.T, handler http.HandlerFunc) *tokenServer {
	t.Helper()

	ts := &tokenServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		if handler != nil {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"fresh-%d","token_type":"Bearer","expires_in":3600}`, n)
	})

	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)

	return ts
}

// writeCredentials writes a Google "installed" credentials file pointing at
// the mock token endpoint.
func writeCredentials(t *testing.T, dir, tokenURL string) string {
	t.Helper()

	path := filepath.Join(dir, "credentials.json")
	body := fmt.Sprintf(`{"installed":{
		"client_id":"test-client",
		"client_secret":"test-secret",
		"redirect_uris":["http://localhost"],
		"auth_uri":"https://accounts.example.com/auth",
		"token_uri":%q
	}}`, tokenURL)

	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

// writeSavedToken writes a token file as "photoframe-go login" would.
func writeSavedToken(t *testing.T, dir string, expiry time.Time) string {
	t.Helper()

	path := filepath.Join(dir, "token.json")
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "saved-access",
		RefreshToken: "saved-refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}))

	return path
}

func newTestManager(t *testing.T, ts *tokenServer, tokenExpiry time.Time) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	creds := writeCredentials(t, dir, ts.srv.URL+"/token")
	tokenPath := writeSavedToken(t, dir, tokenExpiry)

	m, err := NewManager(Options{CredentialsPath: creds, TokenPath: tokenPath}, slog.Default())
	require.NoError(t, err)

	return m, tokenPath
}

func TestNewManager_MissingPaths(t *testing.T) {
	_, err := NewManager(Options{TokenPath: "/tmp/token.json"}, nil)
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "credentials_file")

	_, err = NewManager(Options{CredentialsPath: "/tmp/credentials.json"}, nil)
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "token_file")
}

func TestToken_MissingCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	tokenPath := writeSavedToken(t, dir, time.Now().Add(time.Hour))

	m, err := NewManager(Options{
		CredentialsPath: filepath.Join(dir, "missing.json"),
		TokenPath:       tokenPath,
	}, slog.Default())
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestToken_MissingTokenFile(t *testing.T) {
	ts := newTokenServer(t, nil)
	dir := t.TempDir()
	creds := writeCredentials(t, dir, ts.srv.URL+"/token")

	m, err := NewManager(Options{
		CredentialsPath: creds,
		TokenPath:       filepath.Join(dir, "token.json"),
	}, slog.Default())
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, int32(0), ts.calls.Load(), "no refresh without a saved token")
}

func TestToken_FirstCallRefreshesAndPersists(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, tokenPath := newTestManager(t, ts, time.Now().Add(time.Hour))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", tok.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())

	saved, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", saved.Token.AccessToken)
	assert.Equal(t, "saved-refresh", saved.Token.RefreshToken, "refresh token is kept when the endpoint omits it")
}

func TestToken_CachedWithinMargin(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, _ := newTestManager(t, ts, time.Now().Add(-time.Hour))

	for range 5 {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fresh-1", tok.AccessToken)
	}

	assert.Equal(t, int32(1), ts.calls.Load(), "cached token must be reused without I/O")
}

// clockRefresher issues tokens valid for an hour on the manager's clock.
func clockRefresher(m *Manager, calls *int) refreshFunc {
	return func(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
		*calls++

		return &oauth2.Token{
			AccessToken:  fmt.Sprintf("clock-%d", *calls),
			RefreshToken: tok.RefreshToken,
			Expiry:       m.nowFunc().Add(time.Hour),
		}, nil
	}
}

func TestToken_RefreshesInsideSafetyMargin(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, _ := newTestManager(t, ts, time.Now().Add(-time.Hour))

	calls := 0
	m.refresh = clockRefresher(m, &calls)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "clock-1", tok.AccessToken)

	// 90 seconds before expiry is inside the 2 minute margin.
	now := tok.Expiry.Add(-90 * time.Second)
	m.nowFunc = func() time.Time { return now }

	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "clock-2", tok.AccessToken)
	assert.True(t, now.Before(tok.Expiry.Add(-DefaultSafetyMargin)),
		"returned token must outlive the safety margin")
}

func TestToken_NeverReturnsTokenInsideMargin(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, _ := newTestManager(t, ts, time.Now().Add(time.Hour))

	base := time.Now()
	now := base
	m.nowFunc = func() time.Time { return now }

	calls := 0
	m.refresh = clockRefresher(m, &calls)

	offsets := []time.Duration{
		0, 30 * time.Minute, 57 * time.Minute, 58*time.Minute + 30*time.Second,
		90 * time.Minute, 2 * time.Hour, 3 * time.Hour,
	}

	for _, offset := range offsets {
		now = base.Add(offset)

		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.True(t, now.Before(tok.Expiry.Add(-DefaultSafetyMargin)),
			"offset %s: token expiring %s is inside the margin", offset, tok.Expiry)
	}

	assert.Less(t, calls, len(offsets), "tokens outside the margin are served from cache")
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestToken_RevokedGrantIsTerminal(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})
	m, _ := newTestManager(t, ts, time.Now().Add(-time.Hour))

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestToken_TransientFailureFallsBackToLoadedToken(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m, _ := newTestManager(t, ts, time.Now().Add(time.Hour))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "saved-access", tok.AccessToken)
}

func TestToken_TransientFailureWithExpiredToken(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m, _ := newTestManager(t, ts, time.Now().Add(-time.Minute))

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthorized)
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, _ := newTestManager(t, ts, time.Now().Add(time.Hour))

	first, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", first)

	m.Invalidate()

	second, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-2", second)
}

func TestToken_InjectedRefresher(t *testing.T) {
	ts := newTokenServer(t, nil)
	m, _ := newTestManager(t, ts, time.Now().Add(time.Hour))

	m.refresh = func(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
		assert.Equal(t, "saved-refresh", tok.RefreshToken)
		return &oauth2.Token{AccessToken: "injected", RefreshToken: tok.RefreshToken}, nil
	}

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "injected", tok.AccessToken)
	assert.False(t, tok.Expiry.IsZero(), "missing expiry gets the assumed lifetime")
	assert.Equal(t, int32(0), ts.calls.Load())
}
