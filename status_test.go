package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/photoframe-go/internal/config"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/session"
	"github.com/tonimelisma/photoframe-go/internal/tokenfile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a resolved config whose state lives under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.CredentialsFile = filepath.Join(dir, "credentials.json")
	cfg.Paths.TokenFile = filepath.Join(dir, "data", "token.json")

	return cfg
}

func writeCachedPhotos(t *testing.T, cfg *config.Config, ids ...string) {
	t.Helper()

	store := mediacache.NewStore(nil, mediacache.Options{Dir: cfg.Paths.CacheDir}, discardLogger())
	require.NoError(t, store.EnsureDir())

	photos := make([]mediacache.CachedPhoto, 0, len(ids))

	for _, id := range ids {
		name := mediacache.FileName(id, "image/jpeg")
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.CacheDir, name), []byte("jpeg-"+id), 0o600))

		photos = append(photos, mediacache.CachedPhoto{
			ID:         id,
			FileName:   name,
			MimeType:   "image/jpeg",
			Filename:   id + ".jpg",
			CreateTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		})
	}

	require.NoError(t, store.PersistMetadata(photos))
}

func TestBuildStatusReport_Empty(t *testing.T) {
	cfg := testConfig(t)

	r, err := buildStatusReport(context.Background(), cfg, "/etc/frame.toml", time.Now(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "/etc/frame.toml", r.ConfigPath)
	assert.False(t, r.Serve.Running)
	assert.Equal(t, tokenStateMissing, r.Token.State)
	assert.Equal(t, sessionStateNone, r.Session.State)
	assert.Zero(t, r.Cache.Photos)
	assert.Nil(t, r.Ledger)

	// Status must not create state.
	_, err = os.Stat(cfg.LedgerPath())
	assert.True(t, os.IsNotExist(err))

	var buf bytes.Buffer
	printStatusText(&buf, r)
	assert.Contains(t, buf.String(), "Run 'photoframe-go login'")
	assert.Contains(t, buf.String(), "Serve:   stopped")
}

func TestBuildStatusReport_Populated(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tokenfile.Save(cfg.Paths.TokenFile, &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       now.Add(-time.Minute),
	}))

	require.NoError(t, session.NewStore(cfg.Paths.DataDir, discardLogger()).Save(&session.Record{
		Session: picker.Session{
			ID:         "sess-1",
			PickerURI:  "https://photos.google.com/picker/sess-1",
			ExpireTime: now.Add(time.Hour),
		},
	}))

	writeCachedPhotos(t, cfg, "a", "b")

	led, err := ledger.Open(ctx, cfg.LedgerPath(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, led.RecordLoad(ctx, "a", ""))
	require.NoError(t, led.RecordLoad(ctx, "b", "decode error"))
	require.NoError(t, led.RecordBatch(ctx, ledger.BatchStats{
		SessionID: "sess-1",
		Listed:    2,
		Cached:    2,
		StartedAt: now.Add(-time.Minute),
		Duration:  1500 * time.Millisecond,
	}))
	require.NoError(t, led.Close())

	cleanup, err := writePIDFile(cfg.PIDPath())
	require.NoError(t, err)

	defer cleanup()

	r, err := buildStatusReport(ctx, cfg, "", now, discardLogger())
	require.NoError(t, err)

	assert.True(t, r.Serve.Running)
	assert.Equal(t, os.Getpid(), r.Serve.PID)
	assert.Equal(t, tokenStateValid, r.Token.State)
	assert.Equal(t, sessionStateWaiting, r.Session.State)
	assert.Equal(t, "sess-1", r.Session.ID)
	assert.Equal(t, 2, r.Cache.Photos)
	assert.Equal(t, int64(len("jpeg-a")+len("jpeg-b")), r.Cache.Bytes)

	require.NotNil(t, r.Ledger)
	assert.Equal(t, 2, r.Ledger.Loads)
	assert.Equal(t, 1, r.Ledger.LoadFailures)
	assert.Equal(t, 1, r.Ledger.Photos)
	assert.Equal(t, 1, r.Ledger.Batches)
	require.NotNil(t, r.Ledger.LastBatch)
	assert.Equal(t, "1.5s", r.Ledger.LastBatch.Duration)

	var buf bytes.Buffer
	printStatusText(&buf, r)

	out := buf.String()
	assert.Contains(t, out, "running (PID")
	assert.Contains(t, out, "Session: waiting for selection")
	assert.Contains(t, out, "Pick at: https://photos.google.com/picker/sess-1")
	assert.Contains(t, out, "Cache:   2 photos")
	assert.Contains(t, out, "Display: 2 loads, 1 failures, 1 photos shown")
}

func TestReadTokenStatus_NoRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{AccessToken: "at"}))

	assert.Equal(t, tokenStateInvalid, readTokenStatus(path, discardLogger()).State)
}

func TestReadSessionStatus_States(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		sess picker.Session
		want string
	}{
		{"waiting", picker.Session{ID: "s", ExpireTime: now.Add(time.Hour)}, sessionStateWaiting},
		{"ready", picker.Session{ID: "s", MediaItemsSet: true}, sessionStateReady},
		{"expired", picker.Session{ID: "s", MediaItemsSet: true, ExpireTime: now.Add(-time.Second)}, sessionStateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, session.NewStore(dir, discardLogger()).Save(&session.Record{Session: tt.sess}))

			assert.Equal(t, tt.want, readSessionStatus(dir, now, discardLogger()).State)
		})
	}
}
