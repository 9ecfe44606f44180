package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/photoframe-go/internal/auth"
	"github.com/tonimelisma/photoframe-go/internal/display"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/session"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakePicker stands in for the picker client for both the session
// controller and the media cache.
type fakePicker struct {
	mu      sync.Mutex
	session picker.Session
	items   []picker.MediaItem
	listErr error
	creates int
	deleted []string
}

func (f *fakePicker) CreateSession(_ context.Context) (*picker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	s := f.session
	s.MediaItemsSet = false

	return &s, nil
}

func (f *fakePicker) GetSession(_ context.Context, id string) (*picker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.session
	s.ID = id

	return &s, nil
}

func (f *fakePicker) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, id)

	return nil
}

func (f *fakePicker) ListMediaItems(_ context.Context, _ string) ([]picker.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.items, f.listErr
}

func (f *fakePicker) Download(_ context.Context, url string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, "jpeg:"+url)
	return int64(n), err
}

func (f *fakePicker) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates
}

func (f *fakePicker) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

type fakeHub struct {
	mu       sync.Mutex
	events   []display.Event
	requests chan display.Request
}

func newFakeHub() *fakeHub {
	return &fakeHub{requests: make(chan display.Request, 8)}
}

func (h *fakeHub) Publish(ev display.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)
}

func (h *fakeHub) Requests() <-chan display.Request { return h.requests }

func (h *fakeHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}

	return out
}

func (h *fakeHub) last(eventType string) (display.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type == eventType {
			return h.events[i], true
		}
	}

	return display.Event{}, false
}

func (h *fakeHub) reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

type tokenFunc func() error

func (f tokenFunc) AccessToken(_ context.Context) (string, error) {
	if err := f(); err != nil {
		return "", err
	}

	return "token", nil
}

func okToken() tokenFunc { return func() error { return nil } }

type harness struct {
	svc      *Service
	hub      *fakeHub
	api      *fakePicker
	cache    *mediacache.Store
	sessions *session.Controller
	ledger   *ledger.Ledger
	dataDir  string
	sleeps   []time.Duration
}

func photoItems(ids ...string) []picker.MediaItem {
	items := make([]picker.MediaItem, len(ids))
	for i, id := range ids {
		items[i] = picker.MediaItem{
			ID:         id,
			BaseURL:    "https://lh3.example.com/" + id,
			MimeType:   "image/jpeg",
			Type:       picker.MediaTypePhoto,
			CreateTime: time.Date(2025, 1, i+1, 0, 0, 0, 0, time.UTC),
		}
	}

	return items
}

func newHarness(t *testing.T, api *fakePicker, tokens tokenFunc, opts Options) *harness {
	t.Helper()

	logger := testLogger(t)
	dataDir := t.TempDir()

	cache := mediacache.NewStore(api, mediacache.Options{
		Dir:      filepath.Join(dataDir, "photos"),
		Parallel: 2,
	}, logger)

	sessions := session.NewController(api, session.NewStore(dataDir, logger), session.Options{}, logger)

	l, err := ledger.Open(context.Background(), filepath.Join(dataDir, "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	h := &harness{
		hub:      newFakeHub(),
		api:      api,
		cache:    cache,
		sessions: sessions,
		ledger:   l,
		dataDir:  dataDir,
	}

	h.svc = NewService(opts, Deps{
		Sessions: sessions,
		Cache:    cache,
		Tokens:   tokens,
		Ledger:   l,
		Hub:      h.hub,
	}, logger)

	h.svc.sleepFunc = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}

	return h
}

// seedCache downloads items into the cache and writes its index.
func (h *harness) seedCache(t *testing.T, items []picker.MediaItem) {
	t.Helper()

	require.NoError(t, h.cache.EnsureDir())

	res, err := h.cache.DownloadBatch(context.Background(), items, nil)
	require.NoError(t, err)
	require.NoError(t, h.cache.PersistMetadata(res.Photos))
}

func photosIn(t *testing.T, ev display.Event) []string {
	t.Helper()

	p, ok := ev.Payload.(display.PhotosPayload)
	require.True(t, ok)

	ids := make([]string, len(p.Photos))
	for i, ph := range p.Photos {
		ids[i] = ph.ID
	}

	return ids
}

func TestInitialize_CachedPhotosShownImmediately(t *testing.T) {
	api := &fakePicker{}
	h := newHarness(t, api, okToken(), Options{})
	h.seedCache(t, photoItems("a", "b", "c"))

	require.NoError(t, h.svc.initialize(context.Background()))
	h.svc.flows.Wait()

	assert.Equal(t, []string{display.EventInitialized, display.EventPhotos}, h.hub.types())

	ev, _ := h.hub.last(display.EventInitialized)
	assert.Equal(t, display.InitializedPayload{Count: 3}, ev.Payload)

	ev, _ = h.hub.last(display.EventPhotos)
	assert.Equal(t, []string{"c", "b", "a"}, photosIn(t, ev), "newest first")
	assert.Zero(t, api.createCount())
}

func TestInitialize_NoCacheRunsPickerFlow(t *testing.T) {
	api := &fakePicker{
		session: picker.Session{ID: "s1", PickerURI: "https://photos.google.com/picker/s1", MediaItemsSet: true},
		items:   photoItems("a", "b", "c"),
	}
	h := newHarness(t, api, okToken(), Options{RetainSession: false})

	require.NoError(t, h.svc.initialize(context.Background()))
	h.svc.flows.Wait()

	assert.Equal(t, []string{
		display.EventNoPhotosCached,
		display.EventStatus,
		display.EventSessionCreated,
		display.EventStatus,
		display.EventInitialized,
		display.EventPhotos,
	}, h.hub.types())

	ev, _ := h.hub.last(display.EventSessionCreated)
	assert.Equal(t, display.SessionCreatedPayload{
		PickerURI: "https://photos.google.com/picker/s1",
		QRPayload: "https://photos.google.com/picker/s1",
	}, ev.Payload)

	cached, ok := h.cache.LoadCached()
	require.True(t, ok)
	assert.Len(t, cached, 3)

	assert.Equal(t, []string{"s1"}, api.deletedIDs(), "session consumed")
	assert.Nil(t, h.sessions.Active())

	sum, err := h.ledger.Summary(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sum.LastBatch)
	assert.Equal(t, 1, sum.Batches)
	assert.Equal(t, "s1", sum.LastBatch.SessionID)
	assert.Equal(t, 3, sum.LastBatch.Cached)
}

func TestInitialize_RetainSessionKeepsIt(t *testing.T) {
	api := &fakePicker{
		session: picker.Session{ID: "s1", PickerURI: "https://p/s1", MediaItemsSet: true},
		items:   photoItems("a"),
	}
	h := newHarness(t, api, okToken(), Options{RetainSession: true})

	require.NoError(t, h.svc.initialize(context.Background()))
	h.svc.flows.Wait()

	assert.Empty(t, api.deletedIDs())
	require.NotNil(t, h.sessions.Active())
	assert.Equal(t, "s1", h.sessions.Active().ID)
}

func TestInitialize_ResumesReadySession(t *testing.T) {
	api := &fakePicker{
		session: picker.Session{ID: "s9", MediaItemsSet: true},
		items:   photoItems("x", "y"),
	}
	h := newHarness(t, api, okToken(), Options{RetainSession: true})

	store := session.NewStore(h.dataDir, testLogger(t))
	require.NoError(t, store.Save(&session.Record{Session: picker.Session{ID: "s9", PickerURI: "https://p/s9"}}))

	require.NoError(t, h.svc.initialize(context.Background()))
	h.svc.flows.Wait()

	assert.Zero(t, api.createCount())
	assert.Equal(t, []string{
		display.EventStatus,
		display.EventInitialized,
		display.EventPhotos,
	}, h.hub.types())
	assert.Equal(t, 2, h.svc.buffer.Len())
}

func TestInitialize_ResumedSessionExpiredStartsOver(t *testing.T) {
	api := &fakePicker{
		session: picker.Session{ID: "s9", PickerURI: "https://p/s9", MediaItemsSet: false,
			ExpireTime: time.Now().Add(-time.Minute)},
	}
	h := newHarness(t, api, okToken(), Options{})

	store := session.NewStore(h.dataDir, testLogger(t))
	require.NoError(t, store.Save(&session.Record{Session: picker.Session{
		ID: "s9", PickerURI: "https://p/s9", ExpireTime: time.Now().Add(time.Hour),
	}}))

	// The live status reports an expire time in the past, so Resume
	// discards the session and a fresh flow starts instead.
	require.NoError(t, h.svc.initialize(context.Background()))
	h.svc.flows.Wait()

	assert.Equal(t, 1, api.createCount())
	assert.Contains(t, h.hub.types(), display.EventNoPhotosCached)
}

func TestPickerFlow_ExpiredWhilePolling(t *testing.T) {
	api := &fakePicker{
		session: picker.Session{ID: "s2", PickerURI: "https://p/s2", ExpireTime: time.Now().Add(-time.Minute)},
	}
	h := newHarness(t, api, okToken(), Options{})

	h.svc.pickerFlow(context.Background(), nil)

	ev, ok := h.hub.last(display.EventStatus)
	require.True(t, ok)
	assert.Contains(t, ev.Payload.(display.MessagePayload).Message, "expired")
	assert.Equal(t, []string{"s2"}, api.deletedIDs())
	assert.Zero(t, h.svc.buffer.Len())
}

func TestProcessSelection_NothingPicked(t *testing.T) {
	api := &fakePicker{}
	h := newHarness(t, api, okToken(), Options{})

	h.svc.processSelection(context.Background(), "s1")

	ev, ok := h.hub.last(display.EventStatus)
	require.True(t, ok)
	assert.Contains(t, ev.Payload.(display.MessagePayload).Message, "No photos selected")
	assert.NotContains(t, h.hub.types(), display.EventInitialized)
}

func TestProcessSelection_ListFailurePublishesError(t *testing.T) {
	api := &fakePicker{listErr: errors.New("boom")}
	h := newHarness(t, api, okToken(), Options{})

	h.svc.processSelection(context.Background(), "s1")

	_, ok := h.hub.last(display.EventError)
	assert.True(t, ok)
}

func TestInitLoop_FatalErrorStopsRetries(t *testing.T) {
	tokens := tokenFunc(func() error { return fmt.Errorf("loading token: %w", auth.ErrNotAuthorized) })
	h := newHarness(t, &fakePicker{}, tokens, Options{})

	require.NoError(t, h.svc.initLoop(context.Background()))

	assert.Equal(t, []string{display.EventError}, h.hub.types())
	assert.Empty(t, h.sleeps)
	assert.False(t, h.svc.initialized.Load())
}

func TestInitLoop_TransientErrorRetries(t *testing.T) {
	calls := 0
	tokens := tokenFunc(func() error {
		calls++
		if calls == 1 {
			return errors.New("network unreachable")
		}

		return nil
	})

	api := &fakePicker{}
	h := newHarness(t, api, tokens, Options{})
	h.seedCache(t, photoItems("a"))

	require.NoError(t, h.svc.initLoop(context.Background()))

	assert.Equal(t, []time.Duration{DefaultInitRetry}, h.sleeps)
	assert.True(t, h.svc.initialized.Load())
	assert.NotContains(t, h.hub.types(), display.EventError)
}

func TestInitLoop_CanceledDuringRetry(t *testing.T) {
	tokens := tokenFunc(func() error { return errors.New("offline") })
	h := newHarness(t, &fakePicker{}, tokens, Options{InitRetry: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	h.svc.sleepFunc = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		cancel()

		return context.Canceled
	}

	require.NoError(t, h.svc.initLoop(ctx))
	assert.Equal(t, []time.Duration{time.Minute}, h.sleeps)
}

func TestLaunchFlow_OnlyOneAtATime(t *testing.T) {
	api := &fakePicker{session: picker.Session{ID: "s1"}}
	h := newHarness(t, api, okToken(), Options{})

	h.svc.pickerBusy.Store(true)
	h.svc.handleRequest(context.Background(), display.Request{Type: display.RequestStartPicker})
	h.svc.flows.Wait()

	assert.Zero(t, api.createCount())

	ev, ok := h.hub.last(display.EventStatus)
	require.True(t, ok)
	assert.Contains(t, ev.Payload.(display.MessagePayload).Message, "already in progress")
}

func TestOnFileRemoved_DropsFromRotation(t *testing.T) {
	h := newHarness(t, &fakePicker{}, okToken(), Options{})
	h.seedCache(t, photoItems("a", "b"))

	cached, ok := h.cache.LoadCached()
	require.True(t, ok)
	h.svc.buffer.Load(cached)

	h.svc.onFileRemoved(mediacache.FileName("a", "image/jpeg"))
	assert.Equal(t, 1, h.svc.buffer.Len())

	h.svc.onFileRemoved("unrelated.jpg")
	assert.Equal(t, 1, h.svc.buffer.Len())
}

func TestOnRefreshed_DownloadsMissing(t *testing.T) {
	api := &fakePicker{session: picker.Session{ID: "s1", MediaItemsSet: true}}
	h := newHarness(t, api, okToken(), Options{RetainSession: true})
	h.seedCache(t, photoItems("a"))

	_, err := h.sessions.Create(context.Background())
	require.NoError(t, err)

	h.svc.onRefreshed(context.Background(), photoItems("a", "b"))

	assert.Equal(t, 2, h.svc.buffer.Len())
	assert.True(t, h.cache.Has(&photoItems("a", "b")[1]))
}

func TestOnRefreshed_KeepsRotationPosition(t *testing.T) {
	api := &fakePicker{session: picker.Session{ID: "s1", MediaItemsSet: true}}
	h := newHarness(t, api, okToken(), Options{RetainSession: true})
	h.seedCache(t, photoItems("a", "b", "c"))

	_, err := h.sessions.Create(context.Background())
	require.NoError(t, err)

	cached, ok := h.cache.LoadCached()
	require.True(t, ok)
	h.svc.buffer.Load(cached)

	// Newest first: c is shown, b is next.
	assert.Equal(t, "c", h.svc.buffer.NextChunk(1)[0].ID)

	// d is the newest photo and sorts ahead of the pointer.
	h.svc.onRefreshed(context.Background(), photoItems("a", "b", "c", "d"))

	require.Equal(t, 4, h.svc.buffer.Len())

	next := h.svc.buffer.NextChunk(2)
	require.Len(t, next, 2)
	assert.Equal(t, "b", next[0].ID)
	assert.Equal(t, "a", next[1].ID)
}

func TestOnRefreshed_NothingMissingKeepsRotation(t *testing.T) {
	h := newHarness(t, &fakePicker{}, okToken(), Options{})
	h.seedCache(t, photoItems("a", "b"))

	cached, _ := h.cache.LoadCached()
	h.svc.buffer.Load(cached)
	h.svc.buffer.NextChunk(1)

	h.svc.onRefreshed(context.Background(), photoItems("a", "b"))

	sum, err := h.ledger.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Batches)
}

func TestRun_StopsOnCancel(t *testing.T) {
	api := &fakePicker{}
	h := newHarness(t, api, okToken(), Options{})
	h.seedCache(t, photoItems("a", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := h.hub.last(display.EventPhotos)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	h.hub.requests <- display.Request{Type: display.RequestInit}

	require.Eventually(t, func() bool {
		n := 0
		for _, typ := range h.hub.types() {
			if typ == display.EventPhotos {
				n++
			}
		}

		return n == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
