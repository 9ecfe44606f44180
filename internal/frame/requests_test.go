package frame

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/photoframe-go/internal/display"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
)

func request(t *testing.T, typ string, payload any) display.Request {
	t.Helper()

	req := display.Request{Type: typ, ClientID: "client-1"}

	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		req.Payload = raw
	}

	return req
}

func loadedHarness(t *testing.T, ids ...string) *harness {
	t.Helper()

	h := newHarness(t, &fakePicker{}, okToken(), Options{})
	h.seedCache(t, photoItems(ids...))

	cached, ok := h.cache.LoadCached()
	require.True(t, ok)
	h.svc.buffer.Load(cached)

	return h
}

func TestHandleRequest_MorePhotosUsesRefillChunk(t *testing.T) {
	ids := make([]string, 60)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}

	h := loadedHarness(t, ids...)

	h.svc.handleRequest(context.Background(), request(t, display.RequestMorePhotos, nil))

	ev, ok := h.hub.last(display.EventPhotos)
	require.True(t, ok)

	// 20 minutes of 30 second slides.
	assert.Len(t, photosIn(t, ev), 40)
}

func TestHandleRequest_MorePhotosExplicitCount(t *testing.T) {
	h := loadedHarness(t, "a", "b", "c", "d")

	h.svc.handleRequest(context.Background(), request(t, display.RequestMorePhotos, display.MorePhotosPayload{Count: 2}))

	ev, ok := h.hub.last(display.EventPhotos)
	require.True(t, ok)
	assert.Equal(t, []string{"d", "c"}, photosIn(t, ev))
}

func TestHandleRequest_MorePhotosEmptyRotation(t *testing.T) {
	h := newHarness(t, &fakePicker{}, okToken(), Options{})

	h.svc.handleRequest(context.Background(), request(t, display.RequestMorePhotos, nil))
	assert.Empty(t, h.hub.types())
}

func TestHandleRequest_ImageLoadedRecorded(t *testing.T) {
	h := loadedHarness(t, "a")

	h.svc.handleRequest(context.Background(), request(t, display.RequestImageLoaded,
		display.ImageLoadedPayload{ID: "a", Index: 0}))

	sum, err := h.ledger.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Loads)
	assert.Equal(t, 1, sum.Photos)
	assert.Empty(t, h.hub.types())
}

func TestHandleRequest_ImageLoadFailedEvictsAfterThreshold(t *testing.T) {
	h := loadedHarness(t, "a", "b", "c")
	path := filepath.Join(h.cache.Dir(), mediacache.FileName("a", "image/jpeg"))

	fail := request(t, display.RequestImageLoadFailed,
		display.ImageLoadFailedPayload{ID: "a", URL: "/photos/a.jpg", Error: "decode error"})

	for range 2 {
		h.svc.handleRequest(context.Background(), fail)
	}

	assert.Equal(t, 3, h.svc.buffer.Len())
	assert.FileExists(t, path)

	h.svc.handleRequest(context.Background(), fail)

	assert.Equal(t, 2, h.svc.buffer.Len())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Every failure also sends a refill chunk.
	n := 0
	for _, typ := range h.hub.types() {
		if typ == display.EventPhotos {
			n++
		}
	}

	assert.Equal(t, 3, n)
}

func TestHandleRequest_ImageLoadFailedWithoutID(t *testing.T) {
	h := loadedHarness(t, "a")

	h.svc.handleRequest(context.Background(), request(t, display.RequestImageLoadFailed, nil))

	sum, err := h.ledger.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Loads)
	assert.Equal(t, []string{display.EventPhotos}, h.hub.types())
}

func TestHandleRequest_InitStates(t *testing.T) {
	h := newHarness(t, &fakePicker{}, okToken(), Options{})

	h.svc.handleRequest(context.Background(), request(t, display.RequestInit, nil))
	assert.Equal(t, []string{display.EventStatus}, h.hub.types())

	h.hub.reset()
	h.svc.initialized.Store(true)
	h.svc.handleRequest(context.Background(), request(t, display.RequestInit, nil))
	assert.Equal(t, []string{display.EventNoPhotosCached}, h.hub.types())

	h.hub.reset()
	h.seedCache(t, photoItems("a"))
	cached, _ := h.cache.LoadCached()
	h.svc.buffer.Load(cached)
	h.svc.handleRequest(context.Background(), request(t, display.RequestInit, nil))
	assert.Equal(t, []string{display.EventInitialized, display.EventPhotos}, h.hub.types())
}

func TestHandleRequest_UnknownIgnored(t *testing.T) {
	h := newHarness(t, &fakePicker{}, okToken(), Options{})

	h.svc.handleRequest(context.Background(), request(t, "dance", nil))
	assert.Empty(t, h.hub.types())
}
