// Package display connects the backend to the slideshow front end over a
// WebSocket: outbound events are fire-and-forget broadcasts, inbound
// requests are queued for the frame service.
package display

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/mediacache"
)

// Outbound event types.
const (
	EventSessionCreated = "session_created"
	EventStatus         = "status"
	EventInitialized    = "initialized"
	EventPhotos         = "photos"
	EventNoPhotosCached = "no_photos_cached"
	EventError          = "error"
)

// Inbound request types.
const (
	RequestInit            = "init"
	RequestMorePhotos      = "more_photos"
	RequestImageLoaded     = "image_loaded"
	RequestImageLoadFailed = "image_load_failed"
	RequestStartPicker     = "start_picker"
)

// PhotosPath is the URL prefix cached photo files are served under.
const PhotosPath = "/photos/"

// Event is one outbound message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// SessionCreatedPayload tells the display where the user picks photos.
// QRPayload is the text to encode; rendering is the display's job.
type SessionCreatedPayload struct {
	PickerURI string `json:"picker_uri"`
	QRPayload string `json:"qr_payload"`
}

// MessagePayload carries status and error text.
type MessagePayload struct {
	Message string `json:"message"`
}

// InitializedPayload reports how many photos are ready.
type InitializedPayload struct {
	Count int `json:"count"`
}

// Photo is a cached photo as the display sees it.
type Photo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Filename   string    `json:"filename,omitempty"`
	CreateTime time.Time `json:"create_time"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
}

// PhotosPayload is an ordered batch of photos.
type PhotosPayload struct {
	Photos []Photo `json:"photos"`
}

// NewPhotosEvent converts cached photos into a photos event, preserving
// order.
func NewPhotosEvent(photos []mediacache.CachedPhoto) Event {
	out := make([]Photo, len(photos))

	for i := range photos {
		p := &photos[i]
		out[i] = Photo{
			ID:         p.ID,
			URL:        path.Join(PhotosPath, p.FileName),
			Filename:   p.Filename,
			CreateTime: p.CreateTime,
			Width:      p.Width,
			Height:     p.Height,
		}
	}

	return Event{Type: EventPhotos, Payload: PhotosPayload{Photos: out}}
}

// StatusEvent builds a status text event.
func StatusEvent(msg string) Event {
	return Event{Type: EventStatus, Payload: MessagePayload{Message: msg}}
}

// ErrorEvent builds an error event.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Payload: MessagePayload{Message: msg}}
}

// Request is one inbound message. ClientID identifies the connection it
// arrived on.
type Request struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"-"`
}

// ImageLoadedPayload confirms a photo was displayed.
type ImageLoadedPayload struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// ImageLoadFailedPayload reports a photo the display could not load.
type ImageLoadFailedPayload struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// MorePhotosPayload optionally asks for a specific chunk size.
type MorePhotosPayload struct {
	Count int `json:"count,omitempty"`
}

// Decode unmarshals the request payload into v. An empty payload leaves v
// untouched.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}

	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("display: decoding %s payload: %w", r.Type, err)
	}

	return nil
}
