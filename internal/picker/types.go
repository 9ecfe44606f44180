package picker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Media types reported by the API.
const (
	MediaTypePhoto = "PHOTO"
	MediaTypeVideo = "VIDEO"
)

// Session is a picker session as last reported by the API. Optional fields
// are normalized at parse time: absent strings stay empty and an absent or
// malformed expire time is the zero time.
type Session struct {
	ID            string        `json:"id"`
	PickerURI     string        `json:"picker_uri"`
	PollingConfig PollingConfig `json:"polling_config"`
	MediaItemsSet bool          `json:"media_items_set"`
	ExpireTime    time.Time     `json:"expire_time,omitzero"`
}

// PollingConfig carries the API's raw protobuf duration strings ("5s",
// "1799.5s"). Empty means the API did not send the field.
type PollingConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	TimeoutIn    string `json:"timeout_in,omitempty"`
}

// HasExpiry reports whether the API supplied an expire time.
func (s *Session) HasExpiry() bool {
	return !s.ExpireTime.IsZero()
}

// ExpiredAt reports whether the session's expire time has passed at now.
// Sessions without an expire time never report expired here.
func (s *Session) ExpiredAt(now time.Time) bool {
	return s.HasExpiry() && now.After(s.ExpireTime)
}

// MediaItem is a picked item normalized from the API response.
type MediaItem struct {
	ID         string
	BaseURL    string // short-lived; empty when the API sent no media file
	MimeType   string
	Filename   string
	Type       string
	CreateTime time.Time
	Width      int
	Height     int
}

// IsImage reports whether the item is a still image. Videos and non-image
// MIME types are excluded from the slideshow.
func (m *MediaItem) IsImage() bool {
	if m.Type == MediaTypeVideo {
		return false
	}

	if m.MimeType != "" {
		return strings.HasPrefix(m.MimeType, "image/")
	}

	return m.Type == MediaTypePhoto
}

// DownloadURL returns the URL to fetch the item's bytes. When both
// dimensions are positive the API scales the image to fit them; otherwise
// the base URL is used as is.
func (m *MediaItem) DownloadURL(width, height int) string {
	if m.BaseURL == "" {
		return ""
	}

	if width > 0 && height > 0 {
		return fmt.Sprintf("%s=w%d-h%d", m.BaseURL, width, height)
	}

	return m.BaseURL
}

// SanitizeURI strips all whitespace from a URI. The picker URI has been seen
// with embedded newlines, which break QR encoding and copy-paste.
func SanitizeURI(uri string) string {
	return strings.Join(strings.Fields(uri), "")
}

// sessionResponse mirrors the API's PickingSession JSON.
type sessionResponse struct {
	ID            string                 `json:"id"`
	PickerURI     string                 `json:"pickerUri"`
	PollingConfig *pollingConfigResponse `json:"pollingConfig"`
	ExpireTime    string                 `json:"expireTime"`
	MediaItemsSet bool                   `json:"mediaItemsSet"`
}

type pollingConfigResponse struct {
	PollInterval string `json:"pollInterval"`
	TimeoutIn    string `json:"timeoutIn"`
}

// toSession normalizes the response, handling every absent field here so
// callers never nil-check.
func (r *sessionResponse) toSession(logger *slog.Logger) Session {
	s := Session{
		ID:            r.ID,
		PickerURI:     SanitizeURI(r.PickerURI),
		MediaItemsSet: r.MediaItemsSet,
	}

	if r.PollingConfig != nil {
		s.PollingConfig = PollingConfig{
			PollInterval: strings.TrimSpace(r.PollingConfig.PollInterval),
			TimeoutIn:    strings.TrimSpace(r.PollingConfig.TimeoutIn),
		}
	}

	if r.ExpireTime != "" {
		t, err := time.Parse(time.RFC3339Nano, r.ExpireTime)
		if err != nil {
			logger.Warn("invalid session expireTime, ignoring",
				slog.String("session_id", r.ID),
				slog.String("raw", r.ExpireTime),
			)
		} else {
			s.ExpireTime = t
		}
	}

	return s
}

// pickedMediaItemResponse mirrors the API's PickedMediaItem JSON.
type pickedMediaItemResponse struct {
	ID         string             `json:"id"`
	CreateTime string             `json:"createTime"`
	Type       string             `json:"type"`
	MediaFile  *mediaFileResponse `json:"mediaFile"`
}

type mediaFileResponse struct {
	BaseURL  string                     `json:"baseUrl"`
	MimeType string                     `json:"mimeType"`
	Filename string                     `json:"filename"`
	Metadata *mediaFileMetadataResponse `json:"mediaFileMetadata"`
}

type mediaFileMetadataResponse struct {
	Width  flexInt `json:"width"`
	Height flexInt `json:"height"`
}

type listMediaItemsResponse struct {
	MediaItems    []pickedMediaItemResponse `json:"mediaItems"`
	NextPageToken string                    `json:"nextPageToken"`
}

// toMediaItem normalizes a picked item. Missing create times fall back to
// now so ordering by date still places the item somewhere sensible.
func (r *pickedMediaItemResponse) toMediaItem(logger *slog.Logger) MediaItem {
	item := MediaItem{
		ID:   r.ID,
		Type: r.Type,
	}

	if r.MediaFile != nil {
		item.BaseURL = r.MediaFile.BaseURL
		item.MimeType = r.MediaFile.MimeType
		item.Filename = r.MediaFile.Filename

		if r.MediaFile.Metadata != nil {
			item.Width = int(r.MediaFile.Metadata.Width)
			item.Height = int(r.MediaFile.Metadata.Height)
		}
	}

	item.CreateTime = parseTimestamp(r.CreateTime, r.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp, falling back to the current
// time with a warning.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Debug("empty createTime, using current time", slog.String("item_id", itemID))
		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Warn("invalid createTime, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// flexInt accepts both JSON numbers and int64-as-string values, which
// Google APIs use interchangeably for dimensions.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("picker: decoding dimension %q: %w", data, err)
	}

	*f = flexInt(n)

	return nil
}

// decodeJSON decodes a response body into v.
func decodeJSON(body []byte, v any, what string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("picker: decoding %s response: %w", what, err)
	}

	return nil
}
