package picker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// CreateSession starts a new picking session. The returned PickerURI is
// what the user opens (directly or via QR code) to pick photos.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	c.logger.Info("creating picker session")

	resp, err := c.Do(ctx, http.MethodPost, "/sessions", []byte("{}"))
	if err != nil {
		return nil, err
	}

	s, err := c.decodeSession(resp, "create session")
	if err != nil {
		return nil, err
	}

	c.logger.Info("created picker session",
		slog.String("session_id", s.ID),
		slog.Time("expire_time", s.ExpireTime),
	)

	return s, nil
}

// GetSession fetches the live state of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	resp, err := c.Do(ctx, http.MethodGet, sessionPath(sessionID), nil)
	if err != nil {
		return nil, err
	}

	return c.decodeSession(resp, "get session")
}

// DeleteSession deletes a session on the server.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.logger.Info("deleting picker session", slog.String("session_id", sessionID))

	resp, err := c.Do(ctx, http.MethodDelete, sessionPath(sessionID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain to reuse the connection.
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("picker: draining delete response body: %w", copyErr)
	}

	return nil
}

func (c *Client) decodeSession(resp *http.Response, what string) (*Session, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("picker: reading %s response: %w", what, err)
	}

	var sr sessionResponse
	if err := decodeJSON(body, &sr, what); err != nil {
		return nil, err
	}

	if sr.ID == "" {
		return nil, fmt.Errorf("picker: %s response has no session id", what)
	}

	s := sr.toSession(c.logger)

	return &s, nil
}

func sessionPath(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}
