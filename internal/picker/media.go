package picker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// listPageSize is the pageSize for media item listings (API maximum is 100).
const listPageSize = 100

// listPagePause spaces out page requests so a large selection does not
// hammer the API.
const listPagePause = 500 * time.Millisecond

// ListMediaItems returns every item picked in the session, following
// nextPageToken until the server returns none. Pages are concatenated in
// server order.
func (c *Client) ListMediaItems(ctx context.Context, sessionID string) ([]MediaItem, error) {
	c.logger.Info("listing picked media items", slog.String("session_id", sessionID))

	var (
		items     []MediaItem
		pageToken string
		page      = 1
	)

	for {
		pageItems, next, err := c.listMediaItemsPage(ctx, sessionID, pageToken)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)

		c.logger.Debug("fetched media items page",
			slog.Int("page", page),
			slog.Int("count", len(pageItems)),
		)

		if next == "" {
			break
		}

		if err := c.sleepFunc(ctx, listPagePause); err != nil {
			return nil, fmt.Errorf("picker: listing canceled: %w", err)
		}

		pageToken = next
		page++
	}

	c.logger.Info("listed picked media items",
		slog.String("session_id", sessionID),
		slog.Int("total_items", len(items)),
		slog.Int("pages", page),
	)

	return items, nil
}

func (c *Client) listMediaItemsPage(ctx context.Context, sessionID, pageToken string) ([]MediaItem, string, error) {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("pageSize", strconv.Itoa(listPageSize))

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	resp, err := c.Do(ctx, http.MethodGet, "/mediaItems?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("picker: reading media items response: %w", err)
	}

	var lr listMediaItemsResponse
	if err := decodeJSON(body, &lr, "media items"); err != nil {
		return nil, "", err
	}

	items := make([]MediaItem, 0, len(lr.MediaItems))
	for i := range lr.MediaItems {
		items = append(items, lr.MediaItems[i].toMediaItem(c.logger))
	}

	return items, lr.NextPageToken, nil
}
