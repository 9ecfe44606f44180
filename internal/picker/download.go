package picker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Download streams the bytes behind a media base URL to w. Picker base URLs
// require the bearer token, unlike pre-authenticated download links.
// The URL is never logged. Only the request/response cycle is retried;
// a failure while streaming is returned to the caller.
func (c *Client) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	if downloadURL == "" {
		return 0, ErrNoDownloadURL
	}

	resp, err := c.doRetry(ctx, http.MethodGet, downloadURL, "media download", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return c.copyBody(w, resp.Body)
}

// DownloadRange resumes a download at offset, appending the remaining bytes
// to w. Only a 206 reply is streamed. A 200 means the server sent the whole
// file instead, which is reported as ErrRangeIgnored with nothing written.
func (c *Client) DownloadRange(ctx context.Context, downloadURL string, w io.Writer, offset int64) (int64, error) {
	if downloadURL == "" {
		return 0, ErrNoDownloadURL
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := c.doRetry(ctx, http.MethodGet, downloadURL, "media range download", nil, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		c.logger.Debug("range request answered with full content",
			slog.Int("status", resp.StatusCode),
			slog.Int64("offset", offset),
		)

		return 0, ErrRangeIgnored
	}

	return c.copyBody(w, resp.Body)
}

func (c *Client) copyBody(w io.Writer, body io.Reader) (int64, error) {
	n, copyErr := io.Copy(w, body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("picker: streaming download content: %w", copyErr)
	}

	return n, nil
}
