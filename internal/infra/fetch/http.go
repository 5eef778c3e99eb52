package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/bryanwahyu/healthmate/internal/domain/reports"
)

const defaultMimeType = "image/jpeg"

// Client downloads report images over HTTP.
type Client struct {
	http *http.Client
	// maxBytes bounds how much is read; one extra byte is read so callers can tell
	// an oversized image from one exactly at the limit.
	maxBytes int64
}

func NewClient(timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch implements reports.ImageFetcher.
func (c *Client) Fetch(ctx context.Context, url string) (reports.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return reports.Image{}, fmt.Errorf("%w: %w", reports.ErrFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return reports.Image{}, fmt.Errorf("%w: %w", reports.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return reports.Image{}, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return reports.Image{}, fmt.Errorf("%w: read body: %w", reports.ErrFetch, err)
	}

	return reports.Image{Data: data, MimeType: mediaType(resp.Header.Get("Content-Type"))}, nil
}

func mediaType(header string) string {
	if header == "" {
		return defaultMimeType
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || mt == "" {
		return defaultMimeType
	}
	return mt
}

// StatusError is returned when the image host answers with an HTTP error.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: GET %s returned status %d", reports.ErrFetch, e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == reports.ErrFetch }
