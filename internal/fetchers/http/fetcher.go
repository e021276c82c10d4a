package ddhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

// StatusError reports a response other than 200 OK.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// Fetcher downloads http and https sources in a single request.
type Fetcher struct {
	client utils.HTTPDoer
}

func NewFetcher(cfg utils.HTTPClientConfig) *Fetcher {
	return &Fetcher{client: utils.NewHTTPClient(cfg)}
}

// NewFetcherWithClient uses an already configured client, e.g. one carrying
// OAuth credentials.
func NewFetcherWithClient(client utils.HTTPDoer) *Fetcher {
	return &Fetcher{client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	if src.Scheme != "http" && src.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", src.Scheme)
	}
	return f.Get(ctx, src.String(), dst, progress)
}

// Get streams link into dst. Any status other than 200 is a StatusError.
func (f *Fetcher) Get(ctx context.Context, link, dst string, progress utils.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %w", err)
	}
	req.Header.Set("Connection", "keep-alive")
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing GET request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: redact(link), StatusCode: resp.StatusCode}
	}

	written, err := utils.CopyWithProgress(ctx, resp.Body, dst, resp.ContentLength, progress)
	if err != nil {
		return err
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", resp.ContentLength, written)
	}
	log.Debug().Str("op", "http/fetcher").Msgf("Fetched %s at %s", redact(link), utils.FormatSpeed(written, time.Since(start).Seconds()))
	return nil
}

func redact(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	return u.Redacted()
}
