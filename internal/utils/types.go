package utils

import (
	"context"
	"net/url"
)

// ProgressFunc receives the bytes written so far and the expected total.
// total is <= 0 when the source does not report a size.
type ProgressFunc func(written, total int64)

// Fetcher transfers one source into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src *url.URL, dst string, progress ProgressFunc) error
}
