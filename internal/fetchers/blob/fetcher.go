package blobfetch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"

	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

// Opener opens the bucket for a bucket URL such as gs://name or file:///dir.
type Opener func(ctx context.Context, bucketURL string) (*blob.Bucket, error)

// Fetcher downloads single objects from Go CDK buckets (gs://, file://).
type Fetcher struct {
	open Opener
}

func NewFetcher() *Fetcher {
	return &Fetcher{open: blob.OpenBucket}
}

// NewFetcherWithOpener is used to serve buckets that cannot be opened by
// URL, e.g. in-memory ones.
func NewFetcherWithOpener(open Opener) *Fetcher {
	return &Fetcher{open: open}
}

// SplitLocation turns an object URL into its bucket URL and key.
func SplitLocation(src *url.URL) (bucketURL, key string, err error) {
	switch src.Scheme {
	case "file":
		p := src.Path
		if p == "" || strings.HasSuffix(p, "/") {
			return "", "", fmt.Errorf("invalid file location: %s", src.String())
		}
		dir, base := path.Split(p)
		return (&url.URL{Scheme: "file", Path: dir}).String(), base, nil
	default:
		key = strings.TrimPrefix(src.Path, "/")
		if src.Host == "" || key == "" || strings.HasSuffix(key, "/") {
			return "", "", fmt.Errorf("invalid object location: %s", src.String())
		}
		bucket := url.URL{Scheme: src.Scheme, Host: src.Host, RawQuery: src.RawQuery}
		return bucket.String(), key, nil
	}
}

func (f *Fetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	bucketURL, key, err := SplitLocation(src)
	if err != nil {
		return err
	}
	bucket, err := f.open(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("error opening bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("object %s not found in %s: %w", key, bucketURL, err)
		}
		return fmt.Errorf("error reading attributes of %s: %w", key, err)
	}
	reader, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", key, err)
	}
	defer reader.Close()

	written, err := utils.CopyWithProgress(ctx, reader, dst, attrs.Size, progress)
	if err != nil {
		return err
	}
	if written != attrs.Size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", attrs.Size, written)
	}
	log.Debug().Str("op", "blob/fetcher").Msgf("Fetched %s from %s", key, bucketURL)
	return nil
}
