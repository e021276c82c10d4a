package s3

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Profile string
	Region  string
	// Concurrency is the number of parts fetched in parallel.
	Concurrency int
}

// Fetcher downloads s3://bucket/key sources.
type Fetcher struct {
	opts Options

	once   sync.Once
	client *s3.Client
	err    error
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = manager.DefaultDownloadConcurrency
	}
	return &Fetcher{opts: opts}
}

func (f *Fetcher) getClient(ctx context.Context) (*s3.Client, error) {
	f.once.Do(func() {
		// Failed transfers are reported, never retried.
		loaders := []func(*config.LoadOptions) error{
			config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		}
		if f.opts.Profile != "" {
			loaders = append(loaders, config.WithSharedConfigProfile(f.opts.Profile))
		}
		if f.opts.Region != "" {
			loaders = append(loaders, config.WithRegion(f.opts.Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loaders...)
		if err != nil {
			f.err = fmt.Errorf("error loading AWS config: %w", err)
			return
		}
		f.client = s3.NewFromConfig(cfg)
	})
	return f.client, f.err
}

// ParseLocation splits s3://bucket/key.
func ParseLocation(src *url.URL) (bucket, key string, err error) {
	if src.Scheme != "s3" {
		return "", "", fmt.Errorf("unsupported scheme: %s", src.Scheme)
	}
	bucket = src.Host
	key = strings.TrimPrefix(src.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("invalid S3 object location: %s", src.String())
	}
	return bucket, key, nil
}

func (f *Fetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	bucket, key, err := ParseLocation(src)
	if err != nil {
		return err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error accessing S3 object: %w", err)
	}
	size := aws.ToInt64(head.ContentLength)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %w", err)
	}
	file, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	defer file.Close()

	log.Debug().Str("op", "s3/fetcher").Msgf("Downloading s3://%s/%s (%s)", bucket, key, utils.FormatBytes(uint64(size)))
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = f.opts.Concurrency
	})
	w := &progressWriterAt{w: file, total: size, progress: progress}
	n, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error downloading object: %w", err)
	}
	if size > 0 && n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	return file.Sync()
}

// progressWriterAt counts bytes written by the concurrent part downloads.
type progressWriterAt struct {
	w        interface{ WriteAt([]byte, int64) (int, error) }
	total    int64
	written  atomic.Int64
	progress utils.ProgressFunc
}

func (p *progressWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	if n > 0 && p.progress != nil {
		p.progress(p.written.Add(int64(n)), p.total)
	}
	return n, err
}
