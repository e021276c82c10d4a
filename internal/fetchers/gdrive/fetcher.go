package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	ddhttp "github.com/locsim/ddfetch/internal/fetchers/http"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	driveAPIURL = "https://www.googleapis.com/drive/v3/files"
	driveScope  = "https://www.googleapis.com/auth/drive.readonly"
)

type Options struct {
	// CredentialsFile is a service account or authorized user JSON file.
	CredentialsFile string
	APIKey          string
	HTTP            utils.HTTPClientConfig
	// BaseURL overrides the Drive files endpoint.
	BaseURL string
}

// Fetcher downloads gdrive://FILE_ID sources through the Drive v3 API.
type Fetcher struct {
	opts Options
	base utils.HTTPDoer

	once   sync.Once
	tokens oauth2.TokenSource
	err    error
}

func NewFetcher(opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = driveAPIURL
	}
	return &Fetcher{opts: opts, base: utils.NewHTTPClient(opts.HTTP)}
}

// NewFetcherWithTokens authorizes requests with an existing token source.
func NewFetcherWithTokens(opts Options, base utils.HTTPDoer, tokens oauth2.TokenSource) *Fetcher {
	f := NewFetcher(opts)
	f.base = base
	f.tokens = tokens
	f.once.Do(func() {})
	return f
}

// FileID extracts the Drive file identifier from gdrive://ID or gdrive:ID.
func FileID(src *url.URL) (string, error) {
	id := src.Host
	if id == "" {
		id = strings.Trim(src.Path, "/")
	}
	if id == "" {
		id = src.Opaque
	}
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("unable to extract file ID from %s", src.String())
	}
	return id, nil
}

// MediaURL is the alt=media download link for a file.
func (f *Fetcher) MediaURL(fileID string) string {
	q := url.Values{}
	q.Set("alt", "media")
	if f.tokens == nil && f.opts.APIKey != "" {
		q.Set("key", f.opts.APIKey)
	}
	return fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(f.opts.BaseURL, "/"), url.PathEscape(fileID), q.Encode())
}

func (f *Fetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	fileID, err := FileID(src)
	if err != nil {
		return err
	}
	if err := f.authorize(ctx); err != nil {
		return err
	}
	var client utils.HTTPDoer = f.base
	if f.tokens != nil {
		client = &bearerDoer{base: f.base, tokens: f.tokens}
	}
	log.Debug().Str("op", "gdrive/fetcher").Msgf("Fetching drive file %s", fileID)
	return ddhttp.NewFetcherWithClient(client).Get(ctx, f.MediaURL(fileID), dst, progress)
}

func (f *Fetcher) authorize(ctx context.Context) error {
	f.once.Do(func() {
		if f.opts.CredentialsFile == "" {
			if f.opts.APIKey == "" {
				f.err = errors.New("either gdrive credentials or an API key must be configured")
			}
			return
		}
		b, err := os.ReadFile(f.opts.CredentialsFile)
		if err != nil {
			f.err = fmt.Errorf("unable to read credentials file: %w", err)
			return
		}
		log.Debug().Str("op", "gdrive/fetcher").Msgf("Using credentials from %s", f.opts.CredentialsFile)
		// The token source outlives the first fetch, so it must not be tied to ctx.
		creds, err := google.CredentialsFromJSON(context.WithoutCancel(ctx), b, driveScope)
		if err != nil {
			f.err = fmt.Errorf("unable to parse credentials file: %w", err)
			return
		}
		f.tokens = creds.TokenSource
	})
	return f.err
}

// bearerDoer adds an OAuth access token on top of the configured client.
type bearerDoer struct {
	base   utils.HTTPDoer
	tokens oauth2.TokenSource
}

func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	token, err := d.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("error getting OAuth token: %w", err)
	}
	token.SetAuthHeader(req)
	return d.base.Do(req)
}
