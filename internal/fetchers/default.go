package fetchers

import (
	blobfetch "github.com/locsim/ddfetch/internal/fetchers/blob"
	"github.com/locsim/ddfetch/internal/fetchers/gdrive"
	"github.com/locsim/ddfetch/internal/fetchers/gitrepo"
	ddhttp "github.com/locsim/ddfetch/internal/fetchers/http"
	"github.com/locsim/ddfetch/internal/fetchers/s3"
	"github.com/locsim/ddfetch/internal/utils"
)

type Options struct {
	HTTP   utils.HTTPClientConfig
	S3     s3.Options
	GDrive gdrive.Options
	Git    gitrepo.Options
}

// Default registers every built-in transport.
func Default(opts Options) *Registry {
	r := NewRegistry()
	r.Register(ddhttp.NewFetcher(opts.HTTP), "http", "https")
	r.Register(s3.NewFetcher(opts.S3), "s3")
	r.Register(blobfetch.NewFetcher(), "gs", "file")
	opts.GDrive.HTTP = opts.HTTP
	r.Register(gdrive.NewFetcher(opts.GDrive), "gdrive")
	r.Register(gitrepo.NewFetcher(opts.Git), "git+https", "git+http", "git+file")
	return r
}
