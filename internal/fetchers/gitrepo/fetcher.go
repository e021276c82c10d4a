package gitrepo

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Token authenticates https clones.
	Token string
	// Depth limits the commits fetched; 0 fetches the full history.
	Depth int
}

// Location is a single file inside a git repository, written as
// git+https://host/owner/repo.git?ref=main#path/in/repo.
type Location struct {
	RepoURL string
	Ref     string
	Path    string
}

func ParseLocation(src *url.URL) (Location, error) {
	scheme, ok := strings.CutPrefix(src.Scheme, "git+")
	if !ok || scheme == "" {
		return Location{}, fmt.Errorf("not a git source: %s", src.Redacted())
	}
	file := strings.Trim(path.Clean("/"+src.Fragment), "/")
	if src.Fragment == "" || file == "" {
		return Location{}, fmt.Errorf("git source %s names no file", src.Redacted())
	}
	repo := *src
	repo.Scheme = scheme
	repo.Fragment = ""
	repo.RawFragment = ""
	q := repo.Query()
	ref := q.Get("ref")
	q.Del("ref")
	repo.RawQuery = q.Encode()
	return Location{RepoURL: repo.String(), Ref: ref, Path: file}, nil
}

// ReferenceName maps a ref to a branch unless it is fully qualified.
func (l Location) ReferenceName() plumbing.ReferenceName {
	if l.Ref == "" {
		return ""
	}
	if strings.HasPrefix(l.Ref, "refs/") {
		return plumbing.ReferenceName(l.Ref)
	}
	return plumbing.NewBranchReferenceName(l.Ref)
}

// Redacted is RepoURL with any password replaced, for logs and errors.
func (l Location) Redacted() string {
	u, err := url.Parse(l.RepoURL)
	if err != nil {
		return l.RepoURL
	}
	return u.Redacted()
}

// Fetcher extracts one file from an in-memory clone of a repository.
type Fetcher struct {
	opts Options
}

func NewFetcher(opts Options) *Fetcher {
	return &Fetcher{opts: opts}
}

func (f *Fetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	loc, err := ParseLocation(src)
	if err != nil {
		return err
	}
	cloneOptions := &git.CloneOptions{
		URL:           loc.RepoURL,
		ReferenceName: loc.ReferenceName(),
		SingleBranch:  true,
		Depth:         f.opts.Depth,
		Auth:          authMethod(loc.RepoURL, f.opts.Token),
	}
	log.Debug().Str("op", "gitrepo/fetcher").Msgf("Cloning %s (ref %q)", loc.Redacted(), loc.Ref)
	fs := memfs.New()
	if _, err := git.CloneContext(ctx, memory.NewStorage(), fs, cloneOptions); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}

	info, err := fs.Stat(loc.Path)
	if err != nil {
		return fmt.Errorf("file %s not found in %s: %w", loc.Path, loc.Redacted(), err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s in %s is a directory", loc.Path, loc.Redacted())
	}
	file, err := fs.Open(loc.Path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", loc.Path, err)
	}
	defer file.Close()
	if _, err := utils.CopyWithProgress(ctx, file, dst, info.Size(), progress); err != nil {
		return err
	}
	log.Debug().Str("op", "gitrepo/fetcher").Msgf("Extracted %s (%s)", loc.Path, utils.FormatBytes(uint64(info.Size())))
	return nil
}

func authMethod(repoURL, token string) transport.AuthMethod {
	if token == "" || !strings.HasPrefix(repoURL, "http") {
		return nil
	}
	if strings.Contains(repoURL, "bitbucket.org") {
		return &githttp.BasicAuth{Username: "x-token-auth", Password: token}
	}
	return &githttp.BasicAuth{Username: "oauth2", Password: token}
}
