package fetchers

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/locsim/ddfetch/internal/utils"
)

var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Registry maps URI schemes to fetchers.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]utils.Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]utils.Fetcher)}
}

// Register binds fetcher to each scheme, replacing earlier registrations.
func (r *Registry) Register(fetcher utils.Fetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.fetchers[strings.ToLower(scheme)] = fetcher
	}
}

func (r *Registry) Resolve(src *url.URL) (utils.Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.fetchers[strings.ToLower(src.Scheme)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, src.Scheme)
}

// Schemes lists the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.fetchers))
	for scheme := range r.fetchers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
