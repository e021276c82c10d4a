package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileType names a support file kind as used in the definitions file.
type FileType string

const (
	Image         FileType = "Image"
	Signature     FileType = "Signature"
	Trustcache    FileType = "Trustcache"
	BuildManifest FileType = "BuildManifest"
)

// FallbackVersion holds link templates used for every version of a platform.
const FallbackVersion = "Fallback"

var ErrNoDownloadLinks = errors.New("no download links")

// Definitions maps platform -> version -> file type -> links.
type Definitions map[string]map[string]map[FileType][]string

func ParseDefinitions(data []byte) (Definitions, error) {
	var defs Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("error parsing download definitions: %w", err)
	}
	return defs, nil
}

func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("download definitions not found: %w", err)
	}
	return ParseDefinitions(data)
}

// Resolve returns the links for a version followed by the platform's
// fallback links formatted with that version. Links that do not parse are
// skipped.
func (d Definitions) Resolve(platform, version string) map[FileType][]*url.URL {
	entries := d[platform]
	merged := make(map[FileType][]string)
	for kind, links := range entries[version] {
		merged[kind] = append(merged[kind], links...)
	}
	for kind, templates := range entries[FallbackVersion] {
		for _, tmpl := range templates {
			merged[kind] = append(merged[kind], formatTemplate(tmpl, version))
		}
	}

	resolved := make(map[FileType][]*url.URL, len(merged))
	for kind, links := range merged {
		for _, link := range links {
			u, err := url.Parse(link)
			if err != nil || u.Scheme == "" {
				log.Warn().Str("op", "catalog/definitions").Msgf("Skipping invalid %s link %q", kind, link)
				continue
			}
			resolved[kind] = append(resolved[kind], u)
		}
	}
	if len(resolved) == 0 {
		log.Error().Str("op", "catalog/definitions").Msgf("No download links for %s %s", platform, version)
	}
	return resolved
}

func formatTemplate(tmpl, version string) string {
	return strings.NewReplacer("%@", version, "%s", version).Replace(tmpl)
}

// Link is the source chosen for one support file.
type Link struct {
	Type FileType
	URL  *url.URL
}

// NormalSet and PersonalizedSet are the two complete kinds of image.
var (
	NormalSet       = []FileType{Image, Signature}
	PersonalizedSet = []FileType{Image, Trustcache, BuildManifest}
)

// Select picks the first link of each file type, preferring the normal set
// over the personalized one.
func Select(links map[FileType][]*url.URL) ([]Link, error) {
	for _, set := range [][]FileType{NormalSet, PersonalizedSet} {
		if chosen, ok := pick(links, set); ok {
			return chosen, nil
		}
	}
	return nil, ErrNoDownloadLinks
}

func pick(links map[FileType][]*url.URL, set []FileType) ([]Link, bool) {
	chosen := make([]Link, 0, len(set))
	for _, kind := range set {
		if len(links[kind]) == 0 {
			return nil, false
		}
		chosen = append(chosen, Link{Type: kind, URL: links[kind][0]})
	}
	return chosen, true
}
