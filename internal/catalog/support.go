package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

const DefinitionsFileName = "DeveloperDiskImages.json"

var versionPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// ErrInvalidLocation rejects a platform or version that is not a plain
// directory name below the support root.
var ErrInvalidLocation = errors.New("invalid platform or version")

func checkPlatform(platform string) error {
	if platform == "" || platform == "." || strings.Contains(platform, "..") || strings.ContainsAny(platform, `/\`) {
		return fmt.Errorf("%w: platform %q", ErrInvalidLocation, platform)
	}
	return nil
}

// CheckLocation verifies that platform and version name a directory inside
// the support tree.
func CheckLocation(platform, version string) error {
	if err := checkPlatform(platform); err != nil {
		return err
	}
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("%w: version %q", ErrInvalidLocation, version)
	}
	return nil
}

// FileName is the on-disk name of a support file.
func FileName(kind FileType) string {
	switch kind {
	case Image:
		return "DeveloperDiskImage.dmg"
	case Signature:
		return "DeveloperDiskImage.dmg.signature"
	case Trustcache:
		return "DeveloperDiskImage.dmg.trustcache"
	case BuildManifest:
		return "BuildManifest.plist"
	}
	return ""
}

// SupportDir is the directory tree holding downloaded images as
// <root>/<platform>/<version>/<file>.
type SupportDir struct {
	Root string
}

func (s SupportDir) DefinitionsFile() string {
	return filepath.Join(s.Root, DefinitionsFileName)
}

// VersionDir joins without validation; callers that write or delete check
// the names with CheckLocation first.
func (s SupportDir) VersionDir(platform, version string) string {
	return filepath.Join(s.Root, platform, version)
}

func (s SupportDir) Path(platform, version string, kind FileType) string {
	return filepath.Join(s.VersionDir(platform, version), FileName(kind))
}

func (s SupportDir) Has(platform, version string, kind FileType) bool {
	info, err := os.Stat(s.Path(platform, version, kind))
	return err == nil && !info.IsDir()
}

// IsDownloaded reports whether a complete normal or personalized set exists.
func (s SupportDir) IsDownloaded(platform, version string) bool {
	for _, set := range [][]FileType{NormalSet, PersonalizedSet} {
		complete := true
		for _, kind := range set {
			if !s.Has(platform, version, kind) {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}

// AvailableVersions lists the downloaded versions of a platform, newest first.
func (s SupportDir) AvailableVersions(platform string) ([]string, error) {
	if err := checkPlatform(platform); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.Root, platform))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading support directory: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || !versionPattern.MatchString(name) {
			continue
		}
		if s.IsDownloaded(platform, name) {
			versions = append(versions, name)
		}
	}
	slices.SortFunc(versions, func(a, b string) int { return CompareVersions(b, a) })
	return versions, nil
}

// Remove deletes every support file of a version.
func (s SupportDir) Remove(platform, version string) error {
	if err := CheckLocation(platform, version); err != nil {
		return err
	}
	dir := s.VersionDir(platform, version)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no support files for %s %s: %w", platform, version, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("error removing %s: %w", dir, err)
	}
	log.Info().Str("op", "catalog/support").Msgf("Removed %s %s", platform, version)
	return nil
}

// Store copies a local file into the support tree as the given kind,
// replacing a file that is already there.
func (s SupportDir) Store(platform, version string, kind FileType, src string) error {
	if err := CheckLocation(platform, version); err != nil {
		return err
	}
	if FileName(kind) == "" {
		return fmt.Errorf("unknown support file type %q", kind)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("error reading %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	dst := s.Path(platform, version, kind)
	tempPath := utils.TempPath(dst)
	if _, err := utils.CopyWithProgress(context.Background(), in, tempPath, info.Size(), nil); err != nil {
		os.Remove(tempPath)
		return err
	}
	defer utils.RemoveTempDir(dst)
	if err := os.RemoveAll(dst); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("error replacing %s: %w", dst, err)
	}
	if err := os.Rename(tempPath, dst); err != nil {
		return fmt.Errorf("error storing %s: %w", dst, err)
	}
	log.Info().Str("op", "catalog/support").Msgf("Stored %s as %s", src, dst)
	return nil
}

// CompareVersions orders dotted numeric versions, so 16.10 sorts after 16.4.
func CompareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			return x - y
		}
	}
	return 0
}
