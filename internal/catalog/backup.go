package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

const backupDirPattern = ".ddfetch-backup-*"

var allFileTypes = []FileType{Image, Signature, Trustcache, BuildManifest}

// Backup is a copy of the support files of one version, taken before they
// are downloaded again.
type Backup struct {
	Platform string
	Version  string

	dir   string
	paths map[FileType]string
	saved map[FileType]bool
}

// Backup copies the existing support files of a version. Missing files are
// recorded as missing, so Restore removes them again.
func (s SupportDir) Backup(platform, version string) (*Backup, error) {
	if err := CheckLocation(platform, version); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return nil, fmt.Errorf("error creating support directory: %w", err)
	}
	dir, err := os.MkdirTemp(s.Root, backupDirPattern)
	if err != nil {
		return nil, fmt.Errorf("error creating backup directory: %w", err)
	}
	b := &Backup{
		Platform: platform,
		Version:  version,
		dir:      dir,
		paths:    make(map[FileType]string),
		saved:    make(map[FileType]bool),
	}
	for _, kind := range allFileTypes {
		b.paths[kind] = s.Path(platform, version, kind)
		if !s.Has(platform, version, kind) {
			continue
		}
		if err := copyFile(b.paths[kind], b.backupPath(kind)); err != nil {
			b.Discard()
			return nil, fmt.Errorf("error backing up %s: %w", b.paths[kind], err)
		}
		b.saved[kind] = true
	}
	log.Debug().Str("op", "catalog/backup").Msgf("Backed up %s %s to %s", platform, version, dir)
	return b, nil
}

func (b *Backup) backupPath(kind FileType) string {
	return filepath.Join(b.dir, FileName(kind))
}

// Restore puts the version back exactly as it was when the backup was
// taken and drops the backup.
func (b *Backup) Restore() error {
	for _, kind := range allFileTypes {
		original := b.paths[kind]
		if err := os.RemoveAll(original); err != nil {
			return fmt.Errorf("error restoring %s: %w", original, err)
		}
		if !b.saved[kind] {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(original), 0755); err != nil {
			return fmt.Errorf("error restoring %s: %w", original, err)
		}
		if err := os.Rename(b.backupPath(kind), original); err != nil {
			return fmt.Errorf("error restoring %s: %w", original, err)
		}
	}
	log.Info().Str("op", "catalog/backup").Msgf("Restored %s %s", b.Platform, b.Version)
	return b.Discard()
}

// Discard removes the backup copies.
func (b *Backup) Discard() error {
	return os.RemoveAll(b.dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	_, err = utils.CopyWithProgress(context.Background(), in, dst, info.Size(), nil)
	return err
}
