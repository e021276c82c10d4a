package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/locsim/ddfetch/internal/catalog"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var platform, version string
	var image, signature, trustcache, manifest string

	cmd := &cobra.Command{
		Use:   "add --version VERSION --image FILE (--signature FILE | --trustcache FILE --manifest FILE) [--os OS]",
		Short: "Add a DeveloperDiskImage from local files",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			files, err := localSet(image, signature, trustcache, manifest)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if err := storeSet(newCatalog().Dir, platform, version, files); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Added %s %s", platform, version))
		},
	}

	cmd.Flags().StringVar(&platform, "os", "iPhone OS", "Platform name")
	cmd.Flags().StringVarP(&version, "version", "v", "", "Version the files belong to (eg. 16.4)")
	cmd.Flags().StringVarP(&image, "image", "i", "", "DeveloperDiskImage.dmg file")
	cmd.Flags().StringVarP(&signature, "signature", "s", "", "DeveloperDiskImage.dmg.signature file")
	cmd.Flags().StringVar(&trustcache, "trustcache", "", "Trustcache file of a personalized image")
	cmd.Flags().StringVar(&manifest, "manifest", "", "BuildManifest.plist of a personalized image")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("image")
	return cmd
}

// localSet checks that the given files form a normal or a personalized set.
func localSet(image, signature, trustcache, manifest string) (map[catalog.FileType]string, error) {
	if image == "" {
		return nil, errors.New("an image file is required")
	}
	personalized := trustcache != "" || manifest != ""
	switch {
	case signature != "" && personalized:
		return nil, errors.New("use either --signature or --trustcache with --manifest, not both")
	case signature != "":
		return map[catalog.FileType]string{catalog.Image: image, catalog.Signature: signature}, nil
	case trustcache != "" && manifest != "":
		return map[catalog.FileType]string{catalog.Image: image, catalog.Trustcache: trustcache, catalog.BuildManifest: manifest}, nil
	case personalized:
		return nil, errors.New("a personalized image needs both --trustcache and --manifest")
	}
	return nil, errors.New("--signature, or --trustcache with --manifest, is required")
}

// storeSet copies every file into the version directory. If one copy fails
// the version is put back as it was.
func storeSet(dir catalog.SupportDir, platform, version string, files map[catalog.FileType]string) error {
	for _, src := range files {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", src, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", src)
		}
	}
	backup, err := dir.Backup(platform, version)
	if err != nil {
		return err
	}
	for _, kind := range []catalog.FileType{catalog.Image, catalog.Signature, catalog.Trustcache, catalog.BuildManifest} {
		src, ok := files[kind]
		if !ok {
			continue
		}
		if err := dir.Store(platform, version, kind, src); err != nil {
			if restoreErr := backup.Restore(); restoreErr != nil {
				log.Error().Str("op", "cmd/add").Err(restoreErr).Msgf("Could not restore %s %s", platform, version)
			}
			return err
		}
	}
	return backup.Discard()
}
