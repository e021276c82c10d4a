package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/locsim/ddfetch/internal/catalog"
	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var platform string
	var versions []string
	var updateDefinitions bool
	var force bool

	cmd := &cobra.Command{
		Use:   "fetch --version VERSION [--os OS] [--update-definitions] [--force]",
		Short: "Download the DeveloperDiskImage files for one or more versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			c := newCatalog()
			if updateDefinitions || !c.HasDefinitions() {
				if err := refreshDefinitions(c); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
			}
			if err := c.Reload(); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			var jobs []scheduler.Job
			backups := refreshBackups{}
			for _, version := range versions {
				if err := catalog.CheckLocation(platform, version); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
				name := fmt.Sprintf("%s %s", platform, version)
				if c.Dir.IsDownloaded(platform, version) {
					if !force {
						output.PrintInfo(fmt.Sprintf("%s is already downloaded (use --force to replace it)", name))
						continue
					}
					backup, err := c.Dir.Backup(platform, version)
					if err != nil {
						output.PrintError(err.Error())
						os.Exit(1)
					}
					backups[name] = backup
				}
				jobs = append(jobs, scheduler.Job{
					Name: name,
					Build: func(opts group.Options) (*group.Group, error) {
						return c.BuildGroup(platform, version, opts)
					},
				})
			}
			if len(jobs) == 0 {
				return
			}
			err := runJobs(jobs, backups.delegate())
			backups.discardAll()
			if errors.Is(err, catalog.ErrNoDownloadLinks) {
				output.PrintWarning("Some versions have no download links; try --update-definitions")
			}
			exitOnFailure(err)
		},
	}

	cmd.Flags().StringVar(&platform, "os", "iPhone OS", "Platform name as used in the definitions file")
	cmd.Flags().StringSliceVarP(&versions, "version", "v", nil, "Version(s) to download (eg. 16.4); can be repeated")
	cmd.Flags().BoolVarP(&updateDefinitions, "update-definitions", "u", false, "Download the definitions file before resolving links")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download even when the files are already present")
	cmd.MarkFlagRequired("version")
	return cmd
}

// refreshDefinitions replaces the definitions file from definitions_url.
func refreshDefinitions(c *catalog.Catalog) error {
	if cfg.DefinitionsURL == "" {
		return errors.New("no definitions file found and no definitions_url configured")
	}
	source, err := url.Parse(cfg.DefinitionsURL)
	if err != nil {
		return fmt.Errorf("invalid definitions_url: %w", err)
	}
	log.Info().Str("op", "cmd/fetch").Msgf("Updating download definitions from %s", source.Redacted())
	job := scheduler.Job{
		Name: catalog.DefinitionsFileName,
		Build: func(opts group.Options) (*group.Group, error) {
			return c.DefinitionsGroup(source, opts)
		},
	}
	if err := runJobs([]scheduler.Job{job}); err != nil {
		return fmt.Errorf("error updating download definitions: %w", err)
	}
	return nil
}

// refreshBackups holds the previous files of versions downloaded again with
// --force, keyed by group name.
type refreshBackups map[string]*catalog.Backup

func (r refreshBackups) delegate() group.Delegate {
	return group.DelegateFuncs{OnGroupFinished: func(g *group.Group, state group.State, err error) {
		r.settle(g.Name, state)
	}}
}

// settle keeps the new files of a succeeded group and puts the old ones
// back otherwise.
func (r refreshBackups) settle(name string, state group.State) {
	backup, ok := r[name]
	if !ok {
		return
	}
	delete(r, name)
	if state == group.StateSucceeded {
		if err := backup.Discard(); err != nil {
			log.Warn().Str("op", "cmd/fetch").Err(err).Msgf("Could not remove backup of %s", name)
		}
		return
	}
	if err := backup.Restore(); err != nil {
		output.PrintError(fmt.Sprintf("Could not restore the previous files of %s: %v", name, err))
		return
	}
	output.PrintWarning(fmt.Sprintf("Restored the previous files of %s", name))
}

// discardAll drops backups of groups that never ran.
func (r refreshBackups) discardAll() {
	for name, backup := range r {
		backup.Discard()
		delete(r, name)
	}
}
