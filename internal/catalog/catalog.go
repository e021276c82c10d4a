package catalog

import (
	"fmt"
	"net/url"
	"os"
	"slices"

	"github.com/locsim/ddfetch/internal/group"
)

// Task identifiers of the support files in a download group.
const (
	TaskImage         = "DevDisk"
	TaskSignature     = "DevSign"
	TaskTrustcache    = "DevTrust"
	TaskBuildManifest = "DevManifest"
	TaskDefinitions   = "Definitions"
)

var taskIDs = map[FileType]string{
	Image:         TaskImage,
	Signature:     TaskSignature,
	Trustcache:    TaskTrustcache,
	BuildManifest: TaskBuildManifest,
}

var taskDescriptions = map[FileType]string{
	Image:         "DeveloperDiskImage",
	Signature:     "DeveloperDiskImage signature",
	Trustcache:    "DeveloperDiskImage trustcache",
	BuildManifest: "Build manifest",
}

type Catalog struct {
	Dir         SupportDir
	Definitions Definitions
	// DefinitionsPath overrides the definitions file inside Dir.
	DefinitionsPath string
}

func (c *Catalog) definitionsPath() string {
	if c.DefinitionsPath != "" {
		return c.DefinitionsPath
	}
	return c.Dir.DefinitionsFile()
}

// HasDefinitions reports whether a definitions file is present.
func (c *Catalog) HasDefinitions() bool {
	info, err := os.Stat(c.definitionsPath())
	return err == nil && !info.IsDir()
}

// BuildGroup creates the download group for one platform version.
func (c *Catalog) BuildGroup(platform, version string, opts group.Options) (*group.Group, error) {
	if err := CheckLocation(platform, version); err != nil {
		return nil, err
	}
	links, err := Select(c.Definitions.Resolve(platform, version))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", platform, version, err)
	}
	tasks := make([]*group.Task, 0, len(links))
	for _, link := range links {
		task, err := group.NewTask(taskIDs[link.Type], link.URL.String(), c.Dir.Path(platform, version, link.Type), taskDescriptions[link.Type])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("%s %s", platform, version)
	}
	return group.New(tasks, opts)
}

// DefinitionsGroup refreshes the definitions file from source.
func (c *Catalog) DefinitionsGroup(source *url.URL, opts group.Options) (*group.Group, error) {
	task, err := group.NewTask(TaskDefinitions, source.String(), c.definitionsPath(), "Download definitions")
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = DefinitionsFileName
	}
	return group.New([]*group.Task{task}, opts)
}

// Versions lists the versions a platform has explicit links for, newest first.
func (c *Catalog) Versions(platform string) []string {
	var versions []string
	for version := range c.Definitions[platform] {
		if version != FallbackVersion {
			versions = append(versions, version)
		}
	}
	slices.SortFunc(versions, func(a, b string) int { return CompareVersions(b, a) })
	return versions
}

// Reload reads the definitions file from the support directory.
func (c *Catalog) Reload() error {
	defs, err := LoadDefinitions(c.definitionsPath())
	if err != nil {
		return err
	}
	c.Definitions = defs
	return nil
}
