package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/locsim/ddfetch/internal/catalog"
	"github.com/locsim/ddfetch/internal/config"
	"github.com/locsim/ddfetch/internal/fetchers"
	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/utils"
)

type nopResolver struct{}

func (nopResolver) Resolve(*url.URL) (utils.Fetcher, error) { return nopFetcher{}, nil }

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, *url.URL, string, utils.ProgressFunc) error { return nil }

func TestPairTasks(t *testing.T) {
	tasks, err := pairTasks([]string{
		"https://mirror.example/a/DeveloperDiskImage.dmg", "/tmp/a/DeveloperDiskImage.dmg",
		"https://mirror.example/b/DeveloperDiskImage.dmg", "/tmp/b/DeveloperDiskImage.dmg",
		"s3://bucket/sig", "/tmp/a/DeveloperDiskImage.dmg.signature",
	})
	if err != nil {
		t.Fatalf("pairTasks: %v", err)
	}
	want := []string{"DeveloperDiskImage.dmg", "DeveloperDiskImage.dmg-2", "DeveloperDiskImage.dmg.signature"}
	for i, task := range tasks {
		if task.ID != want[i] {
			t.Errorf("task %d: got ID %q, want %q", i, task.ID, want[i])
		}
	}
	if _, err := pairTasks([]string{"no-scheme", "/tmp/x"}); err == nil {
		t.Error("expected error for a source without scheme")
	}
}

func TestBatchFile(t *testing.T) {
	content := `
iPhone OS 16.4:
  - id: DevDisk
    link: https://mirror.example/16.4/DeveloperDiskImage.dmg
    op: /srv/ddi/16.4/DeveloperDiskImage.dmg
  - link: https://mirror.example/16.4/DeveloperDiskImage.dmg.signature
    op: /srv/ddi/16.4/DeveloperDiskImage.dmg.signature
    description: Signature
empty: []
Apple TVOS 16.0:
  - link: s3://mirror/tv/16.0/DeveloperDiskImage.dmg
    op: /srv/ddi/tv/16.0/DeveloperDiskImage.dmg
`
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	batchFile, err := readBatchFile(path)
	if err != nil {
		t.Fatalf("readBatchFile: %v", err)
	}
	jobs := buildJobsFromBatch(batchFile)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name != "Apple TVOS 16.0" || jobs[1].Name != "iPhone OS 16.4" {
		t.Errorf("jobs not sorted by name: %q %q", jobs[0].Name, jobs[1].Name)
	}

	g, err := jobs[1].Build(group.Options{Name: jobs[1].Name, Resolver: nopResolver{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tasks := g.Tasks()
	if len(tasks) != 2 || tasks[0].ID != "DevDisk" || tasks[1].ID != "iPhone OS 16.4-2" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[1].Label() != "Signature" {
		t.Errorf("unexpected label %q", tasks[1].Label())
	}
}

func TestReadBatchFileErrors(t *testing.T) {
	if _, err := readBatchFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("group: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readBatchFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// refresh downloads 16.4 again: the image is served, the signature is not.
func refresh(t *testing.T, dir catalog.SupportDir, signatureStatus int) error {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img":
			w.Write([]byte("new image"))
		case "/sig":
			w.WriteHeader(signatureStatus)
			w.Write([]byte("new signature"))
		}
	}))
	defer srv.Close()

	const platform, version = "iPhone OS", "16.4"
	name := platform + " " + version
	backup, err := dir.Backup(platform, version)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	backups := refreshBackups{name: backup}

	image, err := group.NewTask(catalog.TaskImage, srv.URL+"/img", dir.Path(platform, version, catalog.Image), "")
	if err != nil {
		t.Fatal(err)
	}
	signature, err := group.NewTask(catalog.TaskSignature, srv.URL+"/sig", dir.Path(platform, version, catalog.Signature), "")
	if err != nil {
		t.Fatal(err)
	}
	g, err := group.New([]*group.Task{image, signature}, group.Options{
		Name:     name,
		Resolver: fetchers.Default(fetchers.Options{}),
		Delegate: backups.delegate(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = g.Wait(ctx)
	if len(backups) != 0 {
		t.Errorf("backup of %s was not settled", name)
	}
	return err
}

func TestForcedRefreshRestoresOnFailure(t *testing.T) {
	dir := catalog.SupportDir{Root: t.TempDir()}
	imagePath := dir.Path("iPhone OS", "16.4", catalog.Image)
	signaturePath := dir.Path("iPhone OS", "16.4", catalog.Signature)
	writeTestFile(t, imagePath, "old image")
	writeTestFile(t, signaturePath, "old signature")

	if err := refresh(t, dir, http.StatusNotFound); err == nil {
		t.Fatal("expected the refresh to fail")
	}
	if got := readTestFile(t, imagePath); got != "old image" {
		t.Errorf("image should be restored, got %q", got)
	}
	if got := readTestFile(t, signaturePath); got != "old signature" {
		t.Errorf("signature should be restored, got %q", got)
	}

	if err := refresh(t, dir, http.StatusOK); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := readTestFile(t, imagePath); got != "new image" {
		t.Errorf("image should be replaced, got %q", got)
	}
	if got := readTestFile(t, signaturePath); got != "new signature" {
		t.Errorf("signature should be replaced, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(dir.Root, ".ddfetch-backup-*"))
	if len(matches) != 0 {
		t.Errorf("backups left behind: %v", matches)
	}
}

func TestLocalSet(t *testing.T) {
	tests := []struct {
		name                                   string
		image, signature, trustcache, manifest string
		want                                   int
	}{
		{"normal", "a.dmg", "a.sig", "", "", 2},
		{"personalized", "a.dmg", "", "a.tc", "m.plist", 3},
		{"no image", "", "a.sig", "", "", 0},
		{"image only", "a.dmg", "", "", "", 0},
		{"mixed", "a.dmg", "a.sig", "a.tc", "m.plist", 0},
		{"manifest missing", "a.dmg", "", "a.tc", "", 0},
	}
	for _, tt := range tests {
		files, err := localSet(tt.image, tt.signature, tt.trustcache, tt.manifest)
		if tt.want == 0 {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil || len(files) != tt.want {
			t.Errorf("%s: got %v, %v", tt.name, files, err)
		}
	}
}

func TestStoreSet(t *testing.T) {
	dir := catalog.SupportDir{Root: t.TempDir()}
	src := t.TempDir()
	image := filepath.Join(src, "DeveloperDiskImage.dmg")
	signature := filepath.Join(src, "DeveloperDiskImage.dmg.signature")
	writeTestFile(t, image, "image")
	writeTestFile(t, signature, "signature")

	files, err := localSet(image, signature, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := storeSet(dir, "iPhone OS", "16.4", files); err != nil {
		t.Fatalf("storeSet: %v", err)
	}
	if !dir.IsDownloaded("iPhone OS", "16.4") {
		t.Error("stored set should count as downloaded")
	}

	files[catalog.Signature] = filepath.Join(src, "missing")
	writeTestFile(t, image, "other image")
	if err := storeSet(dir, "iPhone OS", "16.4", files); err == nil {
		t.Fatal("expected error for a missing file")
	}
	if got := readTestFile(t, dir.Path("iPhone OS", "16.4", catalog.Image)); got != "image" {
		t.Errorf("existing image must be kept, got %q", got)
	}
	if err := storeSet(dir, "iPhone OS", "..", map[catalog.FileType]string{catalog.Image: image}); err == nil {
		t.Error("expected error for an invalid version")
	}
}

func TestNewCatalogUsesConfiguredDefinitions(t *testing.T) {
	saved := cfg
	defer func() { cfg = saved }()

	cfg = config.Default()
	cfg.SupportDir = t.TempDir()
	if newCatalog().HasDefinitions() {
		t.Fatal("empty support dir has no definitions")
	}
	writeTestFile(t, cfg.DefinitionsPath(), "{}")
	if !newCatalog().HasDefinitions() {
		t.Error("definitions in the support dir not found")
	}

	cfg.DefinitionsFile = filepath.Join(t.TempDir(), "custom.json")
	if newCatalog().HasDefinitions() {
		t.Error("definitions_file must take precedence over the support dir")
	}
	writeTestFile(t, cfg.DefinitionsFile, "{}")
	if !newCatalog().HasDefinitions() {
		t.Error("configured definitions file not found")
	}
}
