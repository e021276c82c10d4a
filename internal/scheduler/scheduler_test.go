package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/utils"
)

// countingFetcher records how many transfers run at once.
type countingFetcher struct {
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context, src *url.URL, dst string, progress utils.ProgressFunc) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if src.Host == "broken" {
		return errors.New("connection refused")
	}
	progress(1, 1)
	return os.WriteFile(dst, []byte(src.Path), 0644)
}

type resolver struct{ f utils.Fetcher }

func (r resolver) Resolve(*url.URL) (utils.Fetcher, error) { return r.f, nil }

func job(dir, name, host string) Job {
	return Job{
		Name: name,
		Build: func(opts group.Options) (*group.Group, error) {
			task, err := group.NewTask("DevDisk", "fake://"+host+"/"+name, filepath.Join(dir, name, "DeveloperDiskImage.dmg"), "")
			if err != nil {
				return nil, err
			}
			return group.New([]*group.Task{task}, opts)
		},
	}
}

func TestRunJoinsFailures(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	display := output.NewManager(&buf)
	var mu sync.Mutex
	finished := map[string]group.State{}
	delegate := group.DelegateFuncs{OnGroupFinished: func(g *group.Group, state group.State, err error) {
		mu.Lock()
		finished[g.Name] = state
		mu.Unlock()
	}}

	jobs := []Job{
		job(dir, "16.4", "ok"),
		job(dir, "17.0", "broken"),
		job(dir, "15.0", "ok"),
		{Name: "bad", Build: func(group.Options) (*group.Group, error) { return nil, errors.New("no links") }},
	}
	err := Run(context.Background(), jobs, Options{Workers: 2, Resolver: resolver{&countingFetcher{}}, Display: display, Delegate: delegate})
	if err == nil {
		t.Fatal("expected joined error")
	}
	for _, want := range []string{"17.0", "connection refused", "bad: no links"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q is missing %q", err, want)
		}
	}
	if strings.Contains(err.Error(), "16.4") {
		t.Errorf("successful group reported as error: %v", err)
	}
	if finished["16.4"] != group.StateSucceeded || finished["17.0"] != group.StateFailed {
		t.Errorf("unexpected outcomes %v", finished)
	}
	if _, err := os.Stat(filepath.Join(dir, "15.0", "DeveloperDiskImage.dmg")); err != nil {
		t.Errorf("expected 15.0 image: %v", err)
	}
	if !strings.Contains(buf.String(), "Completed 2 of 3") {
		t.Errorf("unexpected summary:\n%s", buf.String())
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	dir := t.TempDir()
	f := &countingFetcher{release: make(chan struct{})}
	var jobs []Job
	for i := range 5 {
		jobs = append(jobs, job(dir, fmt.Sprintf("1%d.0", i), "ok"))
	}
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), jobs, Options{Workers: 2, Resolver: resolver{f}}) }()
	for range jobs {
		f.release <- struct{}{}
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak := f.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent groups, saw %d", peak)
	}
}

func TestRunCanceledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	var mu sync.Mutex
	finished := map[string]group.State{}
	delegate := group.DelegateFuncs{OnGroupFinished: func(g *group.Group, state group.State, err error) {
		mu.Lock()
		finished[g.Name] = state
		mu.Unlock()
	}}
	err := Run(ctx, []Job{job(dir, "16.4", "ok"), job(dir, "17.0", "ok")}, Options{
		Workers:  1,
		Resolver: resolver{&countingFetcher{}},
		Display:  output.NewManager(&buf),
		Delegate: delegate,
	})
	if !errors.Is(err, group.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "16.4")); !os.IsNotExist(statErr) {
		t.Error("no group should have started")
	}
	if finished["16.4"] != group.StateCanceled || finished["17.0"] != group.StateCanceled {
		t.Errorf("skipped groups should be reported canceled, got %v", finished)
	}
	summary := buf.String()
	if !strings.Contains(summary, "Completed 0 of 2") || !strings.Contains(summary, "Canceled 2 of 2") {
		t.Errorf("unexpected summary:\n%s", summary)
	}
}
