package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/locsim/ddfetch/internal/group"
	"github.com/locsim/ddfetch/internal/output"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

// Job describes a group that is built when the run begins.
type Job struct {
	Name  string
	Build func(opts group.Options) (*group.Group, error)
}

type Options struct {
	// Workers bounds the number of groups downloading at once.
	Workers  int
	Resolver group.Resolver
	// Display shows progress when set.
	Display *output.Manager
	// Delegate receives every callback after the display.
	Delegate group.Delegate
}

// Run builds every job, downloads the groups with a bounded number of
// workers and returns the joined errors of all groups that did not succeed.
// Canceling ctx cancels running groups and skips the ones not yet started.
func Run(ctx context.Context, jobs []Job, opts Options) error {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	queue := group.NewMainQueue()
	go queue.Run()
	defer func() {
		queue.Close()
		<-queue.Done()
	}()

	var delegates group.Multi
	if opts.Display != nil {
		delegates = append(delegates, opts.Display)
	}
	if opts.Delegate != nil {
		delegates = append(delegates, opts.Delegate)
	}

	var errs []error
	groups := make([]*group.Group, 0, len(jobs))
	for _, job := range jobs {
		g, err := job.Build(group.Options{
			Name:       job.Name,
			Resolver:   opts.Resolver,
			Dispatcher: queue,
			Delegate:   delegates,
		})
		if err != nil {
			log.Error().Str("op", "scheduler/scheduler").Err(err).Msgf("Could not prepare %s", job.Name)
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			continue
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return errors.Join(errs...)
	}

	if opts.Display != nil {
		for _, g := range groups {
			opts.Display.Register(g)
		}
		if opts.Display.Interactive() {
			restore := redirectLogs()
			defer restore()
		}
		opts.Display.StartDisplay()
		defer opts.Display.StopDisplay()
	}

	groupCh := make(chan *group.Group, len(groups))
	for _, g := range groups {
		groupCh <- g
	}
	close(groupCh)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < min(opts.Workers, len(groups)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range groupCh {
				if err := runGroup(ctx, g, queue, delegates); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Let queued callbacks reach the display before it prints the summary.
	flushed := make(chan struct{})
	queue.Dispatch(func() { close(flushed) })
	<-flushed
	return errors.Join(errs...)
}

func runGroup(ctx context.Context, g *group.Group, queue *group.MainQueue, delegates group.Delegate) error {
	if ctx.Err() != nil {
		// Never started, but reported like a canceled group.
		log.Debug().Str("op", "scheduler/scheduler").Msgf("Skipping %s", g.Name)
		queue.Dispatch(func() { delegates.GroupFinished(g, group.StateCanceled, group.ErrCanceled) })
		return group.ErrCanceled
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	// The group observes ctx itself, so waiting must not give up early.
	return g.Wait(context.Background())
}

// redirectLogs sends logs to a file while the live display owns the terminal.
func redirectLogs() func() {
	f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warn().Str("op", "scheduler/scheduler").Err(err).Msg("Could not open log file")
		return func() {}
	}
	utils.SetLogOutput(f)
	return func() {
		utils.InitLogger(utils.GlobalDebugFlag)
		f.Close()
	}
}
