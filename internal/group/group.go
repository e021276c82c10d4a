package group

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/locsim/ddfetch/internal/utils"
	"github.com/rs/zerolog/log"
)

// reportStep is the smallest progress change forwarded to the delegate.
const reportStep = 0.005

// Resolver picks the fetcher for a source.
type Resolver interface {
	Resolve(src *url.URL) (utils.Fetcher, error)
}

type Options struct {
	// ID identifies the group; a random UUID is used when empty.
	ID string
	// Name is a display name, defaults to ID.
	Name     string
	Resolver Resolver
	// Dispatcher delivers delegate callbacks. When nil the group runs its
	// own MainQueue for its lifetime.
	Dispatcher Dispatcher
	Delegate   Delegate
}

// Group downloads a fixed set of tasks and resolves to a single outcome:
// succeeded once every task is in place, failed as soon as one task fails,
// or canceled.
type Group struct {
	ID   string
	Name string

	tasks      []*Task
	dispatcher Dispatcher
	ownQueue   *MainQueue
	delegate   Delegate

	mu        sync.Mutex
	state     State
	err       error
	cancel    context.CancelFunc
	remaining int
	delivered float64
	wg        sync.WaitGroup
	done      chan struct{}
}

// New validates tasks and binds each one to its fetcher.
func New(tasks []*Task, opts Options) (*Group, error) {
	if len(tasks) == 0 {
		return nil, errors.New("group needs at least one task")
	}
	if opts.Resolver == nil {
		return nil, errors.New("group needs a fetcher resolver")
	}
	ids := make(map[string]struct{}, len(tasks))
	destinations := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return nil, errors.New("nil task")
		}
		if t.ID == "" {
			return nil, errors.New("task without identifier")
		}
		if _, dup := ids[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task identifier %q", t.ID)
		}
		ids[t.ID] = struct{}{}
		if t.Destination == "" {
			return nil, fmt.Errorf("task %s has no destination", t.ID)
		}
		dest := filepath.Clean(t.Destination)
		if other, dup := destinations[dest]; dup {
			return nil, fmt.Errorf("tasks %s and %s share destination %s", other, t.ID, dest)
		}
		destinations[dest] = t.ID
		if t.g != nil {
			return nil, fmt.Errorf("task %s already belongs to group %s", t.ID, t.g.ID)
		}
		if t.Source == nil {
			return nil, fmt.Errorf("task %s has no source", t.ID)
		}
	}

	g := &Group{
		ID:         opts.ID,
		Name:       opts.Name,
		dispatcher: opts.Dispatcher,
		delegate:   opts.Delegate,
		state:      StatePending,
		done:       make(chan struct{}),
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Name == "" {
		g.Name = g.ID
	}
	if g.delegate == nil {
		g.delegate = DelegateFuncs{}
	}

	fetchers := make([]utils.Fetcher, len(tasks))
	for i, t := range tasks {
		f, err := opts.Resolver.Resolve(t.Source)
		if err != nil {
			return nil, &TaskError{TaskID: t.ID, Err: err}
		}
		fetchers[i] = f
	}
	for i, t := range tasks {
		t.g = g
		t.fetcher = fetchers[i]
	}
	g.tasks = append([]*Task(nil), tasks...)
	return g, nil
}

// Tasks returns the tasks in construction order.
func (g *Group) Tasks() []*Task {
	return append([]*Task(nil), g.tasks...)
}

// Task looks a task up by identifier.
func (g *Group) Task(id string) (*Task, bool) {
	for _, t := range g.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the failure of a failed group, ErrCanceled for a canceled one
// and nil otherwise.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Progress is the average progress of all tasks.
func (g *Group) Progress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aggregateLocked()
}

// Done is closed once the outcome has been delivered to the delegate.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Start moves a pending group to running and launches every transfer.
// Canceling ctx cancels the group.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StatePending {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: cannot start group %s while %s", ErrInvalidGroupState, g.Name, state)
	}
	if g.dispatcher == nil {
		g.ownQueue = NewMainQueue()
		g.dispatcher = g.ownQueue
		go g.ownQueue.Run()
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.state = StateRunning
	g.remaining = len(g.tasks)
	for _, t := range g.tasks {
		t.state = TaskRunning
	}
	g.wg.Add(len(g.tasks))
	g.mu.Unlock()

	log.Info().Str("op", "group/group").Msgf("Starting group %s with %d task(s)", g.Name, len(g.tasks))
	for _, t := range g.tasks {
		t := t
		g.dispatcher.Dispatch(func() { g.delegate.TaskStarted(g, t) })
	}
	for _, t := range g.tasks {
		go g.run(runCtx, t)
	}
	go func() {
		g.wg.Wait()
		cancel()
		g.finish()
	}()
	return nil
}

// Cancel aborts every in-flight transfer of a running group and discards
// their partial files. Tasks that already finalized stay in place.
func (g *Group) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning {
		return fmt.Errorf("%w: cannot cancel group %s while %s", ErrInvalidGroupState, g.Name, g.state)
	}
	g.state = StateCanceled
	g.err = ErrCanceled
	g.cancel()
	log.Info().Str("op", "group/group").Msgf("Canceled group %s", g.Name)
	return nil
}

// Wait blocks until the group reached a terminal state and every transfer
// has stopped. It returns nil on success, ErrCanceled or the failure.
func (g *Group) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Group) run(ctx context.Context, t *Task) {
	defer g.wg.Done()
	tempPath := utils.TempPath(t.Destination)
	err := os.MkdirAll(filepath.Dir(tempPath), 0755)
	if err == nil {
		log.Debug().Str("op", "group/group").Msgf("Fetching %s to %s", t.Source.Redacted(), tempPath)
		err = t.fetcher.Fetch(ctx, t.Source, tempPath, func(written, total int64) {
			g.onProgress(t, written, total)
		})
	}
	if err != nil {
		discard(tempPath)
		g.taskFailed(ctx, t, err)
		return
	}
	g.finalize(t, tempPath)
}

func (g *Group) onProgress(t *Task, written, total int64) {
	if total <= 0 {
		return
	}
	fraction := min(max(float64(written)/float64(total), 0), 1)

	g.mu.Lock()
	if g.state != StateRunning || t.state != TaskRunning || fraction <= t.progress {
		g.mu.Unlock()
		return
	}
	t.progress = fraction
	if fraction-t.reported < reportStep && fraction < 1 {
		g.mu.Unlock()
		return
	}
	t.reported = fraction
	aggregate := g.aggregateLocked()
	g.mu.Unlock()

	g.dispatcher.Dispatch(func() { g.deliverProgress(t, fraction, aggregate) })
}

// finalize moves the finished download into place. The group lock is held
// so a concurrent Cancel either sees the task finished or prevents the move.
func (g *Group) finalize(t *Task, tempPath string) {
	g.mu.Lock()
	if g.state != StateRunning {
		t.state = TaskCanceled
		g.mu.Unlock()
		discard(tempPath)
		return
	}
	if err := moveIntoPlace(tempPath, t.Destination); err != nil {
		terr := &TaskError{TaskID: t.ID, Err: fmt.Errorf("error finalizing %s: %w", t.Destination, err)}
		t.state = TaskFailed
		t.err = terr
		g.state = StateFailed
		g.err = terr
		g.cancel()
		g.mu.Unlock()
		discard(tempPath)
		log.Error().Str("op", "group/group").Err(err).Msgf("Finalize failed for task %s", t.ID)
		g.dispatcher.Dispatch(func() { g.delegate.TaskFailed(g, t, terr) })
		return
	}
	t.state = TaskFinished
	t.progress = 1
	t.reported = 1
	g.remaining--
	if g.remaining == 0 {
		g.state = StateSucceeded
	}
	aggregate := g.aggregateLocked()
	g.mu.Unlock()

	log.Info().Str("op", "group/group").Msgf("Task %s finished: %s", t.ID, t.Destination)
	g.dispatcher.Dispatch(func() {
		g.deliverProgress(t, 1, aggregate)
		g.delegate.TaskFinished(g, t)
	})
}

func (g *Group) taskFailed(ctx context.Context, t *Task, err error) {
	g.mu.Lock()
	if g.state != StateRunning {
		t.state = TaskCanceled
		g.mu.Unlock()
		log.Debug().Str("op", "group/group").Msgf("Task %s stopped: %v", t.ID, err)
		return
	}
	if ctx.Err() != nil {
		// The caller's context ended; treat it like Cancel.
		t.state = TaskCanceled
		g.state = StateCanceled
		g.err = ErrCanceled
		g.cancel()
		g.mu.Unlock()
		log.Info().Str("op", "group/group").Msgf("Group %s canceled by context", g.Name)
		return
	}
	terr := &TaskError{TaskID: t.ID, Err: err}
	t.state = TaskFailed
	t.err = terr
	g.state = StateFailed
	g.err = terr
	g.cancel()
	g.mu.Unlock()

	log.Error().Str("op", "group/group").Err(err).Msgf("Task %s failed", t.ID)
	g.dispatcher.Dispatch(func() { g.delegate.TaskFailed(g, t, terr) })
}

func (g *Group) finish() {
	// Temp dirs are shared by sibling tasks, so they go only once all stopped.
	for _, t := range g.tasks {
		if err := utils.RemoveTempDir(t.Destination); err != nil {
			log.Warn().Str("op", "group/group").Err(err).Msgf("Could not tidy temp dir for %s", t.Destination)
		}
	}
	g.mu.Lock()
	state, err := g.state, g.err
	g.mu.Unlock()

	log.Info().Str("op", "group/group").Msgf("Group %s %s", g.Name, state)
	g.dispatcher.Dispatch(func() {
		g.delegate.GroupFinished(g, state, err)
		close(g.done)
		if g.ownQueue != nil {
			g.ownQueue.Close()
		}
	})
}

// deliverProgress forwards a progress update unless a newer one was already
// delivered. Updates are enqueued outside the lock, so they can reach the
// dispatcher out of order.
func (g *Group) deliverProgress(t *Task, fraction, aggregate float64) {
	g.mu.Lock()
	if g.state != StateRunning && g.state != StateSucceeded {
		g.mu.Unlock()
		return
	}
	forwardTask := fraction > t.delivered
	if forwardTask {
		t.delivered = fraction
	}
	forwardGroup := aggregate > g.delivered
	if forwardGroup {
		g.delivered = aggregate
	}
	g.mu.Unlock()

	if forwardTask {
		g.delegate.TaskProgress(g, t, fraction)
	}
	if forwardGroup {
		g.delegate.GroupProgress(g, aggregate)
	}
}

func (g *Group) aggregateLocked() float64 {
	if len(g.tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range g.tasks {
		sum += t.progress
	}
	return sum / float64(len(g.tasks))
}

// moveIntoPlace replaces destination with the downloaded file.
func moveIntoPlace(tempPath, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return err
	}
	if err := os.RemoveAll(destination); err != nil {
		return err
	}
	return os.Rename(tempPath, destination)
}

func discard(tempPath string) {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("op", "group/group").Err(err).Msgf("Could not remove partial file %s", tempPath)
	}
}
