package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/locsim/ddfetch/internal/group"
)

type taskOutput struct {
	ID          string
	Description string
	Status      string
	Progress    float64
}

type groupOutput struct {
	Name      string
	Status    string
	Progress  float64
	Tasks     []*taskOutput
	StartTime time.Time
	EndTime   time.Time
	Index     int
}

type ErrorReport struct {
	GroupName string
	TaskID    string
	Error     error
	Time      time.Time
}

// Manager renders download groups to a terminal. It implements
// group.Delegate, so it can be handed to every group it displays.
type Manager struct {
	out         io.Writer
	interactive bool
	outputs     map[*group.Group]*groupOutput
	mutex       sync.Mutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	started     bool
}

// NewManager writes to out, redrawing in place only when out is a terminal.
func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		interactive: isTerminal(out),
		outputs:     make(map[*group.Group]*groupOutput),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

// Interactive reports whether the display redraws in place.
func (m *Manager) Interactive() bool {
	return m.interactive
}

// Register adds a group as pending, keeping registration order on screen.
func (m *Manager) Register(g *group.Group) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.registerLocked(g)
}

func (m *Manager) registerLocked(g *group.Group) *groupOutput {
	if info, ok := m.outputs[g]; ok {
		return info
	}
	info := &groupOutput{Name: g.Name, Status: "pending", Index: len(m.outputs)}
	for _, t := range g.Tasks() {
		info.Tasks = append(info.Tasks, &taskOutput{ID: t.ID, Description: t.Label(), Status: "pending"})
	}
	m.outputs[g] = info
	return info
}

func (m *Manager) task(g *group.Group, t *group.Task) (*groupOutput, *taskOutput) {
	info := m.registerLocked(g)
	for _, to := range info.Tasks {
		if to.ID == t.ID {
			return info, to
		}
	}
	to := &taskOutput{ID: t.ID, Description: t.Label()}
	info.Tasks = append(info.Tasks, to)
	return info, to
}

func (m *Manager) TaskStarted(g *group.Group, t *group.Task) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info, to := m.task(g, t)
	if info.Status == "pending" {
		info.Status = "running"
		info.StartTime = time.Now()
	}
	to.Status = "running"
}

func (m *Manager) TaskProgress(g *group.Group, t *group.Task, fraction float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, to := m.task(g, t)
	to.Progress = fraction
}

func (m *Manager) TaskFinished(g *group.Group, t *group.Task) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, to := m.task(g, t)
	to.Status = "success"
	to.Progress = 1
}

func (m *Manager) TaskFailed(g *group.Group, t *group.Task, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info, to := m.task(g, t)
	to.Status = "error"
	m.errors = append(m.errors, ErrorReport{GroupName: info.Name, TaskID: t.ID, Error: err, Time: time.Now()})
}

func (m *Manager) GroupProgress(g *group.Group, fraction float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.registerLocked(g).Progress = fraction
}

func (m *Manager) GroupFinished(g *group.Group, state group.State, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.registerLocked(g)
	info.EndTime = time.Now()
	switch state {
	case group.StateSucceeded:
		info.Status = "success"
	case group.StateCanceled:
		info.Status = "warning"
	default:
		info.Status = "error"
	}
	for _, to := range info.Tasks {
		if to.Status == "running" || to.Status == "pending" {
			to.Status = "warning"
		}
	}
	if !m.interactive {
		fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator(info.Status), m.styleMessage(info.Status, info.Name), debugStyle.Render(state.String()))
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "warning":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortedOutputs() []*groupOutput {
	sorted := make([]*groupOutput, len(m.outputs))
	for _, info := range m.outputs {
		sorted[info.Index] = info
	}
	return sorted
}

// render returns the current display lines, capped to the terminal height.
func (m *Manager) render() []string {
	width, height := terminalSize(m.out)
	available := height - 3
	var lines []string
	for _, info := range m.sortedOutputs() {
		elapsed := time.Duration(0)
		if !info.StartTime.IsZero() {
			end := info.EndTime
			if end.IsZero() {
				end = time.Now()
			}
			elapsed = end.Sub(info.StartTime).Round(time.Second)
		}
		header := fmt.Sprintf("%s%s %s %s", strings.Repeat(" ", 2), m.GetStatusIndicator(info.Status), debugStyle.Render(elapsed.String()), headerStyle.Render(truncate(info.Name, width-20)))
		if info.Status == "running" {
			header += " " + PrintProgressBar(info.Progress, 20)
		}
		lines = append(lines, header)
		if info.Status != "running" {
			continue
		}
		for _, to := range info.Tasks {
			line := fmt.Sprintf("%s%s %s", strings.Repeat(" ", 2+4), m.GetStatusIndicator(to.Status), streamStyle.Render(truncate(to.Description, width-50)))
			if to.Status == "running" {
				line += " " + PrintProgressBar(to.Progress, 30)
			}
			lines = append(lines, line)
		}
	}
	if len(lines) > available && available > 0 {
		lines = lines[len(lines)-available:]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := m.render()
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

// StartDisplay begins redrawing on a ticker. It does nothing for
// non-terminal output, where GroupFinished prints one line per group.
func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.started = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary.
func (m *Manager) StopDisplay() {
	if m.started {
		close(m.doneCh)
		m.displayWg.Wait()
	}
	m.ShowSummary()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Group: %s, task: %s", report.GroupName, report.TaskID)))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fmt.Fprintln(m.out)
	var success, failures, canceled int
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		case "warning":
			canceled++
		}
	}
	total := len(m.outputs)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	if canceled > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+warningStyle.Render(fmt.Sprintf("Canceled %d of %d", canceled, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
