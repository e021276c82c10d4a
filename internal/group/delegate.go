package group

// Delegate is informed about task and group changes. Every call arrives
// through the group's Dispatcher.
type Delegate interface {
	TaskStarted(g *Group, t *Task)
	TaskProgress(g *Group, t *Task, fraction float64)
	TaskFinished(g *Group, t *Task)
	TaskFailed(g *Group, t *Task, err error)
	GroupProgress(g *Group, fraction float64)
	GroupFinished(g *Group, state State, err error)
}

// DelegateFuncs implements Delegate with optional function fields.
type DelegateFuncs struct {
	OnTaskStarted   func(g *Group, t *Task)
	OnTaskProgress  func(g *Group, t *Task, fraction float64)
	OnTaskFinished  func(g *Group, t *Task)
	OnTaskFailed    func(g *Group, t *Task, err error)
	OnGroupProgress func(g *Group, fraction float64)
	OnGroupFinished func(g *Group, state State, err error)
}

func (d DelegateFuncs) TaskStarted(g *Group, t *Task) {
	if d.OnTaskStarted != nil {
		d.OnTaskStarted(g, t)
	}
}

func (d DelegateFuncs) TaskProgress(g *Group, t *Task, fraction float64) {
	if d.OnTaskProgress != nil {
		d.OnTaskProgress(g, t, fraction)
	}
}

func (d DelegateFuncs) TaskFinished(g *Group, t *Task) {
	if d.OnTaskFinished != nil {
		d.OnTaskFinished(g, t)
	}
}

func (d DelegateFuncs) TaskFailed(g *Group, t *Task, err error) {
	if d.OnTaskFailed != nil {
		d.OnTaskFailed(g, t, err)
	}
}

func (d DelegateFuncs) GroupProgress(g *Group, fraction float64) {
	if d.OnGroupProgress != nil {
		d.OnGroupProgress(g, fraction)
	}
}

func (d DelegateFuncs) GroupFinished(g *Group, state State, err error) {
	if d.OnGroupFinished != nil {
		d.OnGroupFinished(g, state, err)
	}
}

// Multi fans every callback out to several delegates in order.
type Multi []Delegate

func (m Multi) TaskStarted(g *Group, t *Task) {
	for _, d := range m {
		d.TaskStarted(g, t)
	}
}

func (m Multi) TaskProgress(g *Group, t *Task, fraction float64) {
	for _, d := range m {
		d.TaskProgress(g, t, fraction)
	}
}

func (m Multi) TaskFinished(g *Group, t *Task) {
	for _, d := range m {
		d.TaskFinished(g, t)
	}
}

func (m Multi) TaskFailed(g *Group, t *Task, err error) {
	for _, d := range m {
		d.TaskFailed(g, t, err)
	}
}

func (m Multi) GroupProgress(g *Group, fraction float64) {
	for _, d := range m {
		d.GroupProgress(g, fraction)
	}
}

func (m Multi) GroupFinished(g *Group, state State, err error) {
	for _, d := range m {
		d.GroupFinished(g, state, err)
	}
}
