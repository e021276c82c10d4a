package group

// State is the aggregate state of a Group.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateCanceled || s == StateFailed
}

// TaskState tracks a single task inside its group.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskFinished
	TaskCanceled
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	case TaskCanceled:
		return "canceled"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}
