package media

// EventKind classifies events on the progress channel.
type EventKind int

const (
	// EventProgress carries the encoded position.
	EventProgress EventKind = iota + 1
	// EventLog carries one raw diagnostic line.
	EventLog
	// EventTerminal carries the final outcome. It is always the last event.
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventLog:
		return "log"
	case EventTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	// OutcomeSucceeded means the engine exited 0 without being cancelled.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the engine exited non-zero without being cancelled.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means termination was requested before the run ended.
	OutcomeCancelled Outcome = "cancelled"
)

// Event is one message on the progress channel. Only the fields matching
// Kind are set.
type Event struct {
	Kind EventKind

	// Progress
	Elapsed float64
	Percent float64

	// Log
	Line      string
	ErrorLike bool

	// Terminal
	Outcome Outcome
	// Err is nil on success, an *EncodeError on failure and wraps
	// ErrCancelled on cancellation.
	Err error
}

// IsTerminal reports whether e ends the stream.
func (e Event) IsTerminal() bool {
	return e.Kind == EventTerminal
}

// Drain receives from events until the channel closes, passing every event to
// fn when it is non-nil, and returns the Terminal event. If the channel closes
// without one, the returned event has Kind 0.
func Drain(events <-chan Event, fn func(Event)) Event {
	var terminal Event
	for ev := range events {
		if fn != nil {
			fn(ev)
		}
		if ev.IsTerminal() {
			terminal = ev
		}
	}
	return terminal
}
