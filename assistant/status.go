package assistant

import "fmt"

// Status is the remote status of a run
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCancelling     Status = "cancelling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusIncomplete     Status = "incomplete"
)

// Outcome classifies a run status
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

var statusOutcomes = map[Status]Outcome{
	StatusQueued:         OutcomePending,
	StatusInProgress:     OutcomePending,
	StatusRequiresAction: OutcomePending,
	StatusCancelling:     OutcomePending,
	StatusCompleted:      OutcomeSucceeded,
	StatusFailed:         OutcomeFailed,
	StatusCancelled:      OutcomeFailed,
	StatusExpired:        OutcomeFailed,
	StatusIncomplete:     OutcomeFailed,
}

// Outcome classifies the status. Unknown statuses stay pending and are
// bounded by the poll ceiling.
func (s Status) Outcome() Outcome {
	return statusOutcomes[s]
}

// Terminal reports whether polling can stop
func (s Status) Terminal() bool {
	return s.Outcome() != OutcomePending
}

// State is the lifecycle state of a chat's remote session
type State int

const (
	StateUnbound State = iota
	StateSessionCreated
	StateMessageSubmitted
	StateRunStarted
	StatePolling
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateUnbound:          "unbound",
	StateSessionCreated:   "session_created",
	StateMessageSubmitted: "message_submitted",
	StateRunStarted:       "run_started",
	StatePolling:          "polling",
	StateCompleted:        "completed",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the states each state may move to. Any state may fail.
var transitions = map[State][]State{
	StateUnbound:          {StateSessionCreated},
	StateSessionCreated:   {StateMessageSubmitted},
	StateMessageSubmitted: {StateRunStarted},
	StateRunStarted:       {StatePolling},
	StatePolling:          {StatePolling, StateCompleted},
	StateCompleted:        {StateMessageSubmitted},
	StateFailed:           {StateSessionCreated, StateMessageSubmitted},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
