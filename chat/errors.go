package chat

import (
	"context"
	"errors"

	"askdan/assistant"
	"askdan/attachment"
	"askdan/db"
)

var (
	// ErrEmptyMessage is returned when a send has neither text nor attachments
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned when the chat already has a send in flight
	ErrBusy = errors.New("chat has a message in flight")
)

// FailureKind classifies a send failure for presentation
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureConfiguration
	FailureTransport
	FailureUpload
	FailureRun
	FailureStore
	FailureCancelled
	FailureBusy
	FailureInvalidInput
	FailureUnknown
)

var failureNames = map[FailureKind]string{
	FailureNone:          "none",
	FailureConfiguration: "configuration",
	FailureTransport:     "transport",
	FailureUpload:        "upload",
	FailureRun:           "run",
	FailureStore:         "store",
	FailureCancelled:     "cancelled",
	FailureBusy:          "busy",
	FailureInvalidInput:  "invalid input",
	FailureUnknown:       "unknown",
}

func (k FailureKind) String() string {
	if name, ok := failureNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether resending the same message may succeed
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransport, FailureUpload, FailureRun, FailureCancelled, FailureBusy:
		return true
	}
	return false
}

// classification is checked in order; the first matching sentinel wins
var classification = []struct {
	target error
	kind   FailureKind
}{
	{context.Canceled, FailureCancelled},
	{assistant.ErrConfiguration, FailureConfiguration},
	{attachment.ErrUpload, FailureUpload},
	{assistant.ErrRun, FailureRun},
	{assistant.ErrTransport, FailureTransport},
	{context.DeadlineExceeded, FailureTransport},
	{db.ErrConstraintViolation, FailureStore},
	{db.ErrAlreadyBound, FailureStore},
	{db.ErrNotFound, FailureStore},
	{ErrBusy, FailureBusy},
	{assistant.ErrSessionBusy, FailureBusy},
	{ErrEmptyMessage, FailureInvalidInput},
}

// Classify maps an error returned by the orchestrator to its failure kind
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	for _, c := range classification {
		if errors.Is(err, c.target) {
			return c.kind
		}
	}
	return FailureUnknown
}
