package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation matches every user-input error via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrJobStopped is the cause recorded when a user stops a running job.
	ErrJobStopped = errors.New("job stopped by user")

	// ErrJobRunning is returned when a start or reset races a running job.
	ErrJobRunning = errors.New("a job is already running")

	// ErrNotFound is returned by collaborators when an id is unknown.
	ErrNotFound = errors.New("not found")
)

// Bad or missing user input. Recovered locally, never sent over the wire.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Nothing of the given kind is selected.
type EmptySelectionError struct {
	Kind EntityKind
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("select at least one of %s", e.Kind)
}

func (e *EmptySelectionError) Unwrap() error { return ErrValidation }

// No usable depot is configured for the request.
type MissingDepotError struct {
	DepotID string
}

func (e *MissingDepotError) Error() string {
	if e.DepotID == "" {
		return "a depot must be configured"
	}
	return fmt.Sprintf("depot %q is not available", e.DepotID)
}

func (e *MissingDepotError) Unwrap() error { return ErrValidation }

// Retryable failure talking to a collaborator (network error, timeout, 429, 5xx).
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// Non-retryable failure; terminates the current job or fetch.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Non-fatal notice that part of the data referenced entities that no longer exist.
type PartialDataWarning struct {
	Dropped    int      `json:"dropped"`
	References []string `json:"references"`
}

func (w *PartialDataWarning) Error() string {
	return fmt.Sprintf("%d stale reference(s) dropped: %s", w.Dropped, strings.Join(w.References, ", "))
}

func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// NoticeLevel orders user-facing notices by prominence.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// User-facing message derived from an error. Raw transport errors never reach a Notice.
type Notice struct {
	Source  string      `json:"source"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// NoticeFor converts an error into the message the view layer may show.
func NoticeFor(source string, err error) Notice {
	var (
		ve *ValidationError
		es *EmptySelectionError
		md *MissingDepotError
		pw *PartialDataWarning
	)
	switch {
	case errors.As(err, &es), errors.As(err, &md), errors.As(err, &ve):
		return Notice{Source: source, Level: NoticeInfo, Message: err.Error()}
	case errors.As(err, &pw):
		return Notice{Source: source, Level: NoticeWarning, Message: fmt.Sprintf("%d stop(s) reference deleted entities and were hidden", pw.Dropped)}
	case errors.Is(err, ErrJobStopped):
		return Notice{Source: source, Level: NoticeInfo, Message: "job stopped"}
	case IsTransient(err):
		return Notice{Source: source, Level: NoticeWarning, Message: "connection problems, retrying"}
	case IsFatal(err):
		return Notice{Source: source, Level: NoticeError, Message: "the server rejected the request; restart required"}
	}
	return Notice{Source: source, Level: NoticeError, Message: "unexpected error"}
}
