package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/tempest/internal/memory"
)

var (
	// ErrGateDeclined means the agent chose not to answer. It is a normal outcome, not a failure.
	ErrGateDeclined = errors.New("determined not to respond")

	// ErrSuperseded means the utterance was folded into a later one, or only remembered
	// because a turn was already running.
	ErrSuperseded = errors.New("superseded by another utterance")
)

// StatusError is a failure with the status code front ends report for it.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func badRequest(msg string) error {
	return &StatusError{Status: http.StatusBadRequest, Message: msg}
}

// Status maps an error from this package to a status code and a message safe to show callers.
func Status(err error) (int, string) {
	var se *StatusError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &se):
		return se.Status, se.Message
	case errors.Is(err, ErrGateDeclined), errors.Is(err, ErrSuperseded):
		return http.StatusNoContent, err.Error()
	case errors.Is(err, memory.ErrCollectionNotFound):
		return http.StatusNotFound, "conversation does not exist"
	default:
		return http.StatusInternalServerError, "processing failed"
	}
}
