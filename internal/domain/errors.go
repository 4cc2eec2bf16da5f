package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// ActiveJobError is returned by JobRepository.TryAdmit when the session's
// single active-job slot is already occupied.
type ActiveJobError struct {
	JobID uuid.UUID
	Stage Stage
}

func (e *ActiveJobError) Error() string {
	return fmt.Sprintf("session already has active job %s (stage %s)", e.JobID, e.Stage)
}

// Inference failure codes reported by the collaborator.
const (
	FailureResourceExhausted   = "resource-exhausted"
	FailureInvalidIntermediate = "invalid-intermediate"
	FailureTimeout             = "timeout"
	FailureCancelled           = "cancelled"
	FailureExitStatus          = "exit-status"
)
