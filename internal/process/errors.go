package process

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionNotMet indicates the launch artifact or acceptance marker is missing
	ErrPreconditionNotMet = errors.New("launch precondition not met")

	// ErrLaunchFailed indicates the OS refused to spawn the process
	ErrLaunchFailed = errors.New("process failed to launch")

	// ErrNotRunning indicates the process has already exited
	ErrNotRunning = errors.New("process is not running")

	// ErrWriteFailed indicates the input pipe is closed or broken
	ErrWriteFailed = errors.New("failed to write to process input")
)

// Precondition reasons reported by PreconditionError
const (
	ReasonArtifactMissing = "artifact_missing"
	ReasonEULANotAccepted = "eula_not_accepted"
)

// PreconditionError describes which launch precondition failed.
type PreconditionError struct {
	Reason string
	Path   string
}

func (e *PreconditionError) Error() string {
	switch e.Reason {
	case ReasonArtifactMissing:
		return fmt.Sprintf("server executable not found: %s", e.Path)
	case ReasonEULANotAccepted:
		return fmt.Sprintf("EULA not accepted in %s", e.Path)
	default:
		return fmt.Sprintf("launch precondition %s not met (%s)", e.Reason, e.Path)
	}
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionNotMet
}

// IsEULARequired reports whether err is a missing acceptance marker.
func IsEULARequired(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe) && pe.Reason == ReasonEULANotAccepted
}
