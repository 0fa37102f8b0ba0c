package server

import (
	"errors"

	"github.com/TheGojiOG/servervisor/internal/process"
)

var (
	// ErrAlreadyRunning is returned when starting an instance that is not stopped
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNotRunning is returned when stopping or commanding an instance that is not running
	ErrNotRunning = errors.New("server is not running")

	// ErrUnknownServer is returned for names with no configured definition
	ErrUnknownServer = errors.New("unknown server")

	// ErrInvalidCommand is returned for empty or multi-line console commands
	ErrInvalidCommand = errors.New("invalid command")

	// Re-exported so callers can match launch failures without importing process
	ErrPreconditionNotMet = process.ErrPreconditionNotMet
	ErrLaunchFailed       = process.ErrLaunchFailed
	ErrWriteFailed        = process.ErrWriteFailed
)
