package server

import (
	"time"

	"github.com/TheGojiOG/servervisor/internal/process"
)

// ProcessHandle is one running child process owned by an Instance
type ProcessHandle interface {
	PID() int
	StartedAt() time.Time
	WriteLine(line string) error
	Stop(command string, timeout time.Duration) process.StopResult
	Wait() process.ExitOutcome
	Kill() error
}

// ProcessLauncher spawns child processes from launch specs
type ProcessLauncher interface {
	Launch(spec process.Spec) (ProcessHandle, error)
}

// osLauncher adapts process.Launcher to ProcessLauncher
type osLauncher struct {
	launcher *process.Launcher
}

// NewOSLauncher returns a ProcessLauncher spawning real OS processes
func NewOSLauncher(launcher *process.Launcher) ProcessLauncher {
	return osLauncher{launcher: launcher}
}

func (l osLauncher) Launch(spec process.Spec) (ProcessHandle, error) {
	h, err := l.launcher.Launch(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}
