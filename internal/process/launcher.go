package process

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultShell interprets raw command lines.
const DefaultShell = "/bin/sh"

// Launcher spawns server processes from a Spec
type Launcher struct {
	JavaPath   string
	Shell      string
	Artifacts  ArtifactResolver
	Acceptance AcceptanceStore
}

// NewLauncher creates a launcher backed by the local filesystem
func NewLauncher(javaPath, shell string) *Launcher {
	if javaPath == "" {
		javaPath = "java"
	}
	if shell == "" {
		shell = DefaultShell
	}
	return &Launcher{
		JavaPath:   javaPath,
		Shell:      shell,
		Artifacts:  FileArtifacts{},
		Acceptance: FileAcceptance{},
	}
}

// CheckPreconditions verifies the artifact and acceptance marker without spawning anything.
func (l *Launcher) CheckPreconditions(spec Spec) error {
	// Raw command lines still launch the configured artifact, so it is checked in both modes
	artifact := spec.ArtifactPath()
	if !l.Artifacts.ArtifactExists(artifact) {
		return &PreconditionError{Reason: ReasonArtifactMissing, Path: artifact}
	}
	if spec.RequiresAcceptance() && !l.Acceptance.Accepted(spec.WorkingDir) {
		return &PreconditionError{Reason: ReasonEULANotAccepted, Path: spec.WorkingDir}
	}
	return nil
}

// BuildCommand returns argv for the spec. Raw command lines are handed to the shell verbatim.
func (l *Launcher) BuildCommand(spec Spec) []string {
	if spec.Raw() {
		return []string{l.Shell, "-c", spec.CommandLine}
	}

	args := []string{l.JavaPath}
	if mem := strings.TrimSpace(spec.MemoryLimit); mem != "" {
		args = append(args, "-Xmx"+mem, "-Xms"+mem)
	}
	args = append(args, spec.JavaArgs...)
	args = append(args, "-jar", spec.Executable)
	args = append(args, spec.serverArgs()...)
	return args
}

// Launch spawns the process with combined output appended to spec.LogPath
// and a writable input pipe.
func (l *Launcher) Launch(spec Spec) (*Handle, error) {
	if err := l.CheckPreconditions(spec); err != nil {
		return nil, err
	}

	if spec.LogPath == "" {
		return nil, fmt.Errorf("%w: no log path configured", ErrLaunchFailed)
	}
	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create log directory: %v", ErrLaunchFailed, err)
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open log file: %v", ErrLaunchFailed, err)
	}
	// The child keeps its own descriptor after Start.
	defer logFile.Close()

	argv := l.BuildCommand(spec)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcGroupAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open input pipe: %v", ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	log.Printf("[Process] Started %s (PID %d): %s", spec.Name, cmd.Process.Pid, strings.Join(argv, " "))

	h := newHandle(cmd, stdin)
	go h.reap()
	return h, nil
}
