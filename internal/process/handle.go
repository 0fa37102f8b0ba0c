package process

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// killGrace bounds the wait for the OS to reap a killed process.
const killGrace = 5 * time.Second

// ExitOutcome records how a process terminated
type ExitOutcome struct {
	Code     int
	State    string
	Err      error
	ExitedAt time.Time
}

// StopResult reports the result of a Stop request
type StopResult struct {
	Forced   bool
	WriteErr error
	Elapsed  time.Duration
}

// Handle is an exclusive owner of one running child process.
type Handle struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time

	inMu  sync.Mutex
	stdin io.WriteCloser

	done    chan struct{}
	outcome ExitOutcome

	killOnce sync.Once
	killErr  error
}

func newHandle(cmd *exec.Cmd, stdin io.WriteCloser) *Handle {
	return &Handle{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		stdin:   stdin,
		done:    make(chan struct{}),
	}
}

// reap is the only caller of cmd.Wait
func (h *Handle) reap() {
	err := h.cmd.Wait()

	out := ExitOutcome{Code: -1, ExitedAt: time.Now()}
	if state := h.cmd.ProcessState; state != nil {
		out.Code = state.ExitCode()
		out.State = state.String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		out.Err = err
	}

	h.inMu.Lock()
	h.stdin.Close()
	h.outcome = out
	h.inMu.Unlock()

	close(h.done)
}

// PID returns the OS process id
func (h *Handle) PID() int {
	return h.pid
}

// StartedAt returns when the process was spawned
func (h *Handle) StartedAt() time.Time {
	return h.started
}

// Done is closed once the process has exited and been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has been reaped
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits
func (h *Handle) Wait() ExitOutcome {
	<-h.done
	h.inMu.Lock()
	defer h.inMu.Unlock()
	return h.outcome
}

// WriteLine writes line plus a newline terminator to the process input.
// Concurrent writers never interleave within a line.
func (h *Handle) WriteLine(line string) error {
	h.inMu.Lock()
	defer h.inMu.Unlock()

	if h.Exited() {
		return ErrNotRunning
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(h.stdin, line); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Kill force-terminates the process group. It is safe to call repeatedly.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	h.killOnce.Do(func() {
		h.killErr = killGroup(h.cmd)
	})
	return h.killErr
}

// Stop writes command to the process input and waits up to timeout for a
// voluntary exit before killing it. A failed write other than an already
// exited process escalates to a kill immediately.
func (h *Handle) Stop(command string, timeout time.Duration) StopResult {
	start := time.Now()
	res := StopResult{}

	if err := h.WriteLine(command); err != nil {
		if errors.Is(err, ErrNotRunning) {
			res.Elapsed = time.Since(start)
			return res
		}
		log.Printf("[Process] PID %d: stop command failed, killing: %v", h.pid, err)
		res.WriteErr = err
		res.Forced = true
		h.killAndWait()
		res.Elapsed = time.Since(start)
		return res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		log.Printf("[Process] PID %d did not exit within %v, killing", h.pid, timeout)
		res.Forced = true
		h.killAndWait()
	}
	res.Elapsed = time.Since(start)
	return res
}

func (h *Handle) killAndWait() {
	if err := h.Kill(); err != nil {
		log.Printf("[Process] PID %d: kill failed: %v", h.pid, err)
	}
	select {
	case <-h.done:
	case <-time.After(killGrace):
		log.Printf("[Process] PID %d still not reaped %v after kill", h.pid, killGrace)
	}
}
