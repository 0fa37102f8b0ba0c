package server

import (
	"sync"
	"time"

	"github.com/TheGojiOG/servervisor/internal/console"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/presence"
	"github.com/TheGojiOG/servervisor/internal/process"
)

// Instance is one supervised server slot. All state transitions happen
// under mu; the handle is present exactly while the state is not Stopped.
type Instance struct {
	name string
	spec process.Spec

	mu              sync.Mutex
	state           models.InstanceState
	intentionalStop bool
	handle          ProcessHandle
	pid             int
	startedAt       time.Time
	outcome         process.ExitOutcome

	// reconciled is closed by the monitor once exit has been classified
	reconciled chan struct{}

	// tailMu serializes presence scans of the log sink
	tailMu  sync.Mutex
	cursor  *console.LogCursor
	players *presence.Tracker
}

func newInstance(spec process.Spec, handle ProcessHandle, cursor *console.LogCursor) *Instance {
	return &Instance{
		name:       spec.Name,
		spec:       spec,
		state:      models.StateRunning,
		handle:     handle,
		pid:        handle.PID(),
		startedAt:  handle.StartedAt(),
		reconciled: make(chan struct{}),
		cursor:     cursor,
		players:    presence.NewTracker(),
	}
}

// Name returns the registry key
func (i *Instance) Name() string {
	return i.name
}

// Spec returns the launch spec the process was started with
func (i *Instance) Spec() process.Spec {
	return i.spec
}

// State returns the current lifecycle state
func (i *Instance) State() models.InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Snapshot returns the observable status of the instance
func (i *Instance) Snapshot() models.InstanceStatus {
	i.mu.Lock()
	state := i.state
	pid := i.pid
	startedAt := i.startedAt
	i.mu.Unlock()

	status := models.InstanceStatus{
		Name:          i.name,
		Status:        state,
		OnlinePlayers: i.players.Count(),
	}
	if state != models.StateStopped {
		status.PID = &pid
		status.StartedAt = &startedAt
	}
	return status
}

// beginStop moves Running to Stopping and marks the coming exit as intentional.
// Only one caller can win; everyone else gets ErrNotRunning.
func (i *Instance) beginStop() (ProcessHandle, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != models.StateRunning || i.handle == nil {
		return nil, ErrNotRunning
	}
	i.state = models.StateStopping
	i.intentionalStop = true
	return i.handle, nil
}

// runningHandle returns the handle if the instance accepts input
func (i *Instance) runningHandle() (ProcessHandle, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != models.StateRunning || i.handle == nil {
		return nil, ErrNotRunning
	}
	return i.handle, nil
}

// markExited records the exit and flips to Stopped. The intentional flag is
// read and reset in the same critical section, so a stop that arrives after
// this point fails with ErrNotRunning instead of relabelling a crash.
func (i *Instance) markExited(outcome process.ExitOutcome) (intentional bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	intentional = i.intentionalStop
	i.intentionalStop = false
	i.state = models.StateStopped
	i.handle = nil
	i.outcome = outcome
	return intentional
}

// Outcome returns the recorded exit outcome once Stopped
func (i *Instance) Outcome() process.ExitOutcome {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.outcome
}

// Reconciled is closed after the monitor has classified the exit
func (i *Instance) Reconciled() <-chan struct{} {
	return i.reconciled
}

// Players returns the presence set, sorted
func (i *Instance) Players() []string {
	return i.players.Players()
}

// scanNewOutput applies presence deltas from output appended since the last
// scan and returns the names that joined.
func (i *Instance) scanNewOutput() []string {
	i.tailMu.Lock()
	defer i.tailMu.Unlock()

	if i.cursor == nil {
		return nil
	}
	// Stream the backlog so output written between log queries is never held in memory at once
	var joined []string
	i.cursor.Each(func(line string) {
		if delta, ok := presence.ScanLine(line); ok {
			joined = append(joined, i.players.Apply([]presence.Delta{delta})...)
		}
	})
	return joined
}
