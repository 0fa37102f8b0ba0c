package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TheGojiOG/servervisor/internal/console"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/process"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// DefaultStopTimeout is the graceful stop window before a forced kill
const DefaultStopTimeout = 30 * time.Second

// SpecSource resolves configured server names into launch specs
type SpecSource interface {
	Spec(name string) (process.Spec, bool)
}

// EventNotifier receives lifecycle and presence notifications
type EventNotifier interface {
	Notify(ctx context.Context, server string, trigger webhook.Trigger, message string) bool
	NotifyPlayerJoined(ctx context.Context, server, player string) bool
}

// MetricsRecorder counts lifecycle events
type MetricsRecorder interface {
	InstanceStarted(server string)
	InstanceStopped(server string, forced bool)
	InstanceExited(server string, crashed bool)
	CommandSent(server string, ok bool)
	PlayersOnline(server string, count int)
}

// OutputFollower streams live console output while a server runs
type OutputFollower interface {
	Follow(name, path string) error
	Unfollow(name string)
}

// EventBroadcaster pushes lifecycle events to dashboard viewers
type EventBroadcaster interface {
	BroadcastServerEvent(server, eventType string, payload map[string]interface{})
}

// Options configures a Supervisor
type Options struct {
	StopCommand string
	StopTimeout time.Duration

	Notifier    EventNotifier
	Metrics     MetricsRecorder
	Activity    *logging.ActivityLogger
	Status      *StatusStore
	Follower    OutputFollower
	Broadcaster EventBroadcaster
	Archiver    *console.LogArchiver
}

// Supervisor owns the registry and runs start/stop/command operations
type Supervisor struct {
	specs    SpecSource
	launcher ProcessLauncher
	registry *Registry

	stopCommand string
	stopTimeout time.Duration

	notifier    EventNotifier
	metrics     MetricsRecorder
	activity    *logging.ActivityLogger
	status      *StatusStore
	follower    OutputFollower
	broadcaster EventBroadcaster
	archiver    *console.LogArchiver

	// monitors tracks running monitor goroutines
	monitors sync.WaitGroup
}

// NewSupervisor creates a supervisor with an empty registry
func NewSupervisor(specs SpecSource, launcher ProcessLauncher, opts Options) *Supervisor {
	if opts.StopCommand == "" {
		opts.StopCommand = "stop"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	return &Supervisor{
		specs:       specs,
		launcher:    launcher,
		registry:    NewRegistry(),
		stopCommand: opts.StopCommand,
		stopTimeout: opts.StopTimeout,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		activity:    opts.Activity,
		status:      opts.Status,
		follower:    opts.Follower,
		broadcaster: opts.Broadcaster,
		archiver:    opts.Archiver,
	}
}

// Registry returns the live instance registry
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Start launches name unless it is already running
func (s *Supervisor) Start(ctx context.Context, name string) (models.ActionResult, error) {
	spec, ok := s.specs.Spec(name)
	if !ok {
		return failure(fmt.Sprintf("Server '%s' is not configured", name)), ErrUnknownServer
	}

	unlock := s.registry.Lock(name)
	defer unlock()

	if inst, ok := s.registry.Get(name); ok && inst.State() != models.StateStopped {
		return failure(fmt.Sprintf("Server '%s' is already running", name)), ErrAlreadyRunning
	}

	log.Printf("[Lifecycle] Starting server %s...", name)

	if archived, err := s.archiver.ArchiveIfNeeded(name, spec.LogPath); err != nil {
		log.Printf("[Lifecycle] Warning: failed to archive log for %s: %v", name, err)
	} else if archived != "" {
		_ = s.activity.LogActivity(&logging.Activity{
			ServerName:   name,
			ActivityType: logging.ActivityLogArchive,
			Description:  "Console log archived before start",
			Metadata:     map[string]interface{}{"path": archived},
			Success:      true,
		})
	}

	// Position the presence cursor before the child can write anything
	cursor := console.NewLogCursor(spec.LogPath)

	handle, err := s.launcher.Launch(spec)
	if err != nil {
		return s.launchFailed(name, err)
	}

	inst := newInstance(spec, handle, cursor)
	s.registry.Create(name, inst)

	log.Printf("[Lifecycle] Server %s started (pid %d)", name, inst.pid)

	if err := s.status.RecordStarted(name, inst.pid, inst.startedAt); err != nil {
		log.Printf("[Lifecycle] Warning: %v", err)
	}
	if s.follower != nil {
		if err := s.follower.Follow(name, spec.LogPath); err != nil {
			log.Printf("[Lifecycle] Warning: live console unavailable for %s: %v", name, err)
		}
	}
	if s.metrics != nil {
		s.metrics.InstanceStarted(name)
	}
	_ = s.activity.LogServerStart(name, inst.pid, true, "")
	s.broadcast(name, "server_started", map[string]interface{}{"pid": inst.pid})
	s.notify(ctx, name, webhook.TriggerServerStarted, "")

	s.monitors.Add(1)
	go s.monitor(inst)

	return models.ActionResult{Success: true, Message: fmt.Sprintf("Server '%s' started", name)}, nil
}

func (s *Supervisor) launchFailed(name string, err error) (models.ActionResult, error) {
	log.Printf("[Lifecycle] Failed to start server %s: %v", name, err)
	_ = s.activity.LogServerStart(name, 0, false, err.Error())

	result := failure(err.Error())
	if process.IsEULARequired(err) {
		result.EULARequired = true
		result.Message = "EULA must be accepted before starting the server"
	}
	return result, err
}

// Stop requests a graceful stop and waits until the exit is reconciled.
// A process that ignores the stop command is killed after the stop timeout.
func (s *Supervisor) Stop(ctx context.Context, name string) (models.ActionResult, error) {
	inst, ok := s.registry.Get(name)
	if !ok {
		return failure(fmt.Sprintf("Server '%s' is not running", name)), ErrNotRunning
	}

	handle, err := inst.beginStop()
	if err != nil {
		return failure(fmt.Sprintf("Server '%s' is not running", name)), err
	}

	log.Printf("[Lifecycle] Stopping server %s (timeout: %v)...", name, s.stopTimeout)
	if err := s.status.RecordStopping(name); err != nil {
		log.Printf("[Lifecycle] Warning: %v", err)
	}
	s.broadcast(name, "server_stopping", nil)

	res := handle.Stop(s.stopCommand, s.stopTimeout)
	<-inst.Reconciled()

	if s.metrics != nil {
		s.metrics.InstanceStopped(name, res.Forced)
	}
	errMsg := ""
	if res.WriteErr != nil {
		errMsg = res.WriteErr.Error()
	}
	_ = s.activity.LogServerStop(name, res.Forced, res.Elapsed, true, errMsg)

	if res.Forced {
		log.Printf("[Lifecycle] Server %s stopped (forced after %v)", name, res.Elapsed.Round(time.Millisecond))
		return models.ActionResult{
			Success: true,
			Forced:  true,
			Message: fmt.Sprintf("Server '%s' did not stop in time and was killed", name),
		}, nil
	}

	log.Printf("[Lifecycle] Server %s stopped gracefully in %v", name, res.Elapsed.Round(time.Millisecond))
	return models.ActionResult{Success: true, Message: fmt.Sprintf("Server '%s' stopped", name)}, nil
}

// SendCommand writes one console line to a running server
func (s *Supervisor) SendCommand(ctx context.Context, name, text string) (models.ActionResult, error) {
	command, err := console.ValidateCommand(text)
	if err != nil {
		return failure(err.Error()), fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	inst, ok := s.registry.Get(name)
	if !ok {
		return failure(fmt.Sprintf("Server '%s' is not running", name)), ErrNotRunning
	}
	handle, err := inst.runningHandle()
	if err != nil {
		return failure(fmt.Sprintf("Server '%s' is not running", name)), err
	}

	if err := handle.WriteLine(command); err != nil {
		if errors.Is(err, process.ErrNotRunning) {
			err = ErrNotRunning
		}
		log.Printf("[Lifecycle] Command to %s failed: %v", name, err)
		if s.metrics != nil {
			s.metrics.CommandSent(name, false)
		}
		_ = s.activity.LogCommandExecute(name, command, false, err.Error())
		return failure(fmt.Sprintf("Failed to send command: %v", err)), err
	}

	if s.metrics != nil {
		s.metrics.CommandSent(name, true)
	}
	_ = s.activity.LogCommandExecute(name, command, true, "")
	s.notify(ctx, name, webhook.TriggerCommandReceived, command)

	return models.ActionResult{Success: true, Message: fmt.Sprintf("Command sent: %s", command)}, nil
}

// Status returns the current status of name. Servers with no live instance
// report stopped with no pid.
func (s *Supervisor) Status(name string) (models.InstanceStatus, error) {
	if inst, ok := s.registry.Get(name); ok {
		return inst.Snapshot(), nil
	}
	if _, ok := s.specs.Spec(name); !ok {
		return models.InstanceStatus{}, ErrUnknownServer
	}
	return models.InstanceStatus{Name: name, Status: models.StateStopped}, nil
}

// Logs returns up to maxLines recent console lines, oldest first. While the
// server runs, output appended since the previous call is scanned for
// player joins and leaves.
func (s *Supervisor) Logs(ctx context.Context, name string, maxLines int) ([]string, error) {
	spec, ok := s.specs.Spec(name)
	inst, running := s.registry.Get(name)
	if running {
		spec = inst.Spec()
	} else if !ok {
		return nil, ErrUnknownServer
	}

	if running {
		s.scanPresence(ctx, inst)
	}

	lines, err := console.ReadRecent(spec.LogPath, maxLines)
	if err != nil {
		log.Printf("[Lifecycle] Failed to read log for %s: %v", name, err)
		return []string{}, nil
	}
	return lines, nil
}

func (s *Supervisor) scanPresence(ctx context.Context, inst *Instance) {
	joined := inst.scanNewOutput()
	if s.metrics != nil {
		s.metrics.PlayersOnline(inst.name, inst.players.Count())
	}
	if s.notifier == nil {
		return
	}
	for _, player := range joined {
		s.notifier.NotifyPlayerJoined(ctx, inst.name, player)
	}
}

// Players returns the presence set of name
func (s *Supervisor) Players(name string) ([]string, error) {
	if inst, ok := s.registry.Get(name); ok {
		return inst.Players(), nil
	}
	if _, ok := s.specs.Spec(name); !ok {
		return nil, ErrUnknownServer
	}
	return []string{}, nil
}

// AcceptEULA writes the acceptance marker into the working directory of name
func (s *Supervisor) AcceptEULA(name string) error {
	spec, ok := s.specs.Spec(name)
	if !ok {
		return ErrUnknownServer
	}
	if err := process.AcceptEULA(spec.WorkingDir, time.Now()); err != nil {
		return err
	}
	_ = s.activity.LogActivity(&logging.Activity{
		ServerName:   name,
		ActivityType: logging.ActivityEULAAccept,
		Description:  "EULA accepted",
		Success:      true,
	})
	return nil
}

// EULAAccepted reports whether name may be launched without acceptance
func (s *Supervisor) EULAAccepted(name string) (bool, error) {
	spec, ok := s.specs.Spec(name)
	if !ok {
		return false, ErrUnknownServer
	}
	if !spec.RequiresAcceptance() {
		return true, nil
	}
	return process.EULAAccepted(spec.WorkingDir), nil
}

// ReportEvent forwards an event raised outside the supervisor, such as a
// jar update or finished backup, to the notifier.
func (s *Supervisor) ReportEvent(ctx context.Context, name string, trigger webhook.Trigger, detail string) error {
	switch trigger {
	case webhook.TriggerJarUpdated, webhook.TriggerBackupCompleted:
	default:
		return fmt.Errorf("trigger %s cannot be reported externally", trigger)
	}
	if _, ok := s.specs.Spec(name); !ok {
		return ErrUnknownServer
	}
	s.notify(ctx, name, trigger, detail)
	return nil
}

// RunningPIDs returns the pid of every live instance
func (s *Supervisor) RunningPIDs() map[string]int {
	pids := make(map[string]int)
	for _, inst := range s.registry.List() {
		status := inst.Snapshot()
		if status.PID != nil {
			pids[inst.name] = *status.PID
		}
	}
	return pids
}

// Shutdown stops every running server concurrently and waits for all
// monitors, or until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range s.registry.List() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := s.Stop(ctx, name); err != nil && !errors.Is(err, ErrNotRunning) {
				log.Printf("[Lifecycle] Failed to stop %s during shutdown: %v", name, err)
			}
		}(inst.name)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		s.monitors.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Lifecycle] All servers stopped")
	case <-ctx.Done():
		log.Printf("[Lifecycle] Shutdown interrupted with %d servers still registered", s.registry.Len())
	}
}

func (s *Supervisor) notify(ctx context.Context, name string, trigger webhook.Trigger, detail string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, name, trigger, webhook.Message(trigger, name, detail))
}

func (s *Supervisor) broadcast(name, eventType string, payload map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastServerEvent(name, eventType, payload)
}

func failure(message string) models.ActionResult {
	return models.ActionResult{Success: false, Message: message}
}
