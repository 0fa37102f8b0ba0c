package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/process"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

type testEnv struct {
	sup      *Supervisor
	launcher *fakeLauncher
	notifier *recordingNotifier
	follower *recordingFollower
	logPath  string
}

func newTestEnv(t *testing.T, launcher *fakeLauncher, stopTimeout time.Duration) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "survival.log")
	specs := staticSpecs{
		"survival": {Name: "survival", WorkingDir: dir, Executable: "server.jar", LogPath: logPath},
		"lobby":    {Name: "lobby", WorkingDir: dir, Executable: "server.jar", LogPath: filepath.Join(dir, "logs", "lobby.log")},
	}
	notifier := &recordingNotifier{}
	follower := &recordingFollower{}
	sup := NewSupervisor(specs, launcher, Options{
		StopTimeout: stopTimeout,
		Notifier:    notifier,
		Follower:    follower,
	})
	return &testEnv{sup: sup, launcher: launcher, notifier: notifier, follower: follower, logPath: logPath}
}

func waitReconciled(t *testing.T, inst *Instance) {
	t.Helper()
	select {
	case <-inst.Reconciled():
	case <-time.After(5 * time.Second):
		t.Fatalf("instance %s was never reconciled", inst.Name())
	}
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	res, err := env.sup.Start(ctx, "survival")
	if err != nil || !res.Success {
		t.Fatalf("expected start to succeed, got %+v, %v", res, err)
	}

	res, err = env.sup.Start(ctx, "survival")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected second start to fail")
	}
	if env.launcher.launchCount() != 1 {
		t.Fatalf("expected exactly one launch, got %d", env.launcher.launchCount())
	}
	if !env.follower.following("survival") {
		t.Fatalf("expected live console to follow the running server")
	}
	if !env.notifier.has(webhook.TriggerServerStarted) {
		t.Fatalf("expected server_started notification")
	}
}

func TestStopWhenStoppedReturnsNotRunning(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)

	res, err := env.sup.Stop(context.Background(), "survival")
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected stop to fail")
	}
}

func TestOutOfBandExitIsClassifiedAsCrash(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	inst, _ := env.sup.Registry().Get("survival")

	env.launcher.last().exit(3)
	waitReconciled(t, inst)

	if _, ok := env.sup.Registry().Get("survival"); ok {
		t.Fatalf("expected crashed instance to be removed from the registry")
	}
	if !env.notifier.has(webhook.TriggerServerCrashed) {
		t.Fatalf("expected server_crashed, got %v", env.notifier.triggers())
	}
	if env.notifier.has(webhook.TriggerServerStopped) || env.notifier.has(webhook.TriggerServerTerminated) {
		t.Fatalf("crash must not fire stop triggers, got %v", env.notifier.triggers())
	}
	if inst.Outcome().Code != 3 {
		t.Fatalf("expected exit code 3, got %d", inst.Outcome().Code)
	}
	if env.follower.following("survival") {
		t.Fatalf("expected follower to be released after exit")
	}

	// A stop arriving after reconciliation must not act on the stale handle
	if _, err := env.sup.Stop(ctx, "survival"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after crash, got %v", err)
	}
}

func TestStopIsClassifiedAsIntentional(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	res, err := env.sup.Stop(ctx, "survival")
	if err != nil || !res.Success {
		t.Fatalf("expected stop to succeed, got %+v, %v", res, err)
	}
	if res.Forced {
		t.Fatalf("expected graceful stop")
	}

	if !env.notifier.has(webhook.TriggerServerStopped) || !env.notifier.has(webhook.TriggerServerTerminated) {
		t.Fatalf("expected stopped and terminated triggers, got %v", env.notifier.triggers())
	}
	if env.notifier.has(webhook.TriggerServerCrashed) {
		t.Fatalf("intentional stop must not fire server_crashed")
	}
	if lines := env.launcher.last().writtenLines(); len(lines) != 1 || lines[0] != "stop" {
		t.Fatalf("expected the stop command to be written, got %v", lines)
	}

	status, err := env.sup.Status("survival")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != models.StateStopped || status.PID != nil {
		t.Fatalf("expected stopped status without pid, got %+v", status)
	}
}

func TestStopTimeoutEscalatesToKill(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{ignoreStop: true}, 50*time.Millisecond)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	handle := env.launcher.last()

	res, err := env.sup.Stop(ctx, "survival")
	if err != nil || !res.Success {
		t.Fatalf("expected forced stop to still succeed, got %+v, %v", res, err)
	}
	if !res.Forced {
		t.Fatalf("expected stop to report the forced path")
	}
	if handle.killCount() != 1 {
		t.Fatalf("expected exactly one kill, got %d", handle.killCount())
	}
	if env.notifier.has(webhook.TriggerServerCrashed) {
		t.Fatalf("forced stop is still intentional")
	}
}

func TestConcurrentStopHasSingleWinner(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{stopDelay: 50 * time.Millisecond}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	handle := env.launcher.last()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	results := make([]models.ActionResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.sup.Stop(ctx, "survival")
		}(i)
	}
	wg.Wait()

	successes, notRunning := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil && results[i].Success:
			successes++
		case errors.Is(errs[i], ErrNotRunning):
			notRunning++
		default:
			t.Fatalf("unexpected stop result %+v, %v", results[i], errs[i])
		}
	}
	if successes != 1 || notRunning != 1 {
		t.Fatalf("expected one success and one NotRunning, got %d and %d", successes, notRunning)
	}
	if handle.killCount() != 0 {
		t.Fatalf("expected no forced kill, got %d", handle.killCount())
	}
	if len(handle.writtenLines()) != 1 {
		t.Fatalf("expected a single stop command, got %v", handle.writtenLines())
	}
	if env.sup.Registry().Len() != 0 {
		t.Fatalf("expected registry to be empty")
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)

	first, err := env.sup.Status("survival")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	second, _ := env.sup.Status("survival")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical stopped status, got %+v and %+v", first, second)
	}

	if _, err := env.sup.Start(context.Background(), "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	first, _ = env.sup.Status("survival")
	second, _ = env.sup.Status("survival")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical running status, got %+v and %+v", first, second)
	}
	if first.Status != models.StateRunning || first.PID == nil || *first.PID != env.launcher.last().pid {
		t.Fatalf("unexpected running status %+v", first)
	}

	if _, err := env.sup.Status("missing"); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.SendCommand(ctx, "survival", "say hi"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if env.notifier.has(webhook.TriggerCommandReceived) {
		t.Fatalf("failed command must not notify")
	}

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	res, err := env.sup.SendCommand(ctx, "survival", "  say hi  ")
	if err != nil || !res.Success {
		t.Fatalf("expected command to succeed, got %+v, %v", res, err)
	}
	if lines := env.launcher.last().writtenLines(); len(lines) != 1 || lines[0] != "say hi" {
		t.Fatalf("unexpected written lines %v", lines)
	}
	if !env.notifier.has(webhook.TriggerCommandReceived) {
		t.Fatalf("expected command_received notification")
	}

	if _, err := env.sup.SendCommand(ctx, "survival", "say a\nstop"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := env.sup.SendCommand(ctx, "survival", "   "); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for blank command, got %v", err)
	}
}

func TestStopSentAsCommandIsACrash(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	inst, _ := env.sup.Registry().Get("survival")

	if _, err := env.sup.SendCommand(ctx, "survival", "stop"); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	waitReconciled(t, inst)

	if !env.notifier.has(webhook.TriggerServerCrashed) {
		t.Fatalf("expected self-termination to be classified as a crash, got %v", env.notifier.triggers())
	}
	if env.notifier.has(webhook.TriggerServerStopped) {
		t.Fatalf("self-termination must not fire server_stopped")
	}
}

func TestStartPreconditionFailures(t *testing.T) {
	launcher := &fakeLauncher{err: &process.PreconditionError{Reason: process.ReasonEULANotAccepted, Path: "/srv"}}
	env := newTestEnv(t, launcher, time.Second)

	res, err := env.sup.Start(context.Background(), "survival")
	if !errors.Is(err, ErrPreconditionNotMet) {
		t.Fatalf("expected ErrPreconditionNotMet, got %v", err)
	}
	if res.Success || !res.EULARequired {
		t.Fatalf("expected EULA flag, got %+v", res)
	}
	if env.sup.Registry().Len() != 0 {
		t.Fatalf("failed start must not register an instance")
	}

	launcher.err = &process.PreconditionError{Reason: process.ReasonArtifactMissing, Path: "/srv/server.jar"}
	res, err = env.sup.Start(context.Background(), "survival")
	if !errors.Is(err, ErrPreconditionNotMet) || res.EULARequired {
		t.Fatalf("expected plain precondition failure, got %+v, %v", res, err)
	}

	launcher.err = process.ErrLaunchFailed
	if _, err := env.sup.Start(context.Background(), "survival"); !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got %v", err)
	}

	if _, err := env.sup.Start(context.Background(), "missing"); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
}

func TestRestartAfterCrashLaunchesFreshProcess(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	inst, _ := env.sup.Registry().Get("survival")
	env.launcher.last().exit(1)
	waitReconciled(t, inst)

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if env.launcher.launchCount() != 2 {
		t.Fatalf("expected two launches, got %d", env.launcher.launchCount())
	}
	fresh, ok := env.sup.Registry().Get("survival")
	if !ok || fresh == inst {
		t.Fatalf("expected a new instance to be registered")
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := env.sup.Start(ctx, "lobby"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	inst, _ := env.sup.Registry().Get("survival")
	env.launcher.handles[0].exit(137)
	waitReconciled(t, inst)

	status, _ := env.sup.Status("lobby")
	if status.Status != models.StateRunning {
		t.Fatalf("crash of one server must not affect another, got %+v", status)
	}
	if pids := env.sup.RunningPIDs(); len(pids) != 1 || pids["lobby"] == 0 {
		t.Fatalf("unexpected running pids %v", pids)
	}
}

func TestLogsTrackPresence(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(env.logPath), 0755); err != nil {
		t.Fatal(err)
	}
	// Output from a previous run is not scanned
	if err := os.WriteFile(env.logPath, []byte("Notch joined the game\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := env.sup.Start(ctx, "survival"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	appendLog := func(s string) {
		f, err := os.OpenFile(env.logPath, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		f.WriteString(s)
	}

	appendLog("[12:00:01 INFO]: Steve joined the game\n[12:00:02 INFO]: Alex joined the game\n")
	lines, err := env.sup.Logs(ctx, "survival", 2)
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if len(lines) != 2 || lines[1] != "[12:00:02 INFO]: Alex joined the game" {
		t.Fatalf("unexpected lines %v", lines)
	}

	players, _ := env.sup.Players("survival")
	if !reflect.DeepEqual(players, []string{"Alex", "Steve"}) {
		t.Fatalf("unexpected players %v", players)
	}
	status, _ := env.sup.Status("survival")
	if status.OnlinePlayers != 2 {
		t.Fatalf("expected 2 online players, got %d", status.OnlinePlayers)
	}

	appendLog("[12:00:03 INFO]: Steve left the game\n")
	if _, err := env.sup.Logs(ctx, "survival", 10); err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if _, err := env.sup.Logs(ctx, "survival", 10); err != nil {
		t.Fatalf("logs failed: %v", err)
	}

	players, _ = env.sup.Players("survival")
	if !reflect.DeepEqual(players, []string{"Alex"}) {
		t.Fatalf("expected only Alex online, got %v", players)
	}
	if joined := env.notifier.joined(); !reflect.DeepEqual(joined, []string{"Steve", "Alex"}) {
		t.Fatalf("expected each join to be reported once, got %v", joined)
	}
}

func TestLogsForStoppedServer(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)

	lines, err := env.sup.Logs(context.Background(), "survival", 50)
	if err != nil {
		t.Fatalf("expected missing log to be empty, got %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}

	players, err := env.sup.Players("survival")
	if err != nil || len(players) != 0 {
		t.Fatalf("expected empty presence for stopped server, got %v, %v", players, err)
	}

	if _, err := env.sup.Logs(context.Background(), "missing", 10); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
}

func TestReportEvent(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	if err := env.sup.ReportEvent(ctx, "survival", webhook.TriggerBackupCompleted, "nightly"); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !env.notifier.has(webhook.TriggerBackupCompleted) {
		t.Fatalf("expected backup_completed notification")
	}
	if err := env.sup.ReportEvent(ctx, "survival", webhook.TriggerServerCrashed, ""); err == nil {
		t.Fatalf("lifecycle triggers must not be reported externally")
	}
}

func TestEULAAcceptance(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)

	accepted, err := env.sup.EULAAccepted("survival")
	if err != nil || accepted {
		t.Fatalf("expected EULA not yet accepted, got %v, %v", accepted, err)
	}
	if err := env.sup.AcceptEULA("survival"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	accepted, _ = env.sup.EULAAccepted("survival")
	if !accepted {
		t.Fatalf("expected EULA to be accepted")
	}
}

func TestShutdownStopsAllServers(t *testing.T) {
	env := newTestEnv(t, &fakeLauncher{}, time.Second)
	ctx := context.Background()

	for _, name := range []string{"survival", "lobby"} {
		if _, err := env.sup.Start(ctx, name); err != nil {
			t.Fatalf("start %s failed: %v", name, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	env.sup.Shutdown(shutdownCtx)

	if env.sup.Registry().Len() != 0 {
		t.Fatalf("expected all servers stopped")
	}
	if env.notifier.has(webhook.TriggerServerCrashed) {
		t.Fatalf("shutdown stops are intentional")
	}
}
