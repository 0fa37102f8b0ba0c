package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheGojiOG/servervisor/internal/process"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

type fakeHandle struct {
	pid     int
	started time.Time

	mu         sync.Mutex
	lines      []string
	stopCmd    string
	ignoreStop bool
	stopDelay  time.Duration

	done    chan struct{}
	once    sync.Once
	outcome process.ExitOutcome
	kills   int32
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:     pid,
		started: time.Now(),
		stopCmd: "stop",
		done:    make(chan struct{}),
	}
}

func (h *fakeHandle) exit(code int) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = process.ExitOutcome{Code: code, ExitedAt: time.Now()}
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) PID() int             { return h.pid }
func (h *fakeHandle) StartedAt() time.Time { return h.started }

func (h *fakeHandle) WriteLine(line string) error {
	if h.exited() {
		return process.ErrNotRunning
	}
	h.mu.Lock()
	h.lines = append(h.lines, line)
	respond := line == h.stopCmd && !h.ignoreStop
	delay := h.stopDelay
	h.mu.Unlock()

	if respond {
		go func() {
			time.Sleep(delay)
			h.exit(0)
		}()
	}
	return nil
}

func (h *fakeHandle) Stop(command string, timeout time.Duration) process.StopResult {
	start := time.Now()
	if err := h.WriteLine(command); err != nil {
		return process.StopResult{Elapsed: time.Since(start)}
	}
	select {
	case <-h.done:
		return process.StopResult{Elapsed: time.Since(start)}
	case <-time.After(timeout):
		_ = h.Kill()
		<-h.done
		return process.StopResult{Forced: true, Elapsed: time.Since(start)}
	}
}

func (h *fakeHandle) Wait() process.ExitOutcome {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

func (h *fakeHandle) Kill() error {
	if h.exited() {
		return nil
	}
	atomic.AddInt32(&h.kills, 1)
	h.exit(-1)
	return nil
}

func (h *fakeHandle) writtenLines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

type fakeLauncher struct {
	mu         sync.Mutex
	launches   int
	err        error
	handles    []*fakeHandle
	ignoreStop bool
	stopDelay  time.Duration
	nextPID    int
}

func (l *fakeLauncher) Launch(spec process.Spec) (ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches++
	l.nextPID++
	h := newFakeHandle(1000 + l.nextPID)
	h.ignoreStop = l.ignoreStop
	h.stopDelay = l.stopDelay
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[len(l.handles)-1]
}

type staticSpecs map[string]process.Spec

func (s staticSpecs) Spec(name string) (process.Spec, bool) {
	spec, ok := s[name]
	return spec, ok
}

type notification struct {
	server  string
	trigger webhook.Trigger
	message string
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notification
	players []string
}

func (n *recordingNotifier) Notify(_ context.Context, server string, trigger webhook.Trigger, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{server: server, trigger: trigger, message: message})
	return true
}

func (n *recordingNotifier) NotifyPlayerJoined(_ context.Context, server, player string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players = append(n.players, player)
	return true
}

func (n *recordingNotifier) triggers() []webhook.Trigger {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]webhook.Trigger, len(n.events))
	for i, e := range n.events {
		out[i] = e.trigger
	}
	return out
}

func (n *recordingNotifier) has(t webhook.Trigger) bool {
	for _, got := range n.triggers() {
		if got == t {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) joined() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.players...)
}

type recordingFollower struct {
	mu      sync.Mutex
	follows map[string]string
}

func (f *recordingFollower) Follow(name, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.follows == nil {
		f.follows = make(map[string]string)
	}
	f.follows[name] = path
	return nil
}

func (f *recordingFollower) Unfollow(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.follows, name)
}

func (f *recordingFollower) following(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.follows[name]
	return ok
}

func (h *fakeHandle) killCount() int32 {
	return atomic.LoadInt32(&h.kills)
}
