package console

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheGojiOG/servervisor/internal/websocket"
)

// Broadcaster delivers messages to websocket rooms
type Broadcaster interface {
	BroadcastToRoom(room string, message *websocket.Message)
}

// follower streams appended output of one log file
type follower struct {
	name   string
	path   string
	cursor *LogCursor
	buffer *RingBuffer
}

// FollowerManager streams appended log output of running servers to
// websocket viewers. It never feeds the presence tracker.
type FollowerManager struct {
	watcher     *fsnotify.Watcher
	hub         Broadcaster
	bufferLines int

	mu        sync.Mutex
	followers map[string]*follower // by server name
	byPath    map[string]*follower
	dirs      map[string]int // watched directory -> follower count

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFollowerManager creates a manager keeping bufferLines of history per server
func NewFollowerManager(hub Broadcaster, bufferLines int) (*FollowerManager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if bufferLines <= 0 {
		bufferLines = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	fm := &FollowerManager{
		watcher:     watcher,
		hub:         hub,
		bufferLines: bufferLines,
		followers:   make(map[string]*follower),
		byPath:      make(map[string]*follower),
		dirs:        make(map[string]int),
		cancel:      cancel,
	}

	fm.wg.Add(1)
	go fm.processEvents(ctx)

	return fm, nil
}

// Follow starts streaming output appended to path after this call
func (fm *FollowerManager) Follow(name, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if existing, ok := fm.followers[name]; ok {
		if existing.path == absPath {
			return nil
		}
		fm.unfollowLocked(name)
	}

	dir := filepath.Dir(absPath)
	if fm.dirs[dir] == 0 {
		if err := fm.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	fm.dirs[dir]++

	f := &follower{
		name:   name,
		path:   absPath,
		cursor: NewLogCursor(absPath),
		buffer: NewRingBuffer(fm.bufferLines),
	}

	fm.followers[name] = f
	fm.byPath[absPath] = f
	log.Printf("[Console] Following %s for server %s", absPath, name)
	return nil
}

// Unfollow stops streaming for name
func (fm *FollowerManager) Unfollow(name string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.unfollowLocked(name)
}

func (fm *FollowerManager) unfollowLocked(name string) {
	f, ok := fm.followers[name]
	if !ok {
		return
	}
	delete(fm.followers, name)
	delete(fm.byPath, f.path)

	dir := filepath.Dir(f.path)
	fm.dirs[dir]--
	if fm.dirs[dir] <= 0 {
		delete(fm.dirs, dir)
		_ = fm.watcher.Remove(dir)
	}
	log.Printf("[Console] Stopped following %s", name)
}

// Recent returns up to n buffered lines streamed for name
func (fm *FollowerManager) Recent(name string, n int) []string {
	fm.mu.Lock()
	f, ok := fm.followers[name]
	fm.mu.Unlock()
	if !ok {
		return []string{}
	}
	return f.buffer.GetLast(n)
}

// Close stops the event loop and the underlying watcher
func (fm *FollowerManager) Close() error {
	fm.cancel()
	err := fm.watcher.Close()
	fm.wg.Wait()
	return err
}

func (fm *FollowerManager) processEvents(ctx context.Context) {
	defer fm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fm.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fm.mu.Lock()
			f, tracked := fm.byPath[filepath.Clean(event.Name)]
			var lines []string
			if tracked {
				lines = f.readAppended()
			}
			fm.mu.Unlock()

			for _, line := range lines {
				fm.broadcast(f.name, line)
			}

		case err, ok := <-fm.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Console] File watcher error: %v", err)
		}
	}
}

// readAppended reads output written since the last call and buffers it
func (f *follower) readAppended() []string {
	lines := f.cursor.ReadNew()
	for _, line := range lines {
		f.buffer.Add(line)
	}
	return lines
}

func (fm *FollowerManager) broadcast(name, line string) {
	if fm.hub == nil {
		return
	}
	fm.hub.BroadcastToRoom(websocket.ServerRoom(name), &websocket.Message{
		Type: "console_output",
		Payload: map[string]interface{}{
			"line":   line,
			"server": name,
		},
		Timestamp: time.Now(),
	})
}
