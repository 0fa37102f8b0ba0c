package presence

import (
	"sort"
	"strings"
	"sync"
)

// Tracker holds the presence set of one instance. Names compare case-insensitively.
type Tracker struct {
	mu      sync.RWMutex
	players map[string]string // lower-cased name -> last seen spelling
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{players: make(map[string]string)}
}

// Apply folds deltas into the set in order and returns the names that joined.
func (t *Tracker) Apply(deltas []Delta) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var joined []string
	for _, d := range deltas {
		key := strings.ToLower(d.Player)
		switch d.Kind {
		case Join:
			t.players[key] = d.Player
			joined = append(joined, d.Player)
		case Leave:
			delete(t.players, key)
		}
	}
	return joined
}

// Count returns the number of players currently online
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.players)
}

// Players returns the online names sorted case-insensitively
func (t *Tracker) Players() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.players))
	for _, name := range t.players {
		names = append(names, name)
	}
	t.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// Contains reports whether name is online
func (t *Tracker) Contains(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.players[strings.ToLower(name)]
	return ok
}

// Reset empties the set
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.players = make(map[string]string)
	t.mu.Unlock()
}
