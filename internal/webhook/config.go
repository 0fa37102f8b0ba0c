package webhook

import "strings"

// Config is the per-server webhook configuration
type Config struct {
	URL             string           `json:"url"`
	Triggers        map[Trigger]bool `json:"triggers"`
	WatchedUsername string           `json:"player_match_username"`
}

// DefaultConfig returns a config with no URL and every trigger disabled
func DefaultConfig() Config {
	cfg := Config{Triggers: make(map[Trigger]bool, len(AllTriggers))}
	for _, t := range AllTriggers {
		cfg.Triggers[t] = false
	}
	return cfg
}

// Normalize trims fields, drops unknown triggers and fills missing ones with false
func (c Config) Normalize() Config {
	out := DefaultConfig()
	out.URL = strings.TrimSpace(c.URL)
	out.WatchedUsername = strings.TrimSpace(c.WatchedUsername)
	for t, enabled := range c.Triggers {
		if _, err := ParseTrigger(string(t)); err == nil {
			out.Triggers[t] = enabled
		}
	}
	return out
}

// Configured reports whether a destination URL is set
func (c Config) Configured() bool {
	return strings.TrimSpace(c.URL) != ""
}

// Enabled reports whether t should produce an outbound call
func (c Config) Enabled(t Trigger) bool {
	return c.Configured() && c.Triggers[t]
}

// Merge applies a partial update. Triggers absent from update keep their value.
func (c Config) Merge(update Config) Config {
	out := c.Normalize()
	out.URL = strings.TrimSpace(update.URL)
	out.WatchedUsername = strings.TrimSpace(update.WatchedUsername)
	for t, enabled := range update.Triggers {
		if _, ok := out.Triggers[t]; ok {
			out.Triggers[t] = enabled
		}
	}
	return out
}
