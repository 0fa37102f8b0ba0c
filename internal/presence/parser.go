// Package presence derives the set of connected players from server log text.
// Matching is a best-effort heuristic over free-form lines, not a protocol.
package presence

import (
	"regexp"
	"strings"
)

// Kind distinguishes join and leave deltas
type Kind int

const (
	Join Kind = iota + 1
	Leave
)

func (k Kind) String() string {
	switch k {
	case Join:
		return "join"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// Delta is one presence change extracted from a log line
type Delta struct {
	Kind   Kind
	Player string
	Line   string
}

var (
	joinPattern  = regexp.MustCompile(`(?i)(\w+)\s+(?:joined the game|logged in)`)
	leavePattern = regexp.MustCompile(`(?i)(\w+)\s+(?:left the game|disconnected)`)
)

// ScanLine extracts at most one delta from line. A line mentioning a join
// phrase is never considered for a leave.
func ScanLine(line string) (Delta, bool) {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "joined the game") || strings.Contains(lower, "logged in") {
		if m := joinPattern.FindStringSubmatch(line); m != nil {
			return Delta{Kind: Join, Player: m[1], Line: line}, true
		}
		return Delta{}, false
	}

	if strings.Contains(lower, "left the game") || strings.Contains(lower, "disconnected") {
		if m := leavePattern.FindStringSubmatch(line); m != nil {
			return Delta{Kind: Leave, Player: m[1], Line: line}, true
		}
	}
	return Delta{}, false
}

// Scan extracts deltas from lines in order. Lines that do not match are skipped.
func Scan(lines []string) []Delta {
	var deltas []Delta
	for _, line := range lines {
		if d, ok := ScanLine(line); ok {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

// MatchesWatched reports whether player is the watched username.
func MatchesWatched(player, watched string) bool {
	watched = strings.TrimSpace(watched)
	return watched != "" && strings.EqualFold(player, watched)
}
