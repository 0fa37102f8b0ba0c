package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter types accepted by NewOutputFilter
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

// Java servers tag every line with a level, e.g.
// "[12:00:01] [Server thread/WARN]: ..." (vanilla, paper) or
// "[12:00:01 ERROR]: ..." (spigot, velocity).
var problemLevelPattern = regexp.MustCompile(`(?i)[\[/ ](WARN|WARNING|ERROR|SEVERE|FATAL)\]`)

// Phrases that mark trouble on lines without a level tag
var problemPhrases = []string{
	"exception",
	"crash report",
	"can't keep up",
	"outofmemoryerror",
	"failed to bind to port",
	"encountered an unexpected exception",
}

// OutputFilter selects log lines returned to viewers
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// NewOutputFilter validates filterType and compiles regex patterns. An
// empty type means no filtering.
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}
	switch filterType {
	case FilterNone, FilterErrors, FilterSearch, FilterRegex:
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	if filterType == FilterRegex && pattern != "" {
		flags := ""
		if !caseSensitive {
			flags = "(?i)"
		}
		compiled, err := regexp.Compile(flags + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		filter.regex = compiled
	}

	return filter, nil
}

// Match reports whether a single line passes the filter. Stack trace
// continuation lines only pass the errors filter through FilterLines.
func (f *OutputFilter) Match(line string) bool {
	if f == nil {
		return true
	}
	switch f.FilterType {
	case FilterErrors:
		return IsProblemLine(line)
	case FilterSearch:
		if f.Pattern == "" {
			return true
		}
		if f.CaseSensitive {
			return strings.Contains(line, f.Pattern)
		}
		return strings.Contains(strings.ToLower(line), strings.ToLower(f.Pattern))
	case FilterRegex:
		return f.regex == nil || f.regex.MatchString(line)
	default:
		return true
	}
}

// FilterLines returns the lines passing the filter, oldest first. The errors
// filter keeps the stack trace that follows a matched line.
func (f *OutputFilter) FilterLines(lines []string) []string {
	if f == nil || f.FilterType == FilterNone {
		return lines
	}

	filtered := []string{}
	inTrace := false
	for _, line := range lines {
		switch {
		case f.Match(line):
			filtered = append(filtered, line)
			inTrace = f.FilterType == FilterErrors
		case inTrace && isTraceContinuation(line):
			filtered = append(filtered, line)
		default:
			inTrace = false
		}
	}
	return filtered
}

// IsProblemLine reports whether a log line carries a warning or error level
// tag, or a phrase servers print when something went wrong.
func IsProblemLine(line string) bool {
	if problemLevelPattern.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, phrase := range problemPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// isTraceContinuation matches the untagged lines of a Java stack trace
func isTraceContinuation(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "at ") ||
		strings.HasPrefix(trimmed, "Caused by:") ||
		strings.HasPrefix(trimmed, "Suppressed:") ||
		(strings.HasPrefix(trimmed, "...") && strings.HasSuffix(trimmed, "more"))
}
