package console

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCommandLength bounds a single console command
const MaxCommandLength = 512

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\][^\x07]*\x07|\([B0]|[=>])`)

// SanitizeLine strips escape sequences and control characters from a log line
func SanitizeLine(line string) string {
	if line == "" {
		return ""
	}
	line = strings.ToValidUTF8(line, "")
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		// Keep tabs, remove other control characters
		if r == '\t' {
			return r
		}
		if r < 32 || r == 0x7f {
			return -1
		}
		return r
	}, stripped)
}

// ValidateCommand checks that command is a single printable line
func ValidateCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if len(command) > MaxCommandLength {
		return "", fmt.Errorf("command is too long (max %d characters)", MaxCommandLength)
	}
	if strings.ContainsAny(command, "\n\r") {
		return "", fmt.Errorf("command contains line breaks")
	}
	if ansiEscapePattern.MatchString(command) || strings.ContainsRune(command, 0x1b) {
		return "", fmt.Errorf("command contains escape sequences")
	}
	return command, nil
}
