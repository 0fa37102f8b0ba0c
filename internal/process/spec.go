package process

import (
	"path/filepath"
	"strings"
)

// PlatformVelocity is the proxy platform that ships without an EULA.
const PlatformVelocity = "velocity"

// Spec describes how to launch one supervised server. It is immutable for the
// lifetime of the process it starts.
type Spec struct {
	Name        string
	Platform    string
	WorkingDir  string
	Executable  string   // jar or binary, relative to WorkingDir unless absolute
	JavaArgs    []string // extra JVM flags, non-raw mode only
	ServerArgs  []string // defaults to "nogui"
	MemoryLimit string   // e.g. "1G", becomes -Xmx/-Xms

	// CommandLine replaces the generated java command when UseCommandLine is set.
	CommandLine    string
	UseCommandLine bool

	LogPath string
}

// ArtifactPath resolves the executable against the working directory.
func (s Spec) ArtifactPath() string {
	if s.Executable == "" || filepath.IsAbs(s.Executable) {
		return s.Executable
	}
	return filepath.Join(s.WorkingDir, s.Executable)
}

// Raw reports whether the custom command line is used instead of the java command.
func (s Spec) Raw() bool {
	return s.UseCommandLine && strings.TrimSpace(s.CommandLine) != ""
}

// RequiresAcceptance reports whether an accepted EULA must be present before launch.
func (s Spec) RequiresAcceptance() bool {
	return !s.Raw() && !strings.EqualFold(strings.TrimSpace(s.Platform), PlatformVelocity)
}

func (s Spec) serverArgs() []string {
	if len(s.ServerArgs) == 0 {
		return []string{"nogui"}
	}
	return s.ServerArgs
}
