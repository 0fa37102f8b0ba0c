package process

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EULAFile is the acceptance marker looked up in the working directory.
const EULAFile = "eula.txt"

// ArtifactResolver confirms that a launch artifact exists before spawning.
type ArtifactResolver interface {
	ArtifactExists(path string) bool
}

// AcceptanceStore reports whether the acceptance marker for a directory exists.
type AcceptanceStore interface {
	Accepted(dir string) bool
}

// FileArtifacts resolves artifacts on the local filesystem.
type FileArtifacts struct{}

func (FileArtifacts) ArtifactExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FileAcceptance treats the presence of eula.txt as acceptance.
type FileAcceptance struct{}

func (FileAcceptance) Accepted(dir string) bool {
	return EULAAccepted(dir)
}

// EULAAccepted checks for the acceptance marker in dir.
func EULAAccepted(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, EULAFile))
	return err == nil
}

// AcceptEULA writes the acceptance marker into dir.
func AcceptEULA(dir string, now time.Time) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("server directory not found: %w", err)
	}
	content := "#By changing the setting below to TRUE you are indicating your agreement to our EULA (https://aka.ms/MinecraftEULA).\n" +
		fmt.Sprintf("#%s\n", now.Format("Mon Jan 02 15:04:05 MST 2006")) +
		"eula=true\n"
	if err := os.WriteFile(filepath.Join(dir, EULAFile), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", EULAFile, err)
	}
	return nil
}
