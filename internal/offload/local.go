package offload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination stores files under a directory, typically a mounted share
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{basePath: basePath}
}

func (ld *LocalDestination) resolve(name string) string {
	return filepath.Join(ld.basePath, filepath.FromSlash(name))
}

// Upload copies r to name, removing partial files on failure
func (ld *LocalDestination) Upload(_ context.Context, name string, r io.Reader, size int64) error {
	destPath := ld.resolve(name)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create offload directory: %w", err)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create offload file: %w", err)
	}

	written, err := io.Copy(file, r)
	closeErr := file.Close()
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write offload file: %w", err)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to close offload file: %w", closeErr)
	}
	if size >= 0 && written != size {
		os.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", size, written)
	}

	log.Printf("[LocalDest] Stored %s (%d bytes)", destPath, written)
	return nil
}

// List returns every file below the base path
func (ld *LocalDestination) List(_ context.Context) ([]RemoteFile, error) {
	var files []RemoteFile
	err := filepath.WalkDir(ld.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == ld.basePath {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("[LocalDest] Warning: Failed to get info for %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(ld.basePath, path)
		if err != nil {
			return err
		}
		files = append(files, RemoteFile{
			Name:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list offload directory: %w", err)
	}
	return files, nil
}

// Delete removes name from the destination
func (ld *LocalDestination) Delete(_ context.Context, name string) error {
	if err := os.Remove(ld.resolve(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete offload file: %w", err)
	}
	return nil
}

func (ld *LocalDestination) Type() string { return "local" }

func (ld *LocalDestination) Close() error { return nil }
