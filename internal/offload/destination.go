// Package offload copies archived console logs to storage off the host and
// prunes old copies there.
package offload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/TheGojiOG/servervisor/internal/config"
)

// Destination stores offloaded files. Names are slash separated and
// relative to the destination root.
type Destination interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) error
	List(ctx context.Context) ([]RemoteFile, error)
	Delete(ctx context.Context, name string) error
	Type() string
	Close() error
}

// RemoteFile is a file held by a destination
type RemoteFile struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// NewDestination creates the destination selected by cfg.Type
func NewDestination(cfg config.OffloadConfig) (Destination, error) {
	switch cfg.Type {
	case "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(cfg.SFTP, cfg.Path), nil
	case "s3":
		return NewS3Destination(cfg.S3, cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}
