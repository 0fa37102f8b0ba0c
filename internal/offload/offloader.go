package offload

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome labels passed to Observer
const (
	ResultUploaded = "uploaded"
	ResultFailed   = "failed"
	ResultDropped  = "dropped"
)

// Observer is told about every upload outcome
type Observer interface {
	ObserveOffload(destination, result string)
}

// Options tunes an Offloader
type Options struct {
	// CompressionLevel is the gzip level. Zero uploads files as they are.
	CompressionLevel int
	QueueSize        int
	Observer         Observer
}

type job struct {
	server string
	path   string
}

// Offloader uploads archived console logs in the background and records the
// remote copy in console_logs.
type Offloader struct {
	dest     Destination
	db       *sql.DB
	level    int
	observer Observer
	queue    chan job

	wg sync.WaitGroup
}

// NewOffloader creates an offloader. db may be nil. Call Run to start uploading.
func NewOffloader(dest Destination, db *sql.DB, opts Options) *Offloader {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.CompressionLevel > gzip.BestCompression {
		opts.CompressionLevel = gzip.BestCompression
	}
	return &Offloader{
		dest:     dest,
		db:       db,
		level:    opts.CompressionLevel,
		observer: opts.Observer,
		queue:    make(chan job, opts.QueueSize),
	}
}

// Enqueue schedules path for upload. It never blocks and reports false when
// the queue is full.
func (o *Offloader) Enqueue(server, path string) bool {
	select {
	case o.queue <- job{server: server, path: path}:
		return true
	default:
		log.Printf("[Offload] Queue full, skipping %s", path)
		o.observe(ResultDropped)
		return false
	}
}

// Run uploads queued files until ctx is cancelled
func (o *Offloader) Run(ctx context.Context) {
	o.wg.Add(1)
	defer o.wg.Done()
	log.Printf("[Offload] Uploading archived logs to %s destination", o.dest.Type())

	for {
		select {
		case <-ctx.Done():
			if pending := len(o.queue); pending > 0 {
				log.Printf("[Offload] Stopped with %d archived logs not uploaded", pending)
			}
			return
		case j := <-o.queue:
			if _, err := o.Offload(ctx, j.server, j.path); err != nil {
				log.Printf("[Offload] Failed to upload %s: %v", j.path, err)
			}
		}
	}
}

// Offload uploads one archived log and returns its remote name
func (o *Offloader) Offload(ctx context.Context, server, path string) (string, error) {
	name := server + "/" + filepath.Base(path)
	if o.level > 0 {
		name += ".gz"
	}

	body, size, cleanup, err := o.prepare(path)
	if err != nil {
		o.observe(ResultFailed)
		return "", err
	}
	defer cleanup()

	if err := o.dest.Upload(ctx, name, body, size); err != nil {
		o.observe(ResultFailed)
		return "", err
	}
	o.observe(ResultUploaded)

	if err := o.record(path, name); err != nil {
		log.Printf("[Offload] Failed to record upload of %s: %v", path, err)
	}
	return name, nil
}

// prepare opens path, compressing it into a temporary file first when
// compression is enabled so the upload size is known.
func (o *Offloader) prepare(path string) (io.ReadSeeker, int64, func(), error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to open archived log: %w", err)
	}
	if o.level <= 0 {
		stat, err := src.Stat()
		if err != nil {
			src.Close()
			return nil, 0, nil, fmt.Errorf("failed to stat archived log: %w", err)
		}
		return src, stat.Size(), func() { src.Close() }, nil
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "servervisor-offload-*.gz")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	zw, err := gzip.NewWriterLevel(tmp, o.level)
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	zw.Name = filepath.Base(path)
	if _, err := io.Copy(zw, src); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("failed to compress archived log: %w", err)
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("failed to compress archived log: %w", err)
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	return tmp, size, cleanup, nil
}

func (o *Offloader) record(path, name string) error {
	if o.db == nil {
		return nil
	}
	_, err := o.db.Exec(`
		UPDATE console_logs
		SET remote_path = ?, offloaded_at = CURRENT_TIMESTAMP
		WHERE log_path = ?
	`, name, path)
	return err
}

// Prune deletes remote copies older than retentionDays. Zero keeps everything.
func (o *Offloader) Prune(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	files, err := o.dest.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			continue
		}
		if err := o.dest.Delete(ctx, f.Name); err != nil {
			log.Printf("[Offload] Failed to delete remote copy %s: %v", f.Name, err)
			continue
		}
		deleted++
	}

	log.Printf("[Offload] Pruned %d remote log copies (retention: %d days)", deleted, retentionDays)
	return deleted, nil
}

// Close waits for Run to return and releases the destination
func (o *Offloader) Close() error {
	o.wg.Wait()
	return o.dest.Close()
}

func (o *Offloader) observe(result string) {
	if o.observer != nil {
		o.observer.ObserveOffload(o.dest.Type(), result)
	}
}
