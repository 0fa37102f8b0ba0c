package console

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// LogArchiver moves oversized server logs aside before a launch so the
// append-only sink starts small. Archived files are tracked in console_logs.
type LogArchiver struct {
	db           *sql.DB
	archiveDir   string
	maxSizeBytes int64
	uploader     ArchiveUploader
}

// ArchiveUploader copies archived files somewhere else. Enqueue must not block.
type ArchiveUploader interface {
	Enqueue(server, path string) bool
}

// NewLogArchiver creates an archiver. A non-positive maxSizeBytes disables archiving.
func NewLogArchiver(db *sql.DB, archiveDir string, maxSizeBytes int64) *LogArchiver {
	return &LogArchiver{
		db:           db,
		archiveDir:   archiveDir,
		maxSizeBytes: maxSizeBytes,
	}
}

// SetUploader hands every newly archived file to u
func (la *LogArchiver) SetUploader(u ArchiveUploader) {
	la.uploader = u
}

// ArchiveIfNeeded rotates logPath when it has grown past the size limit.
// It must only be called while the server is not running.
func (la *LogArchiver) ArchiveIfNeeded(serverName, logPath string) (string, error) {
	if la == nil || la.maxSizeBytes <= 0 {
		return "", nil
	}

	stat, err := os.Stat(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat log file: %w", err)
	}
	if stat.Size() < la.maxSizeBytes {
		return "", nil
	}

	if err := os.MkdirAll(la.archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	archivePath := filepath.Join(la.archiveDir, fmt.Sprintf("%s_%s.log", serverName, timestamp))
	if err := os.Rename(logPath, archivePath); err != nil {
		return "", fmt.Errorf("failed to archive log file: %w", err)
	}

	log.Printf("[LogArchive] Archived %s for server %s (size %d >= %d)", archivePath, serverName, stat.Size(), la.maxSizeBytes)

	if err := la.recordArchive(serverName, archivePath, stat.Size()); err != nil {
		log.Printf("[LogArchive] Failed to record archived log: %v", err)
	}
	if la.uploader != nil {
		la.uploader.Enqueue(serverName, archivePath)
	}
	return archivePath, nil
}

// recordArchive records archived log metadata in database
func (la *LogArchiver) recordArchive(serverName, path string, size int64) error {
	if la.db == nil {
		return nil
	}
	_, err := la.db.Exec(`
		INSERT INTO console_logs (server_name, log_path, size_bytes)
		VALUES (?, ?, ?)
	`, serverName, path, size)
	return err
}

// CleanupOldLogs deletes archived logs older than the retention period
func CleanupOldLogs(db *sql.DB, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")

	rows, err := db.Query(`
		SELECT id, log_path
		FROM console_logs
		WHERE archived_at < ? AND deleted_at IS NULL
	`, cutoff)
	if err != nil {
		return 0, err
	}

	type archived struct {
		id   int64
		path string
	}
	var expired []archived
	for rows.Next() {
		var a archived
		if err := rows.Scan(&a.id, &a.path); err != nil {
			log.Printf("[LogArchive] Failed to scan log row: %v", err)
			continue
		}
		expired = append(expired, a)
	}
	rows.Close()

	deleted := 0
	for _, a := range expired {
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			log.Printf("[LogArchive] Failed to delete log file %s: %v", a.path, err)
			continue
		}
		deleted++

		if _, err := db.Exec(`
			UPDATE console_logs
			SET deleted_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, a.id); err != nil {
			log.Printf("[LogArchive] Failed to mark log as deleted: %v", err)
		}
	}

	log.Printf("[LogArchive] Cleaned up %d old log files (retention: %d days)", deleted, retentionDays)
	return deleted, nil
}
