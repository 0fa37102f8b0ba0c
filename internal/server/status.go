package server

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TheGojiOG/servervisor/internal/models"
)

// Exit labels persisted in server_status.last_exit
const (
	ExitStopped = "stopped"
	ExitForced  = "forced"
	ExitCrashed = "crashed"
	ExitLost    = "lost"
)

// StatusRecord is the last persisted state of a server
type StatusRecord struct {
	ServerName   string
	Status       models.InstanceState
	PID          int
	ExitCode     *int
	LastExit     string
	LastStarted  *time.Time
	LastStopped  *time.Time
	ErrorMessage string
}

// StatusStore persists reconciled lifecycle state so the dashboard can show
// why a server last stopped across supervisor restarts. A nil db disables it.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore creates a store on the server_status table
func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// RecordStarted marks name running with pid
func (s *StatusStore) RecordStarted(name string, pid int, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO server_status (server_name, status, pid, exit_code, last_exit, last_started, error_message, updated_at)
		VALUES (?, ?, ?, NULL, '', ?, '', ?)
		ON CONFLICT(server_name) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			exit_code = NULL,
			last_started = excluded.last_started,
			error_message = '',
			updated_at = excluded.updated_at
	`, name, string(models.StateRunning), pid, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	return nil
}

// RecordStopping marks name as waiting for a graceful stop
func (s *StatusStore) RecordStopping(name string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE server_status SET status = ?, updated_at = ? WHERE server_name = ?
	`, string(models.StateStopping), time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	return nil
}

// RecordExited marks name stopped with the classified exit
func (s *StatusStore) RecordExited(name, lastExit string, exitCode int, errMsg string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO server_status (server_name, status, pid, exit_code, last_exit, last_stopped, error_message, updated_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?)
		ON CONFLICT(server_name) DO UPDATE SET
			status = excluded.status,
			pid = NULL,
			exit_code = excluded.exit_code,
			last_exit = excluded.last_exit,
			last_stopped = excluded.last_stopped,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, name, string(models.StateStopped), exitCode, lastExit, at.UTC(), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	return nil
}

// Get returns the last persisted record for name
func (s *StatusStore) Get(name string) (*StatusRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	rec := &StatusRecord{ServerName: name}
	var status string
	var pid, exitCode sql.NullInt64
	var lastExit, errMsg sql.NullString
	var lastStarted, lastStopped sql.NullTime

	err := s.db.QueryRow(`
		SELECT status, pid, exit_code, last_exit, last_started, last_stopped, error_message
		FROM server_status WHERE server_name = ?
	`, name).Scan(&status, &pid, &exitCode, &lastExit, &lastStarted, &lastStopped, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query server status: %w", err)
	}

	rec.Status = models.InstanceState(status)
	rec.PID = int(pid.Int64)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	rec.LastExit = lastExit.String
	rec.ErrorMessage = errMsg.String
	if lastStarted.Valid {
		rec.LastStarted = &lastStarted.Time
	}
	if lastStopped.Valid {
		rec.LastStopped = &lastStopped.Time
	}
	return rec, nil
}

// ReconcileOnBoot marks servers left running by a previous supervisor run as
// lost. Their children were not adopted and presence is not recoverable.
func (s *StatusStore) ReconcileOnBoot() (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE server_status
		SET status = ?, pid = NULL, last_exit = ?, last_stopped = ?, error_message = ?, updated_at = ?
		WHERE status != ?
	`, string(models.StateStopped), ExitLost, now, "supervisor restarted while server was running", now, string(models.StateStopped))
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile server status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		log.Printf("[Status] Marked %d servers as lost after restart", n)
	}
	return n, nil
}
