package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityLogger records supervisor activity to the database and a daily JSONL file
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	ServerName   string                 `json:"server_name"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityServerStart    = "server.start"
	ActivityServerStop     = "server.stop"
	ActivityServerCrash    = "server.crash"
	ActivityCommandExecute = "command.execute"
	ActivityEULAAccept     = "eula.accept"
	ActivityConfigUpdate   = "config.update"
	ActivityWebhookTest    = "webhook.test"
	ActivityLogArchive     = "log.archive"
)

// NewActivityLogger creates a new activity logger
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &ActivityLogger{
		db:     db,
		logDir: logDir,
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return logger, nil
}

// LogActivity logs an activity to both database and file. A nil logger is a no-op.
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}

	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
		// Don't return error, continue with file logging
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// LogServerStart logs a start attempt
func (al *ActivityLogger) LogServerStart(serverName string, pid int, success bool, errorMsg string) error {
	metadata := make(map[string]interface{})
	if pid > 0 {
		metadata["pid"] = pid
	}
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerName:   serverName,
		ActivityType: ActivityServerStart,
		Description:  "Server start requested",
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerStop logs an operator stop and whether it needed a forced kill
func (al *ActivityLogger) LogServerStop(serverName string, forced bool, elapsed time.Duration, success bool, errorMsg string) error {
	metadata := map[string]interface{}{
		"forced":     forced,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerName:   serverName,
		ActivityType: ActivityServerStop,
		Description:  fmt.Sprintf("Server stop requested (forced: %v)", forced),
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerCrash logs an exit that was not requested
func (al *ActivityLogger) LogServerCrash(serverName string, exitCode int, detail string) error {
	return al.LogActivity(&Activity{
		ServerName:   serverName,
		ActivityType: ActivityServerCrash,
		Description:  fmt.Sprintf("Server exited unexpectedly (code %d)", exitCode),
		Metadata: map[string]interface{}{
			"exit_code": exitCode,
			"detail":    detail,
		},
		Success:      false,
		ErrorMessage: detail,
	})
}

// LogCommandExecute logs a console command sent to a server
func (al *ActivityLogger) LogCommandExecute(serverName string, command string, success bool, errorMsg string) error {
	metadata := map[string]interface{}{
		"command": command,
	}
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerName:   serverName,
		ActivityType: ActivityCommandExecute,
		Description:  fmt.Sprintf("Command sent: %s", command),
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// GetActivities retrieves activities from the database, newest first
func (al *ActivityLogger) GetActivities(serverName string, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al == nil || al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, server_name, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if serverName != "" {
		query += " AND server_name = ?"
		args = append(args, serverName)
	}

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var serverNameCol, description, errorMessage, metadataJSON sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&serverNameCol,
			&activity.ActivityType,
			&description,
			&metadataJSON,
			&activity.Success,
			&errorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}
		activity.ServerName = serverNameCol.String
		activity.Description = description.String
		activity.ErrorMessage = errorMessage.String

		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

// GetServerActivities retrieves activities for a specific server
func (al *ActivityLogger) GetServerActivities(serverName string, limit int) ([]*Activity, error) {
	return al.GetActivities(serverName, "", time.Time{}, limit)
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (
			timestamp, server_name, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		activity.Timestamp.UTC(),
		activity.ServerName,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

// logToFile appends the activity as one JSON line to the file for the current day
func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := time.Now().Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	// Sync to disk for lifecycle events
	switch activity.ActivityType {
	case ActivityServerStart, ActivityServerStop, ActivityServerCrash:
		_ = al.currentFile.Sync()
	}

	return nil
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	log.Printf("[ActivityLogger] Rotated log file to: %s", logPath)
	return nil
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// CleanupOldActivities removes database rows and daily files older than olderThan
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) (int64, error) {
	if al == nil || al.db == nil {
		return 0, fmt.Errorf("database not available")
	}

	cutoff := time.Now().Add(-olderThan).UTC()

	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old activities: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)

	al.removeOldFiles(cutoff)
	return rowsAffected, nil
}

func (al *ActivityLogger) removeOldFiles(cutoff time.Time) {
	matches, err := filepath.Glob(filepath.Join(al.logDir, "activity-*.log"))
	if err != nil {
		return
	}
	cutoffDate := cutoff.Format("2006-01-02")
	for _, path := range matches {
		date := filepath.Base(path)
		date = date[len("activity-") : len(date)-len(".log")]
		if date >= cutoffDate || date == al.currentDate {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("[ActivityLogger] Failed to remove %s: %v", path, err)
		}
	}
}

// GetActivityStats counts activities per type
func (al *ActivityLogger) GetActivityStats(serverName string, since time.Time) (map[string]int, error) {
	if al == nil || al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT activity_type, COUNT(*) as count
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if serverName != "" {
		query += " AND server_name = ?"
		args = append(args, serverName)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " GROUP BY activity_type"

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)

	for rows.Next() {
		var activityType string
		var count int

		if err := rows.Scan(&activityType, &count); err != nil {
			log.Printf("[ActivityLogger] Error scanning stats row: %v", err)
			continue
		}

		stats[activityType] = count
	}

	return stats, rows.Err()
}
