package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ConfigStore loads and saves per-server webhook configuration
type ConfigStore interface {
	Load(ctx context.Context, server string) (Config, error)
	Save(ctx context.Context, server string, cfg Config) error
}

// DeliveryRecorder persists delivery attempts
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d Delivery, res Result) error
}

// DeliveryRecord is a persisted delivery attempt
type DeliveryRecord struct {
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	Trigger    Trigger   `json:"trigger"`
	StatusCode int       `json:"status_code"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SQLStore keeps webhook configuration and deliveries in the database
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Load returns the stored config or the default config if none exists
func (s *SQLStore) Load(ctx context.Context, server string) (Config, error) {
	var url, triggersJSON, watched string
	err := s.db.QueryRowContext(ctx, `
		SELECT url, triggers, watched_username
		FROM webhook_configs
		WHERE server_name = ?
	`, server).Scan(&url, &triggersJSON, &watched)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to load webhook config: %w", err)
	}

	cfg := Config{URL: url, WatchedUsername: watched}
	if triggersJSON != "" {
		if err := json.Unmarshal([]byte(triggersJSON), &cfg.Triggers); err != nil {
			return Config{}, fmt.Errorf("failed to decode webhook triggers: %w", err)
		}
	}
	return cfg.Normalize(), nil
}

// Save upserts the config for server
func (s *SQLStore) Save(ctx context.Context, server string, cfg Config) error {
	cfg = cfg.Normalize()
	triggersJSON, err := json.Marshal(cfg.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode webhook triggers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (server_name, url, triggers, watched_username, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(server_name) DO UPDATE SET
			url = excluded.url,
			triggers = excluded.triggers,
			watched_username = excluded.watched_username,
			updated_at = excluded.updated_at
	`, server, cfg.URL, string(triggersJSON), cfg.WatchedUsername, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save webhook config: %w", err)
	}
	return nil
}

// RecordDelivery stores one delivery attempt
func (s *SQLStore) RecordDelivery(ctx context.Context, d Delivery, res Result) error {
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, server_name, trigger_name, status_code, delivered, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Server, string(d.Trigger), res.StatusCode, res.Delivered, errMsg)
	if err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the latest deliveries for server
func (s *SQLStore) ListDeliveries(ctx context.Context, server string, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_name, trigger_name, COALESCE(status_code, 0), delivered, COALESCE(error, ''), created_at
		FROM webhook_deliveries
		WHERE server_name = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, server, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook deliveries: %w", err)
	}
	defer rows.Close()

	records := []DeliveryRecord{}
	for rows.Next() {
		var r DeliveryRecord
		var trigger string
		if err := rows.Scan(&r.ID, &r.Server, &trigger, &r.StatusCode, &r.Delivered, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		r.Trigger = Trigger(trigger)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupDeliveries deletes delivery records older than retentionDays
func CleanupDeliveries(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	res, err := db.ExecContext(ctx, "DELETE FROM webhook_deliveries WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up webhook deliveries: %w", err)
	}
	return res.RowsAffected()
}

// MemoryStore is a ConfigStore kept in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]Config)}
}

func (m *MemoryStore) Load(_ context.Context, server string) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[server]
	if !ok {
		return DefaultConfig(), nil
	}
	return cfg.Normalize(), nil
}

func (m *MemoryStore) Save(_ context.Context, server string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[server] = cfg.Normalize()
	return nil
}
