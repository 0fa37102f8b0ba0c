package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Last reconciled state of each supervised server
CREATE TABLE server_status (
    server_name TEXT PRIMARY KEY,
    status TEXT NOT NULL,               -- 'stopped', 'running', 'stopping'
    pid INTEGER,
    exit_code INTEGER,
    last_exit TEXT,                     -- 'crashed', 'stopped', 'forced'
    last_started DATETIME,
    last_stopped DATETIME,
    error_message TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Activity log
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    server_name TEXT,
    activity_type TEXT NOT NULL,        -- 'server.start', 'server.crash', 'command.execute', etc.
    description TEXT,
    metadata TEXT,                      -- JSON for additional context
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX idx_activity_server_time ON activity_log(server_name, timestamp DESC);
CREATE INDEX idx_activity_type_time ON activity_log(activity_type, timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS activity_log;
DROP TABLE IF EXISTS server_status;
`,
	},
	{
		Version: "002_webhooks",
		Up: `
CREATE TABLE webhook_configs (
    server_name TEXT PRIMARY KEY,
    url TEXT NOT NULL DEFAULT '',
    triggers TEXT NOT NULL DEFAULT '{}',    -- JSON map of trigger -> enabled
    watched_username TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE webhook_deliveries (
    id TEXT PRIMARY KEY,
    server_name TEXT NOT NULL,
    trigger_name TEXT NOT NULL,
    status_code INTEGER,
    delivered BOOLEAN NOT NULL DEFAULT 0,
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_webhook_deliveries_server ON webhook_deliveries(server_name, created_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS webhook_deliveries;
DROP TABLE IF EXISTS webhook_configs;
`,
	},
	{
		Version: "003_console_logs",
		Up: `
-- Archived server log files
CREATE TABLE console_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_name TEXT NOT NULL,
    log_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    archived_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE INDEX idx_console_logs_server ON console_logs(server_name, archived_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS console_logs;
`,
	},
	{
		Version: "004_console_log_offload",
		Up: `
-- Remote copies of archived logs
ALTER TABLE console_logs ADD COLUMN remote_path TEXT;
ALTER TABLE console_logs ADD COLUMN offloaded_at DATETIME;
`,
		Down: `
ALTER TABLE console_logs DROP COLUMN offloaded_at;
ALTER TABLE console_logs DROP COLUMN remote_path;
`,
	},
}
