package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/database"
	"github.com/TheGojiOG/servervisor/internal/logging"
)

func setupRunner(t *testing.T, cfg config.MaintenanceConfig) (*Runner, *database.DB, string) {
	t.Helper()
	root := t.TempDir()

	db, err := database.NewDB(filepath.Join(root, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "activity"))
	require.NoError(t, err)
	t.Cleanup(func() { activity.Close() })

	return NewRunner(cfg, db.DB, activity), db, root
}

func defaultMaintenance() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Enabled:               true,
		CleanupSchedule:       "30 3 * * *",
		ActivityRetentionDays: 30,
		DeliveryRetentionDays: 14,
		LogRetentionDays:      30,
	}
}

func TestRunOnceRemovesExpiredRecords(t *testing.T) {
	runner, db, root := setupRunner(t, defaultMaintenance())
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, runner.activity.LogActivity(&logging.Activity{
		Timestamp:    old,
		ServerName:   "survival",
		ActivityType: logging.ActivityServerStart,
		Description:  "old start",
		Success:      true,
	}))
	require.NoError(t, runner.activity.LogServerStart("survival", 42, true, ""))

	oldStamp := old.Format("2006-01-02 15:04:05")
	_, err := db.Exec(`INSERT INTO webhook_deliveries (id, server_name, trigger_name, delivered, created_at) VALUES ('old', 'survival', 'server_started', 1, ?)`, oldStamp)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO webhook_deliveries (id, server_name, trigger_name, delivered) VALUES ('new', 'survival', 'server_started', 1)`)
	require.NoError(t, err)

	archived := filepath.Join(root, "archive", "survival_old.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(archived), 0755))
	require.NoError(t, os.WriteFile(archived, []byte("old output\n"), 0644))
	_, err = db.Exec(`INSERT INTO console_logs (server_name, log_path, size_bytes, archived_at) VALUES ('survival', ?, 11, ?)`, archived, oldStamp)
	require.NoError(t, err)

	report, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Activities)
	assert.Equal(t, int64(1), report.Deliveries)
	assert.Equal(t, 1, report.Logs)

	_, err = os.Stat(archived)
	assert.True(t, os.IsNotExist(err), "archived log should be deleted")

	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM webhook_deliveries`).Scan(&remaining))
	assert.Equal(t, 1, remaining)

	last, ok := runner.LastReport()
	require.True(t, ok)
	assert.Equal(t, report, last)
}

func TestRunOnceWithoutDatabase(t *testing.T) {
	runner := NewRunner(defaultMaintenance(), nil, nil)

	report, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Activities)
	assert.Zero(t, report.Deliveries)
	assert.Zero(t, report.Logs)
}

type fakePruner struct {
	days int
}

func (p *fakePruner) Prune(_ context.Context, retentionDays int) (int, error) {
	p.days = retentionDays
	return 2, nil
}

func TestRunOncePrunesRemoteCopies(t *testing.T) {
	runner := NewRunner(defaultMaintenance(), nil, nil)
	pruner := &fakePruner{}
	runner.SetRemote(pruner, 90)

	report, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90, pruner.days)
	assert.Equal(t, 2, report.Remote)

	last, ok := runner.LastReport()
	require.True(t, ok)
	assert.Equal(t, 2, last.Remote)
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := defaultMaintenance()
	cfg.Enabled = false
	runner := NewRunner(cfg, nil, nil)

	require.NoError(t, runner.Start(context.Background()))
	assert.Nil(t, runner.cron)
	runner.Stop()
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cfg := defaultMaintenance()
	cfg.CleanupSchedule = "every day"
	runner := NewRunner(cfg, nil, nil)

	assert.Error(t, runner.Start(context.Background()))
}

func TestStartStopsWithContext(t *testing.T) {
	runner := NewRunner(defaultMaintenance(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, runner.Start(ctx))
	runner.mu.Lock()
	scheduled := runner.cron != nil
	runner.mu.Unlock()
	assert.True(t, scheduled)

	cancel()
	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.cron == nil
	}, time.Second, 10*time.Millisecond)
}
