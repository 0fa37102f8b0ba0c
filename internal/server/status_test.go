package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/TheGojiOG/servervisor/internal/database"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatusStore(t *testing.T) *StatusStore {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewStatusStore(db.DB)
}

func TestStatusStoreLifecycle(t *testing.T) {
	store := newTestStatusStore(t)

	rec, err := store.Get("survival")
	require.NoError(t, err)
	assert.Nil(t, rec)

	started := time.Now().Add(-time.Minute)
	require.NoError(t, store.RecordStarted("survival", 4242, started))

	rec, err = store.Get("survival")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StateRunning, rec.Status)
	assert.Equal(t, 4242, rec.PID)
	assert.Nil(t, rec.ExitCode)
	require.NotNil(t, rec.LastStarted)
	assert.WithinDuration(t, started, *rec.LastStarted, time.Second)

	require.NoError(t, store.RecordStopping("survival"))
	rec, _ = store.Get("survival")
	assert.Equal(t, models.StateStopping, rec.Status)

	require.NoError(t, store.RecordExited("survival", ExitCrashed, 137, "exit code 137", time.Now()))
	rec, _ = store.Get("survival")
	assert.Equal(t, models.StateStopped, rec.Status)
	assert.Equal(t, 0, rec.PID)
	assert.Equal(t, ExitCrashed, rec.LastExit)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 137, *rec.ExitCode)
	assert.Equal(t, "exit code 137", rec.ErrorMessage)
	require.NotNil(t, rec.LastStarted)
	require.NotNil(t, rec.LastStopped)

	// A new start clears the exit code but keeps the previous exit label
	require.NoError(t, store.RecordStarted("survival", 5000, time.Now()))
	rec, _ = store.Get("survival")
	assert.Nil(t, rec.ExitCode)
	assert.Equal(t, ExitCrashed, rec.LastExit)
	assert.Empty(t, rec.ErrorMessage)
}

func TestStatusStoreReconcileOnBoot(t *testing.T) {
	store := newTestStatusStore(t)

	require.NoError(t, store.RecordStarted("survival", 100, time.Now()))
	require.NoError(t, store.RecordStarted("lobby", 101, time.Now()))
	require.NoError(t, store.RecordStopping("lobby"))
	require.NoError(t, store.RecordExited("creative", ExitStopped, 0, "", time.Now()))

	n, err := store.ReconcileOnBoot()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, name := range []string{"survival", "lobby"} {
		rec, err := store.Get(name)
		require.NoError(t, err)
		assert.Equal(t, models.StateStopped, rec.Status, name)
		assert.Equal(t, ExitLost, rec.LastExit, name)
		assert.Equal(t, 0, rec.PID, name)
	}

	rec, _ := store.Get("creative")
	assert.Equal(t, ExitStopped, rec.LastExit)

	n, err = store.ReconcileOnBoot()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilStatusStoreIsNoop(t *testing.T) {
	var store *StatusStore
	assert.NoError(t, store.RecordStarted("survival", 1, time.Now()))
	assert.NoError(t, store.RecordStopping("survival"))
	assert.NoError(t, store.RecordExited("survival", ExitStopped, 0, "", time.Now()))
	rec, err := store.Get("survival")
	assert.NoError(t, err)
	assert.Nil(t, rec)
	n, err := store.ReconcileOnBoot()
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSupervisorRecordsStatus(t *testing.T) {
	store := newTestStatusStore(t)
	launcher := &fakeLauncher{}
	sup := NewSupervisor(staticSpecs{
		"survival": {Name: "survival", LogPath: filepath.Join(t.TempDir(), "survival.log")},
	}, launcher, Options{StopTimeout: time.Second, Status: store})

	_, err := sup.Start(t.Context(), "survival")
	require.NoError(t, err)
	inst, _ := sup.Registry().Get("survival")

	rec, _ := store.Get("survival")
	assert.Equal(t, launcher.last().pid, rec.PID)

	launcher.last().exit(2)
	waitReconciled(t, inst)

	rec, _ = store.Get("survival")
	assert.Equal(t, ExitCrashed, rec.LastExit)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 2, *rec.ExitCode)
}
