package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/console"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// Report summarizes one cleanup pass
type Report struct {
	Activities int64     `json:"activities_removed"`
	Deliveries int64     `json:"deliveries_removed"`
	Logs       int       `json:"logs_removed"`
	Remote     int       `json:"remote_copies_removed"`
	RanAt      time.Time `json:"ran_at"`
}

// Runner prunes activity rows, webhook delivery records and archived
// console logs on a cron schedule.
type Runner struct {
	cfg      config.MaintenanceConfig
	db       *sql.DB
	activity *logging.ActivityLogger

	remote     RemotePruner
	remoteDays int

	mu      sync.Mutex
	cron    *cron.Cron
	last    *Report
	running bool
}

// NewRunner creates a runner. A nil db skips delivery and log cleanup.
func NewRunner(cfg config.MaintenanceConfig, db *sql.DB, activity *logging.ActivityLogger) *Runner {
	return &Runner{cfg: cfg, db: db, activity: activity}
}

// RemotePruner deletes offloaded copies older than a retention window
type RemotePruner interface {
	Prune(ctx context.Context, retentionDays int) (int, error)
}

// SetRemote adds pruning of offloaded log copies to every pass
func (r *Runner) SetRemote(p RemotePruner, retentionDays int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = p
	r.remoteDays = retentionDays
}

// Start schedules cleanup until ctx is done. It is a no-op when maintenance
// is disabled.
func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		log.Printf("[Maintenance] Disabled")
		return nil
	}

	schedule, err := parseSchedule(r.cfg.CleanupSchedule)
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", r.cfg.CleanupSchedule, err)
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := r.RunOnce(ctx); err != nil {
			log.Printf("[Maintenance] Cleanup failed: %v", err)
		}
	}))

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	log.Printf("[Maintenance] Cleanup scheduled (%s), next run at %s", r.cfg.CleanupSchedule, schedule.Next(time.Now()).Format(time.RFC3339))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop cancels the schedule and waits for a running pass to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Printf("[Maintenance] Stopped")
}

// RunOnce performs a single cleanup pass. Overlapping passes are skipped.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Report{}, fmt.Errorf("cleanup already in progress")
	}
	r.running = true
	remote, remoteDays := r.remote, r.remoteDays
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report := Report{RanAt: time.Now()}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if r.activity != nil && r.cfg.ActivityRetentionDays > 0 {
		n, err := r.activity.CleanupOldActivities(days(r.cfg.ActivityRetentionDays))
		keep(err)
		report.Activities = n
	}

	if r.db != nil {
		n, err := webhook.CleanupDeliveries(ctx, r.db, r.cfg.DeliveryRetentionDays)
		keep(err)
		report.Deliveries = n

		logs, err := console.CleanupOldLogs(r.db, r.cfg.LogRetentionDays)
		keep(err)
		report.Logs = logs
	}

	if remote != nil && remoteDays > 0 {
		n, err := remote.Prune(ctx, remoteDays)
		keep(err)
		report.Remote = n
	}

	log.Printf("[Maintenance] Cleanup removed %d activities, %d deliveries, %d archived logs, %d remote copies",
		report.Activities, report.Deliveries, report.Logs, report.Remote)

	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	return report, firstErr
}

// LastReport returns the most recent pass, if any
func (r *Runner) LastReport() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
