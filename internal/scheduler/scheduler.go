// Package scheduler runs the automatic backup calendar: a daily full
// backup shortly after local midnight and a weekly per-site export.
// Triggering is window-based rather than exact-time: each tick checks
// whether a job's window is open and whether its persisted calendar
// marker already covers the current slot, so missed ticks and process
// restarts never double-fire a job.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"aptops/internal/apperrors"
	"aptops/internal/backup"
)

// Options configures the scheduler loop.
type Options struct {
	Location *time.Location
	StateDir string

	Tick time.Duration

	// DailyWindow bounds how long after local midnight the daily full
	// backup may still fire.
	DailyWindow time.Duration

	// WeeklyDay and WeeklyHour open the per-site backup window, which
	// stays open for WeeklyWindow.
	WeeklyDay    time.Weekday
	WeeklyHour   int
	WeeklyWindow time.Duration

	FullRetentionDays int
	SiteRetentionDays int
}

// Scheduler drives scheduled backups against a Runner.
type Scheduler struct {
	opts   Options
	runner Runner
	log    *logrus.Logger

	cron *cron.Cron

	mu    sync.Mutex
	state State

	// now is a test seam.
	now func() time.Time
}

// New loads persisted calendar markers and prepares the loop. Start
// must be called to begin ticking.
func New(opts Options, runner Runner, logger *logrus.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	st, err := loadState(opts.StateDir)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		opts:   opts,
		runner: runner,
		log:    logger,
		state:  st,
		now:    time.Now,
	}, nil
}

// Start begins the tick loop.
func (s *Scheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(s.opts.Location))
	spec := fmt.Sprintf("@every %ds", int(s.opts.Tick.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() {
		s.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"tick":       s.opts.Tick.String(),
		"weekly_day": s.opts.WeeklyDay.String(),
	}).Info("backup scheduler started")
	return nil
}

// Stop halts the loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("backup scheduler stopped")
}

// Tick evaluates the calendar once. Exported so tests and a manual
// trigger can drive it without the cron loop.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.opts.Location)

	if s.dailyDue(now) {
		s.runDailyFull(ctx, now)
	}
	if s.weeklyDue(now) {
		s.runWeeklySites(ctx, now)
	}

	// Every tick ends with a retention sweep so expired artifacts age
	// out even when no job fires.
	if _, err := s.runner.Purge(backup.ScopeFull, s.opts.FullRetentionDays); err != nil {
		s.log.WithError(err).Warn("scheduled full retention sweep failed")
	}
	if _, err := s.runner.Purge(backup.ScopeSite, s.opts.SiteRetentionDays); err != nil {
		s.log.WithError(err).Warn("scheduled site retention sweep failed")
	}
}

// dailyDue reports whether the daily full backup window is open and
// the marker has not yet covered today.
func (s *Scheduler) dailyDue(now time.Time) bool {
	if s.state.FullBackupLastDate == dateKey(now) {
		return false
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	return now.Sub(midnight) < s.opts.DailyWindow
}

// weeklyDue reports whether the per-site window is open and the marker
// has not yet covered this ISO week.
func (s *Scheduler) weeklyDue(now time.Time) bool {
	if s.state.SiteBackupLastWeek == weekKey(now) {
		return false
	}
	if now.Weekday() != s.opts.WeeklyDay {
		return false
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), s.opts.WeeklyHour, 0, 0, 0, s.opts.Location)
	elapsed := now.Sub(open)
	return elapsed >= 0 && elapsed < s.opts.WeeklyWindow
}

// runDailyFull executes the scheduled full backup. The marker advances
// only on success, so a failed run retries on the next tick while the
// window is still open.
func (s *Scheduler) runDailyFull(ctx context.Context, now time.Time) {
	s.log.Info("scheduled full backup starting")
	_, err := s.runner.RunBackup(ctx, backup.BackupOptions{
		Actor:           "scheduler",
		Trigger:         backup.TriggerScheduledDaily,
		Scope:           backup.ScopeFull,
		WithMaintenance: true,
	})
	if err != nil {
		if apperrors.IsAlreadyRunning(err) {
			s.log.Info("scheduled full backup deferred: another job is running")
		} else {
			s.log.WithError(err).Error("scheduled full backup failed")
		}
		return
	}

	s.state.FullBackupLastDate = dateKey(now)
	if err := saveState(s.opts.StateDir, s.state); err != nil {
		s.log.WithError(err).Error("failed to persist scheduler state")
	}
}

// runWeeklySites executes one site-scoped backup per registered site.
// Per-site failures are isolated: the loop continues, and the weekly
// marker advances once the pass completes so a single bad site does
// not re-trigger every other site on the next tick.
func (s *Scheduler) runWeeklySites(ctx context.Context, now time.Time) {
	sites, err := s.runner.Sites(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled site backups skipped: site listing failed")
		return
	}
	s.log.WithField("sites", len(sites)).Info("scheduled site backups starting")

	failed := 0
	for _, site := range sites {
		_, err := s.runner.RunBackup(ctx, backup.BackupOptions{
			Actor:    "scheduler",
			Trigger:  backup.TriggerScheduledWeekly,
			Scope:    backup.ScopeSite,
			SiteCode: site.Code,
		})
		if err != nil {
			failed++
			s.log.WithError(err).WithField("site", site.Code).Error("scheduled site backup failed")
		}
	}

	s.state.SiteBackupLastWeek = weekKey(now)
	if err := saveState(s.opts.StateDir, s.state); err != nil {
		s.log.WithError(err).Error("failed to persist scheduler state")
	}
	if failed > 0 {
		s.log.WithFields(logrus.Fields{"failed": failed, "total": len(sites)}).Warn("scheduled site backups finished with failures")
	} else {
		s.log.WithField("total", len(sites)).Info("scheduled site backups finished")
	}
}
