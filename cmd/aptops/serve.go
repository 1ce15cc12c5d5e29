package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aptops/internal/config"
	"aptops/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup daemon",
	Long: `Run the scheduler loop in the foreground: a daily full backup
shortly after local midnight and a weekly per-site export, with
retention sweeps after each run. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, logger, svc, err := loadStack()
	if err != nil {
		return err
	}

	weeklyDay, err := config.ParseWeekday(cfg.Scheduler.WeeklyDay)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		Location:          cfg.Location(),
		StateDir:          cfg.Backup.StateDir,
		Tick:              time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		DailyWindow:       time.Duration(cfg.Scheduler.DailyWindowMinutes) * time.Minute,
		WeeklyDay:         weeklyDay,
		WeeklyHour:        cfg.Scheduler.WeeklyHour,
		WeeklyWindow:      time.Duration(cfg.Scheduler.WeeklyWindowMinutes) * time.Minute,
		FullRetentionDays: cfg.Backup.FullRetentionDays,
		SiteRetentionDays: cfg.Backup.SiteRetentionDays,
	}, svc, logger)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return err
		}
	} else {
		logger.Warn("scheduler disabled by config; daemon idles until signaled")
	}

	logger.WithFields(map[string]any{
		"data_dir":    cfg.DataDir,
		"backup_root": cfg.Backup.Root,
		"timezone":    cfg.Timezone,
	}).Info("aptops daemon started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if cfg.Scheduler.Enabled {
		sched.Stop()
	}
	return nil
}
