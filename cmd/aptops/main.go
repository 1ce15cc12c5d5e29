package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"aptops/internal/backup"
	"aptops/internal/config"
	"aptops/internal/logging"
	"aptops/internal/maintenance"
	"aptops/internal/version"
)

var (
	cfgFile string
	actor   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aptops",
	Short: "Apartment operations backup daemon",
	Long: `aptops manages the apartment-complex operations datastores:
scheduled and manual backups, verified restores, per-site data export
and import, and maintenance mode.`,
	Version: version.Full(),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "aptops.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "cli", "actor recorded in job manifests and the maintenance log")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(maintenanceCmd)
}

// loadStack builds the configured service graph shared by every
// subcommand.
func loadStack() (*config.Config, *logrus.Logger, *backup.Service, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		LogFile: cfg.Logging.LogFile,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	maint, err := maintenance.NewStore(cfg.Backup.StateDir)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := backup.NewService(backup.Options{
		DataDir:           cfg.DataDir,
		Root:              cfg.Backup.Root,
		MirrorRoot:        cfg.Backup.MirrorRoot,
		Location:          cfg.Location(),
		FullRetentionDays: cfg.Backup.FullRetentionDays,
		SiteRetentionDays: cfg.Backup.SiteRetentionDays,
	}, maint, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, svc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
