package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aptops/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, restore, and inspect backup artifacts",
	Long: `Create full or per-site backup archives, restore from an archive,
list archive history, and verify live datastores.`,
}

// backup create flags
var (
	createScope       string
	createSite        string
	createTargets     []string
	createMaintenance bool
	createSkipUsers   bool
	createJSON        bool
)

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := svc.RunBackup(ctx, backup.BackupOptions{
			Actor:           actor,
			Scope:           backup.Scope(createScope),
			TargetKeys:      createTargets,
			SiteCode:        createSite,
			WithMaintenance: createMaintenance,
			SkipUserData:    createSkipUsers,
		})
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		if createJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}

		fmt.Printf("Backup created: %s\n", result.ArchivePath)
		fmt.Printf("Size: %s\n", formatSize(result.FileSizeBytes))
		fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
		for _, c := range result.Manifest.Checks {
			fmt.Printf("  check %-12s %s\n", c.Key, checkMark(c.OK, c.Detail))
		}
		for _, n := range result.Manifest.Notes {
			fmt.Printf("WARNING: %s\n", n)
		}
		return nil
	},
}

// backup restore flags
var (
	restoreTargets     []string
	restoreMaintenance bool
	restoreSkipUsers   bool
	restoreJSON        bool
)

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Restore from a backup archive",
	Long: `Restore from an archive, given as an absolute path or a path
relative to the backup root. A rollback snapshot of the current state
is captured before anything is touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := svc.Restore(ctx, backup.RestoreOptions{
			Actor:           actor,
			ArchivePath:     args[0],
			TargetKeys:      restoreTargets,
			SkipMaintenance: !restoreMaintenance,
			SkipUserData:    restoreSkipUsers,
		})
		if err != nil {
			if result != nil && result.RollbackArchivePath != "" {
				fmt.Fprintf(os.Stderr, "Rollback snapshot: %s\n", result.RollbackArchivePath)
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		if restoreJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}

		fmt.Printf("Restore complete (%s scope).\n", result.Scope)
		fmt.Printf("Rollback snapshot: %s\n", result.RollbackArchivePath)
		for _, c := range result.LiveChecks {
			fmt.Printf("  check %-12s %s\n", c.Key, checkMark(c.OK, c.Detail))
		}
		for key, stats := range result.ImportStats {
			for table, n := range stats.Inserted {
				fmt.Printf("  %s/%s: %d rows\n", key, table, n)
			}
		}
		if !result.PostOperationLiveChecks {
			fmt.Println("WARNING: post-restore checks failed; maintenance mode left on")
		}
		fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
		return nil
	},
}

// backup history flags
var (
	historyScope string
	historySite  string
	historyLimit int
	historyJSON  bool
)

var backupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List backup artifacts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}

		entries, err := svc.ListHistory(backup.HistoryFilter{
			Scope:    backup.Scope(historyScope),
			SiteCode: historySite,
			Limit:    historyLimit,
		})
		if err != nil {
			return err
		}

		if historyJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tSCOPE\tSITE\tTRIGGER\tOK\tSIZE\tPATH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				e.CreatedAt.Format(time.RFC3339), e.Scope, e.SiteCode,
				e.Trigger, e.OK, formatSize(e.FileSizeBytes), e.RelativePath)
		}
		return w.Flush()
	},
}

var backupTargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List backup targets and their live files",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLABEL\tSITE-SCOPED\tEXISTS\tSIZE\tPATH")
		for _, t := range svc.ListTargets() {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t%s\n",
				t.Key, t.Label, t.SiteScoped, t.Exists, formatSize(t.SizeBytes), t.Path)
		}
		return w.Flush()
	},
}

var backupCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the integrity of every live datastore",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		checks, ok := svc.RunLiveChecks(ctx)
		for _, c := range checks {
			fmt.Printf("%-12s %s\n", c.Key, checkMark(c.OK, c.Detail))
		}
		if !ok {
			return fmt.Errorf("one or more datastores failed their integrity check")
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().StringVar(&createScope, "scope", "full", "backup scope: full or site")
	backupCreateCmd.Flags().StringVar(&createSite, "site", "", "site code (required for site scope)")
	backupCreateCmd.Flags().StringSliceVar(&createTargets, "targets", nil, "restrict to specific target keys")
	backupCreateCmd.Flags().BoolVar(&createMaintenance, "maintenance", true, "hold maintenance mode during full backups")
	backupCreateCmd.Flags().BoolVar(&createSkipUsers, "skip-user-data", false, "exclude resident personal data from site exports")
	backupCreateCmd.Flags().BoolVar(&createJSON, "json", false, "output result as JSON")

	backupRestoreCmd.Flags().StringSliceVar(&restoreTargets, "targets", nil, "restore only these target keys from the archive")
	backupRestoreCmd.Flags().BoolVar(&restoreMaintenance, "maintenance", true, "hold maintenance mode during full restores")
	backupRestoreCmd.Flags().BoolVar(&restoreSkipUsers, "skip-user-data", false, "do not overwrite resident personal data on site restores")
	backupRestoreCmd.Flags().BoolVar(&restoreJSON, "json", false, "output result as JSON")

	backupHistoryCmd.Flags().StringVar(&historyScope, "scope", "", "filter by scope")
	backupHistoryCmd.Flags().StringVar(&historySite, "site", "", "filter by site code")
	backupHistoryCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries to show")
	backupHistoryCmd.Flags().BoolVar(&historyJSON, "json", false, "output entries as JSON")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupHistoryCmd)
	backupCmd.AddCommand(backupTargetsCmd)
	backupCmd.AddCommand(backupCheckCmd)
}

func checkMark(ok bool, detail string) string {
	if ok {
		return "ok (" + detail + ")"
	}
	return "FAILED: " + detail
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
