package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Manage the persisted maintenance flag",
}

var maintenanceJSON bool

var maintenanceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the maintenance state",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}
		st := svc.MaintenanceStatus()
		if maintenanceJSON {
			return json.NewEncoder(os.Stdout).Encode(st)
		}
		if !st.Active {
			fmt.Println("Maintenance: off")
			return nil
		}
		fmt.Println("Maintenance: ON")
		fmt.Printf("Reason: %s\n", st.Reason)
		fmt.Printf("Message: %s\n", st.Message)
		fmt.Printf("Since: %s (by %s)\n", st.StartedAt.Format(time.RFC3339), st.UpdatedBy)
		return nil
	},
}

var maintenanceMessage string

var maintenanceOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Turn maintenance mode on",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}
		if err := svc.SetMaintenance(maintenanceMessage, "", actor); err != nil {
			return err
		}
		fmt.Println("Maintenance mode enabled.")
		return nil
	},
}

var maintenanceOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn maintenance mode off",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, svc, err := loadStack()
		if err != nil {
			return err
		}
		if err := svc.ClearMaintenance(actor); err != nil {
			return err
		}
		fmt.Println("Maintenance mode cleared.")
		return nil
	},
}

func init() {
	maintenanceStatusCmd.Flags().BoolVar(&maintenanceJSON, "json", false, "output state as JSON")
	maintenanceOnCmd.Flags().StringVar(&maintenanceMessage, "message", "The service is under maintenance.", "message shown to residents")

	maintenanceCmd.AddCommand(maintenanceStatusCmd)
	maintenanceCmd.AddCommand(maintenanceOnCmd)
	maintenanceCmd.AddCommand(maintenanceOffCmd)
}
