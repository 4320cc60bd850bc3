package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// credCmd represents the cred command. Credential issuance happens
// outside this tool; these subcommands are read-only.
var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Inspect the rotating credential pool",
}

var credStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print credential pool composition",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.creds.PoolStats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Total: %d\nActive: %d\nExpired: %d\n",
			stats.Total, stats.Active, stats.Expired)
		return nil
	},
}

var credListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		creds, err := app.creds.ListActive(context.Background())
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No active credentials.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tUID\tEXPIRES\t")
		for _, c := range creds {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", c.ID, c.Email, c.UID, c.ExpireDate)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credCmd)
	credCmd.AddCommand(credStatsCmd)
	credCmd.AddCommand(credListCmd)
}
