package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlferry/sqlferry/internal/app/orchestrate"
	"github.com/sqlferry/sqlferry/internal/cli/ui"
)

var runsDelete string

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List migration runs from the local ledger",
	Long: `List the migration runs recorded in the local ledger, newest
first. The ledger is what stops sqlferry from submitting a second
migration for a target that already has a live one.`,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().StringVar(&runsDelete, "delete", "", "delete the run with this ID from the ledger")
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := orchestrate.NewRunStore("")
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}

	if runsDelete != "" {
		if err := store.Delete(runsDelete); err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("Run %s deleted", runsDelete))
		return nil
	}

	records := store.List()
	if len(records) == 0 {
		ui.Info(fmt.Sprintf("No runs recorded in %s", store.FilePath()))
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			string(rec.Mode),
			fmt.Sprintf("%s/%s", rec.Handle.Target.Instance, rec.Handle.Target.Database),
			rec.Status,
			rec.CreatedAt.Format(time.RFC3339),
		})
	}
	ui.PrintTable([]string{"ID", "MODE", "TARGET", "STATUS", "CREATED"}, rows)
	return nil
}
