package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sqlferry/sqlferry/internal/app/monitor"
	"github.com/sqlferry/sqlferry/internal/app/orchestrate"
	"github.com/sqlferry/sqlferry/internal/cli/ui"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/infrastructure/azure"
)

var (
	statusRunID          string
	statusSubscription   string
	statusResourceGroup  string
	statusInstance       string
	statusTargetDatabase string
	statusMode           string
	statusWatch          bool
	statusInterval       time.Duration
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a migration",
	Long: `Show the current provisioning state and migration status of a
database migration.

The migration is identified either by a run ID from the ledger or by the
target coordinates. With --watch the command keeps polling and renders a
live view until the migration reaches a terminal state.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusRunID, "run", "", "run ID from the ledger (default: latest live run)")
	statusCmd.Flags().StringVar(&statusSubscription, "subscription", "", "Azure subscription ID")
	statusCmd.Flags().StringVar(&statusResourceGroup, "resource-group", "", "resource group of the managed instance")
	statusCmd.Flags().StringVar(&statusInstance, "instance", "", "target managed instance name")
	statusCmd.Flags().StringVar(&statusTargetDatabase, "target-database", "", "database name on the managed instance")
	statusCmd.Flags().StringVar(&statusMode, "mode", "", "migration mode, used to decide when --watch stops (default online)")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "keep polling until the migration is terminal")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", monitor.DefaultInterval, "poll cadence for --watch")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	handle, mode, err := resolveHandle(statusRunID, statusSubscription, statusResourceGroup, statusInstance, statusTargetDatabase)
	if err != nil {
		return err
	}
	if statusMode != "" {
		mode, err = migration.ParseMode(statusMode)
		if err != nil {
			return err
		}
	}

	credConfig := azure.NewCredentialConfig().WithSubscriptionID(handle.Target.SubscriptionID)
	cred, err := credConfig.GetCredential(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with Azure: %w", err)
	}
	client, err := azure.NewMigrationClient(cred, nil)
	if err != nil {
		return err
	}

	if !statusWatch {
		obs, err := client.PollMigration(ctx, handle)
		if err != nil {
			return err
		}
		if obs == nil {
			ui.Warning(fmt.Sprintf("Migration %s is not visible yet", handle))
			return nil
		}
		printObservation(handle, obs)
		return nil
	}

	poll := func() ui.ObservationMsg {
		obs, err := client.PollMigration(ctx, handle)
		if err != nil {
			return ui.ObservationMsg{Err: err}
		}
		if obs == nil {
			return ui.ObservationMsg{Absent: true}
		}
		return ui.ObservationMsg{
			Provisioning: string(obs.ProvisioningState),
			Status:       string(obs.Status),
			Done:         !obs.Ongoing(mode),
		}
	}

	model, err := tea.NewProgram(ui.NewWatchModel(statusInterval, poll)).Run()
	if err != nil {
		return err
	}

	if watch, ok := model.(ui.WatchModel); ok {
		if last, seen := watch.Last(); seen {
			if last.Err != nil {
				return last.Err
			}
			switch {
			case last.Absent:
				ui.Warning(fmt.Sprintf("Migration %s is not visible yet", handle))
			case last.Done:
				ui.Success(fmt.Sprintf("Migration %s reached %s/%s", handle, last.Provisioning, last.Status))
			default:
				ui.Info(ui.PollStatus(last.Provisioning, last.Status, 0))
			}
		}
	}
	return nil
}

// resolveHandle finds the migration to inspect, preferring the run ledger
// over raw target coordinates.
func resolveHandle(runID, subscription, resourceGroup, instance, database string) (migration.Handle, migration.Mode, error) {
	if resourceGroup != "" && instance != "" && database != "" {
		credConfig := azure.NewCredentialConfig().WithSubscriptionID(subscription)
		subscriptionID, err := credConfig.GetSubscriptionID()
		if err != nil {
			return migration.Handle{}, "", err
		}
		t := migration.Target{
			SubscriptionID: subscriptionID,
			ResourceGroup:  resourceGroup,
			Instance:       instance,
			Database:       database,
		}
		return migration.Handle{Target: t, MigrationName: database}, migration.ModeOnline, nil
	}

	store, err := orchestrate.NewRunStore("")
	if err != nil {
		return migration.Handle{}, "", fmt.Errorf("failed to open run ledger: %w", err)
	}

	if runID != "" {
		rec, err := store.Get(runID)
		if err != nil {
			return migration.Handle{}, "", err
		}
		return rec.Handle, rec.Mode, nil
	}

	for _, rec := range store.List() {
		if rec.Live() {
			return rec.Handle, rec.Mode, nil
		}
	}
	return migration.Handle{}, "", fmt.Errorf("no live run in the ledger; pass --run or the target coordinates")
}

func printObservation(h migration.Handle, obs *migration.Observation) {
	ui.Info(fmt.Sprintf("Migration: %s", h))
	ui.PrintTable(
		[]string{"PROVISIONING", "STATUS", "OBSERVED"},
		[][]string{{
			string(obs.ProvisioningState),
			string(obs.Status),
			obs.ObservedAt.Format(time.RFC3339),
		}},
	)
}
