package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appcutover "github.com/sqlferry/sqlferry/internal/app/cutover"
	"github.com/sqlferry/sqlferry/internal/app/monitor"
	"github.com/sqlferry/sqlferry/internal/app/orchestrate"
	"github.com/sqlferry/sqlferry/internal/cli/ui"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/infrastructure/azure"
)

var (
	cutoverRunID          string
	cutoverSubscription   string
	cutoverResourceGroup  string
	cutoverInstance       string
	cutoverTargetDatabase string
	cutoverYes            bool
	cutoverWait           bool
	cutoverInterval       time.Duration
)

// cutoverCmd represents the cutover command
var cutoverCmd = &cobra.Command{
	Use:   "cutover",
	Short: "Finalize an online migration",
	Long: `Finalize an online migration that is shipping logs.

Cutover restores the tail of the log and brings the database online on
the managed instance. Writes against the source after the last shipped
log backup are lost, so the command asks for confirmation unless --yes
is given.

Examples:
  # Finalize the latest live run from the ledger
  sqlferry cutover

  # Finalize a specific run and wait for the terminal state
  sqlferry cutover --run 7d9e1f3a --wait

  # Finalize by target coordinates, no prompt
  sqlferry cutover --resource-group rg-mig --instance mi-prod \
    --target-database sales --yes`,
	RunE: runCutoverCmd,
}

func init() {
	rootCmd.AddCommand(cutoverCmd)

	cutoverCmd.Flags().StringVar(&cutoverRunID, "run", "", "run ID from the ledger (default: latest live run)")
	cutoverCmd.Flags().StringVar(&cutoverSubscription, "subscription", "", "Azure subscription ID")
	cutoverCmd.Flags().StringVar(&cutoverResourceGroup, "resource-group", "", "resource group of the managed instance")
	cutoverCmd.Flags().StringVar(&cutoverInstance, "instance", "", "target managed instance name")
	cutoverCmd.Flags().StringVar(&cutoverTargetDatabase, "target-database", "", "database name on the managed instance")
	cutoverCmd.Flags().BoolVarP(&cutoverYes, "yes", "y", false, "skip the confirmation prompt")
	cutoverCmd.Flags().BoolVar(&cutoverWait, "wait", false, "poll until the migration reaches a terminal state")
	cutoverCmd.Flags().DurationVar(&cutoverInterval, "interval", monitor.DefaultInterval, "poll cadence for --wait")
}

func runCutoverCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, _, err := resolveHandle(cutoverRunID, cutoverSubscription, cutoverResourceGroup, cutoverInstance, cutoverTargetDatabase)
	if err != nil {
		return err
	}

	if !IsQuiet() {
		ui.Header("Sqlferry - Migration Cutover")
		ui.Info(fmt.Sprintf("Migration: %s", handle))
		ui.Divider()
	}

	confirmed := cutoverYes
	if !confirmed {
		ui.Warning("Writes on the source after the last shipped log backup will be lost.")
		confirmed = ui.PromptYesNo("Cut over now and finalize the migration?", false)
	}
	if !confirmed {
		ui.Info("Cutover not confirmed; the migration keeps shipping logs")
		return nil
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

	if err := appcutover.NewGate(client).Request(ctx, handle, confirmed); err != nil {
		return err
	}
	ui.Success("Cutover requested")

	if !cutoverWait {
		return nil
	}

	final, err := monitor.NewMonitor(client).Wait(ctx, handle, migration.ModeOnline, monitor.Options{
		Interval: cutoverInterval,
		OnObservation: func(o migration.Observation) {
			if IsVerbose() {
				ui.Info(ui.PollStatus(string(o.ProvisioningState), string(o.Status), 0))
			}
		},
		OnAbsent: func() {
			ui.Warning("Migration not visible; continuing to poll")
		},
	})
	if err != nil {
		return err
	}

	markCutoverRun(handle, final)

	if final.Status == migration.StatusSucceeded {
		ui.Success("Migration succeeded")
	} else {
		ui.Warning(fmt.Sprintf("Migration ended in state %s/%s", final.ProvisioningState, final.Status))
	}
	return nil
}

// markCutoverRun records the terminal state in the ledger when the run is
// tracked there. Best effort; the authoritative state lives in Azure.
func markCutoverRun(h migration.Handle, final *migration.Observation) {
	store, err := orchestrate.NewRunStore("")
	if err != nil {
		return
	}
	rec := store.FindLive(h.Target)
	if rec == nil {
		return
	}

	status := orchestrate.RunStatusCompleted
	if final != nil && final.Status != migration.StatusSucceeded {
		status = orchestrate.RunStatusFailed
	}
	_ = store.UpdateStatus(rec.ID, status)
}
