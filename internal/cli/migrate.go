package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlferry/sqlferry/internal/app/backup"
	appcutover "github.com/sqlferry/sqlferry/internal/app/cutover"
	"github.com/sqlferry/sqlferry/internal/app/launch"
	"github.com/sqlferry/sqlferry/internal/app/monitor"
	"github.com/sqlferry/sqlferry/internal/app/orchestrate"
	"github.com/sqlferry/sqlferry/internal/cli/ui"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/domain/secrets"
	"github.com/sqlferry/sqlferry/internal/infrastructure/azure"
	"github.com/sqlferry/sqlferry/internal/infrastructure/sqlserver"
	"github.com/sqlferry/sqlferry/internal/pkg/logger"
)

var (
	migratePlanPath       string
	migrateMode           string
	migrateSourceHost     string
	migrateSourceUser     string
	migrateSourceDatabase string
	migrateSubscription   string
	migrateResourceGroup  string
	migrateInstance       string
	migrateTargetDatabase string
	migrateStorageAccount string
	migrateContainer      string
	migrateServiceName    string

	migrateAutoBackup     bool
	migrateLastBackupName string
	migrateLogBackupJob   bool
	migrateLogInterval    time.Duration
	migrateSASExpiryHours int

	migrateCutover bool
	migrateYes     bool
	migrateForce   bool

	migratePollInterval    time.Duration
	migrateMaxPollDuration time.Duration
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a database migration end to end",
	Long: `Run a full migration of one SQL Server database to an Azure SQL
Managed Instance.

The command optionally takes the seed backups against the source server,
submits the migration to the migration service, and polls until the
restore reaches a terminal state. An online migration with --cutover
pauses once log shipping is established and asks for confirmation before
finalizing.

Examples:
  # Offline migration from an existing backup in the container
  sqlferry migrate --mode offline --last-backup-name sales_FULL_20260830_120000.bak \
    --source-host db01.corp.local --source-user migrator --source-database sales \
    --resource-group rg-mig --instance mi-prod --target-database sales \
    --storage-account stmig --container backups

  # Online migration, backups taken by sqlferry, recurring log backup job
  sqlferry migrate --mode online --auto-backup --log-backup-job \
    --source-host db01.corp.local --source-user migrator --source-database sales \
    --resource-group rg-mig --instance mi-prod --target-database sales \
    --storage-account stmig --container backups --cutover

  # Everything from a plan file
  sqlferry migrate --plan migration.yaml --cutover --yes`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migratePlanPath, "plan", "", "migration plan file (YAML)")
	migrateCmd.Flags().StringVar(&migrateMode, "mode", "", "migration mode (offline, online; default online)")

	migrateCmd.Flags().StringVar(&migrateSourceHost, "source-host", "", "source SQL Server host[:port]")
	migrateCmd.Flags().StringVar(&migrateSourceUser, "source-user", "", "source SQL login")
	migrateCmd.Flags().StringVar(&migrateSourceDatabase, "source-database", "", "source database name")

	migrateCmd.Flags().StringVar(&migrateSubscription, "subscription", "", "Azure subscription ID (default from credential config)")
	migrateCmd.Flags().StringVar(&migrateResourceGroup, "resource-group", "", "resource group of the managed instance")
	migrateCmd.Flags().StringVar(&migrateInstance, "instance", "", "target managed instance name")
	migrateCmd.Flags().StringVar(&migrateTargetDatabase, "target-database", "", "database name on the managed instance (default source database)")
	migrateCmd.Flags().StringVar(&migrateStorageAccount, "storage-account", "", "storage account holding the backups")
	migrateCmd.Flags().StringVar(&migrateContainer, "container", "", "blob container holding the backups")
	migrateCmd.Flags().StringVar(&migrateServiceName, "service-name", "", "migration service name (default sqlmig-svc-<instance>)")

	migrateCmd.Flags().BoolVar(&migrateAutoBackup, "auto-backup", false, "take the seed backups before submitting")
	migrateCmd.Flags().StringVar(&migrateLastBackupName, "last-backup-name", "", "seed artifact for offline mode (required unless --auto-backup)")
	migrateCmd.Flags().BoolVar(&migrateLogBackupJob, "log-backup-job", false, "create a recurring SQL Agent log backup job (online mode)")
	migrateCmd.Flags().DurationVar(&migrateLogInterval, "log-backup-interval", 5*time.Minute, "recurring log backup cadence")
	migrateCmd.Flags().IntVar(&migrateSASExpiryHours, "sas-expiry-hours", 24, "lifetime of the storage access token in hours")

	migrateCmd.Flags().BoolVar(&migrateCutover, "cutover", false, "offer cutover once log shipping is established (online mode)")
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "answer yes to the cutover confirmation")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "submit even when the run ledger shows a live migration for the target")

	migrateCmd.Flags().DurationVar(&migratePollInterval, "poll-interval", monitor.DefaultInterval, "delay between status polls")
	migrateCmd.Flags().DurationVar(&migrateMaxPollDuration, "max-poll-duration", 0, "give up polling after this long (0 = no limit)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	d, err := buildDescriptor()
	if err != nil {
		return err
	}

	if !IsQuiet() {
		ui.Header("Sqlferry - Database Migration")
		ui.Info(fmt.Sprintf("Mode: %s", d.Mode))
		ui.Info(fmt.Sprintf("Source: %s/%s", d.Source.Host, d.Source.Database))
		ui.Info(fmt.Sprintf("Target: %s/%s", d.Target.Instance, d.Target.Database))
		ui.Divider()
	}

	password, err := sourcePassword()
	if err != nil {
		return err
	}
	defer password.Wipe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credConfig := azure.NewCredentialConfig().WithSubscriptionID(d.Target.SubscriptionID)
	subscriptionID, err := credConfig.GetSubscriptionID()
	if err != nil {
		return err
	}
	d.Target.SubscriptionID = subscriptionID

	cred, err := credConfig.GetCredential(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with Azure: %w", err)
	}

	tokens, err := azure.NewSASProvider(subscriptionID, cred, d.Target.ResourceGroup, d.Storage)
	if err != nil {
		return err
	}
	migClient, err := azure.NewMigrationClient(cred, nil)
	if err != nil {
		return err
	}
	resolver, err := azure.NewInstanceResolver(subscriptionID, cred, nil)
	if err != nil {
		return err
	}

	if err := resolver.ResolveInstance(ctx, d.Target); err != nil {
		return err
	}

	// The source connection is only needed when sqlferry takes the backups.
	var coord *backup.Coordinator
	var sched *backup.Scheduler
	if migrateAutoBackup {
		exec, err := sqlserver.Open(d.Source, password)
		if err != nil {
			return err
		}
		defer exec.Close()
		if err := exec.Ping(ctx); err != nil {
			return err
		}
		coord = backup.NewCoordinator(exec)
		sched = backup.NewScheduler(exec)
	}

	launcher := launch.NewLauncher(azure.NewBlobVerifier(tokens), migClient).
		WithInstanceChecker(resolver)
	watcher := monitor.NewMonitor(migClient)
	gate := appcutover.NewGate(migClient)

	store, err := orchestrate.NewRunStore("")
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}

	orch := orchestrate.NewOrchestrator(tokens, coord, sched, launcher, watcher, gate).
		WithRunStore(store)

	opts := orchestrate.Options{
		AutoBackup:         migrateAutoBackup,
		CreateLogBackupJob: migrateLogBackupJob,
		LogBackupInterval:  migrateLogInterval,
		SASExpiry:          time.Duration(migrateSASExpiryHours) * time.Hour,
		LastBackupName:     migrateLastBackupName,
		Cutover:            migrateCutover,
		Force:              migrateForce,
		PollInterval:       migratePollInterval,
		MaxPollDuration:    migrateMaxPollDuration,
		OnPhase: func(phase string) {
			if !IsQuiet() {
				ui.Info(phase)
			}
		},
		OnWarning: func(msg string) {
			ui.Warning(msg)
		},
		OnObservation: func(o migration.Observation) {
			logger.Debug("observed migration state",
				"provisioning", string(o.ProvisioningState),
				"status", string(o.Status))
		},
	}

	if migrateCutover {
		opts.ConfirmCutover = func() bool {
			if migrateYes {
				return true
			}
			ui.Divider()
			ui.Info("Log shipping is established. Stop writes on the source before cutting over.")
			return ui.PromptYesNo("Cut over now and finalize the migration?", false)
		}
	}

	result, err := orch.Run(ctx, d, password, opts)
	printMigrateResult(result)
	if result != nil && result.RunID != "" {
		logger.WithRun(result.RunID).Debug("run recorded in ledger",
			"target", d.Target.Database, "mode", string(d.Mode))
	}
	if err != nil {
		return err
	}

	if !IsQuiet() {
		switch {
		case result.CutoverIssued:
			ui.Success("Migration finalized by cutover")
		case result.Final != nil && result.Final.Status == migration.StatusSucceeded:
			ui.Success("Migration succeeded")
		case result.Final != nil && !result.Final.Ongoing(d.Mode):
			ui.Warning(fmt.Sprintf("Migration ended in state %s/%s",
				result.Final.ProvisioningState, result.Final.Status))
		default:
			ui.Info("Migration left running; finalize later with 'sqlferry cutover'")
		}
	}
	return nil
}

// printMigrateResult reports what the run accomplished, even on failure:
// artifacts already uploaded and a recurring job already created survive
// the process.
func printMigrateResult(result *orchestrate.Result) {
	if result == nil || IsQuiet() {
		return
	}

	if len(result.Artifacts) > 0 {
		rows := make([][]string, 0, len(result.Artifacts))
		for _, a := range result.Artifacts {
			rows = append(rows, []string{string(a.Kind), a.BlobName, a.CreatedAt.Format(time.RFC3339)})
		}
		ui.PrintTable([]string{"KIND", "ARTIFACT", "CREATED"}, rows)
	}
	if result.JobName != "" {
		ui.Info(fmt.Sprintf("Recurring log backup job: %s", result.JobName))
	}
	if result.RunID != "" {
		ui.Info(fmt.Sprintf("Run ID: %s (elapsed %s)", result.RunID, result.Duration.Round(time.Second)))
	}
}

// buildDescriptor merges the plan file with flag overrides and validates
// the result.
func buildDescriptor() (migration.Descriptor, error) {
	var d migration.Descriptor
	if migratePlanPath != "" {
		plan, err := LoadPlan(migratePlanPath)
		if err != nil {
			return d, err
		}
		d, err = plan.Descriptor()
		if err != nil {
			return d, err
		}
		applyPlanDefaults(plan)
	}

	if migrateMode != "" || d.Mode == "" {
		mode, err := migration.ParseMode(migrateMode)
		if err != nil {
			return d, err
		}
		d.Mode = mode
	}
	override(&d.Source.Host, migrateSourceHost)
	override(&d.Source.User, migrateSourceUser)
	override(&d.Source.Database, migrateSourceDatabase)
	override(&d.Target.SubscriptionID, migrateSubscription)
	override(&d.Target.ResourceGroup, migrateResourceGroup)
	override(&d.Target.Instance, migrateInstance)
	override(&d.Target.Database, migrateTargetDatabase)
	override(&d.Storage.Account, migrateStorageAccount)
	override(&d.Storage.Container, migrateContainer)
	override(&d.ServiceName, migrateServiceName)
	override(&d.LastBackupName, migrateLastBackupName)

	d.Normalize()

	missing := []string{}
	if d.Source.Host == "" {
		missing = append(missing, "--source-host")
	}
	if d.Source.User == "" {
		missing = append(missing, "--source-user")
	}
	if d.Source.Database == "" {
		missing = append(missing, "--source-database")
	}
	if d.Target.ResourceGroup == "" {
		missing = append(missing, "--resource-group")
	}
	if d.Target.Instance == "" {
		missing = append(missing, "--instance")
	}
	if d.Storage.Account == "" {
		missing = append(missing, "--storage-account")
	}
	if d.Storage.Container == "" {
		missing = append(missing, "--container")
	}
	if len(missing) > 0 {
		return d, fmt.Errorf("missing required configuration: %v", missing)
	}

	if d.Mode == migration.ModeOffline && !migrateAutoBackup && d.LastBackupName == "" {
		return d, fmt.Errorf("offline mode needs --last-backup-name or --auto-backup")
	}
	if migrateCutover && d.Mode != migration.ModeOnline {
		return d, fmt.Errorf("--cutover only applies to online migrations")
	}

	return d, nil
}

// applyPlanDefaults copies plan-level run options into the flag variables
// when the operator did not set them on the command line.
func applyPlanDefaults(plan *Plan) {
	if plan.Backup.Auto {
		migrateAutoBackup = true
	}
	if plan.Backup.LogBackupJob {
		migrateLogBackupJob = true
	}
	if plan.Backup.LogBackupInterval > 0 && migrateLogInterval == 5*time.Minute {
		migrateLogInterval = time.Duration(plan.Backup.LogBackupInterval)
	}
	if plan.PollInterval > 0 && migratePollInterval == monitor.DefaultInterval {
		migratePollInterval = time.Duration(plan.PollInterval)
	}
	if plan.MaxPollDuration > 0 && migrateMaxPollDuration == 0 {
		migrateMaxPollDuration = time.Duration(plan.MaxPollDuration)
	}
}

func override(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// sourcePassword resolves the source login password from the environment,
// falling back to an interactive prompt.
func sourcePassword() (*secrets.Value, error) {
	if env := os.Getenv("SQLFERRY_SOURCE_PASSWORD"); env != "" {
		return secrets.New(env), nil
	}

	raw, err := ui.PromptSecret("Source SQL password")
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if raw == "" {
		return nil, fmt.Errorf("source password is required (set SQLFERRY_SOURCE_PASSWORD or enter it at the prompt)")
	}
	return secrets.New(raw), nil
}
