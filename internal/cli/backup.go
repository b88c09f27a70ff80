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
	"github.com/sqlferry/sqlferry/internal/cli/ui"
	backupdom "github.com/sqlferry/sqlferry/internal/domain/backup"
	"github.com/sqlferry/sqlferry/internal/domain/migration"
	"github.com/sqlferry/sqlferry/internal/infrastructure/azure"
	"github.com/sqlferry/sqlferry/internal/infrastructure/sqlserver"
)

var (
	backupSourceHost     string
	backupSourceUser     string
	backupSourceDatabase string
	backupSubscription   string
	backupResourceGroup  string
	backupStorageAccount string
	backupContainer      string
	backupKind           string
	backupAgentJob       bool
	backupFollow         time.Duration
	backupSASExpiryHours int
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the source database to Azure Blob Storage",
	Long: `Back up a SQL Server database directly to Azure Blob Storage.

The command provisions the storage credential on the source server and
runs a backup-to-URL. It can take a single full or log backup, create a
recurring SQL Agent log backup job on the server, or keep taking log
backups itself on a fixed cadence.

Examples:
  # One full backup
  sqlferry backup --source-host db01 --source-user migrator --source-database sales \
    --resource-group rg-mig --storage-account stmig --container backups

  # Recurring log backups via SQL Agent
  sqlferry backup --kind log --agent-job ...

  # Recurring log backups driven by sqlferry until interrupted
  sqlferry backup --kind log --follow 5m ...`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVar(&backupSourceHost, "source-host", "", "source SQL Server host[:port]")
	backupCmd.Flags().StringVar(&backupSourceUser, "source-user", "", "source SQL login")
	backupCmd.Flags().StringVar(&backupSourceDatabase, "source-database", "", "source database name")
	backupCmd.Flags().StringVar(&backupSubscription, "subscription", "", "Azure subscription ID (default from credential config)")
	backupCmd.Flags().StringVar(&backupResourceGroup, "resource-group", "", "resource group of the storage account")
	backupCmd.Flags().StringVar(&backupStorageAccount, "storage-account", "", "storage account receiving the backups")
	backupCmd.Flags().StringVar(&backupContainer, "container", "", "blob container receiving the backups")
	backupCmd.Flags().StringVar(&backupKind, "kind", "full", "backup kind (full, log)")
	backupCmd.Flags().BoolVar(&backupAgentJob, "agent-job", false, "create a recurring SQL Agent log backup job instead of backing up once")
	backupCmd.Flags().DurationVar(&backupFollow, "follow", 0, "keep taking log backups on this cadence until interrupted")
	backupCmd.Flags().IntVar(&backupSASExpiryHours, "sas-expiry-hours", 24, "lifetime of the storage access token in hours")

	_ = backupCmd.MarkFlagRequired("source-host")
	_ = backupCmd.MarkFlagRequired("source-user")
	_ = backupCmd.MarkFlagRequired("source-database")
	_ = backupCmd.MarkFlagRequired("resource-group")
	_ = backupCmd.MarkFlagRequired("storage-account")
	_ = backupCmd.MarkFlagRequired("container")
}

func runBackup(cmd *cobra.Command, args []string) error {
	if backupKind != string(backupdom.KindFull) && backupKind != "full" &&
		backupKind != string(backupdom.KindLog) && backupKind != "log" {
		return fmt.Errorf("unknown backup kind %q (expected full or log)", backupKind)
	}
	takeLog := backupKind == "log" || backupKind == string(backupdom.KindLog)
	if (backupAgentJob || backupFollow > 0) && !takeLog {
		return fmt.Errorf("recurring backups are log backups; use --kind log")
	}

	src := migration.Source{
		Host:     backupSourceHost,
		User:     backupSourceUser,
		Database: backupSourceDatabase,
	}
	storage := migration.Storage{
		Account:   backupStorageAccount,
		Container: backupContainer,
	}
	containerURL := storage.ContainerURL()

	password, err := sourcePassword()
	if err != nil {
		return err
	}
	defer password.Wipe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credConfig := azure.NewCredentialConfig().WithSubscriptionID(backupSubscription)
	subscriptionID, err := credConfig.GetSubscriptionID()
	if err != nil {
		return err
	}
	cred, err := credConfig.GetCredential(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with Azure: %w", err)
	}

	tokens, err := azure.NewSASProvider(subscriptionID, cred, backupResourceGroup, storage)
	if err != nil {
		return err
	}

	exec, err := sqlserver.Open(src, password)
	if err != nil {
		return err
	}
	defer exec.Close()
	if err := exec.Ping(ctx); err != nil {
		return err
	}

	coord := backup.NewCoordinator(exec)

	if !IsQuiet() {
		ui.Info("Provisioning storage credential on the source server")
	}
	token, err := tokens.GetOrCreateAccessToken(ctx, time.Duration(backupSASExpiryHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("minting storage access token: %w", err)
	}
	if err := coord.EnsureStorageCredential(ctx, containerURL, token.Value); err != nil {
		return err
	}

	switch {
	case backupAgentJob:
		jobName, err := backup.NewScheduler(exec).EnsureAgentJob(ctx, src.Database, containerURL, backupFollowOrDefault())
		if err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("Recurring log backup job %s created", jobName))
		return nil

	case backupFollow > 0:
		return runFollowBackups(ctx, coord, src.Database, containerURL)

	case takeLog:
		art, err := coord.TakeLogBackup(ctx, src.Database, containerURL)
		if err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("Log backup uploaded: %s", art.BlobName))
		return nil

	default:
		art, err := coord.TakeFullBackup(ctx, src.Database, containerURL)
		if err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("Full backup uploaded: %s", art.BlobName))
		return nil
	}
}

func backupFollowOrDefault() time.Duration {
	if backupFollow > 0 {
		return backupFollow
	}
	return 5 * time.Minute
}

// runFollowBackups keeps shipping log backups from this process until the
// context is canceled.
func runFollowBackups(ctx context.Context, coord *backup.Coordinator, database, containerURL string) error {
	sched := backup.NewLocalScheduler(coord, database, containerURL, backupFollow)
	sched.OnResult = func(art backupdom.Artifact, err error) {
		if err != nil {
			ui.Warning(fmt.Sprintf("log backup failed: %v", err))
			return
		}
		if !IsQuiet() {
			ui.Info(fmt.Sprintf("Log backup uploaded: %s", art.BlobName))
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if !IsQuiet() {
		ui.Info(fmt.Sprintf("Shipping log backups every %s; press Ctrl-C to stop", backupFollow))
	}

	<-ctx.Done()
	sched.Stop()
	return nil
}
