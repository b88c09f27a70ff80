package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlferry/sqlferry/internal/cli/ui"
	"github.com/sqlferry/sqlferry/internal/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sqlferry",
	Short: "Migrate SQL Server databases to Azure SQL Managed Instance",
	Long: `Sqlferry is a CLI tool that migrates SQL Server databases to
Azure SQL Managed Instance.

It backs up the source database to Azure Blob Storage, submits the
migration to the database migration service, polls until the restore
reaches a terminal state, and for online migrations offers a gated
cutover once log shipping has caught up.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Config{Verbose: verbose})
		if err := initConfig(); err != nil {
			if verbose {
				ui.Error(fmt.Sprintf("Error loading config: %v", err))
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		_ = initConfig()
	})

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sqlferry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// Search config in home directory with name ".sqlferry" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sqlferry")
	}

	viper.SetEnvPrefix("SQLFERRY")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			ui.Info(fmt.Sprintf("Using config file: %s", viper.ConfigFileUsed()))
		}
	}

	return nil
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return viper.GetBool("verbose")
}

// IsQuiet returns whether quiet mode is enabled
func IsQuiet() bool {
	return viper.GetBool("quiet")
}
