package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlferry/sqlferry/pkg/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version, commit hash, and build date of the sqlferry CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Sqlferry CLI\n")
		fmt.Printf("Version:    %s\n", version.Version)
		fmt.Printf("Commit:     %s\n", version.Commit)
		fmt.Printf("Build Date: %s\n", version.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
