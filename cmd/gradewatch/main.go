// Command gradewatch watches a university portal for grade changes and
// notifies registered students over Telegram.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradewatch",
		Short: "Watch a university portal and send grade change notifications",
		Long: `gradewatch polls the university portal for every registered student,
compares the grade table with the last stored snapshot and sends a Telegram
message describing what changed.

Configuration comes from built-in defaults, an optional YAML file named by
GRADEWATCH_CONFIG, then GRADEWATCH_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newPollCmd(),
		newMigrateCmd(),
	)

	return root
}
