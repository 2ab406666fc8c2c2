package commands

import (
	"github.com/spf13/cobra"

	"github.com/moparisthebest/cache-fs/pkg/cachefs"
)

var logLevel string

var RootCmd = &cobra.Command{
	Use:   "cachefs",
	Short: "Read-only caching filesystem for unreliable network shares",
	Long: `cachefs mirrors a remote directory tree's names and attributes into a
persistent local index, and copies file contents into a local cache the
first time each file is opened, so later reads work with the remote
unreachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cachefs.SetLogLevel(logLevel)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, disabled)")
	RootCmd.AddCommand(MountCmd)
	RootCmd.AddCommand(PrecacheCmd)
}

func Execute() error {
	return RootCmd.Execute()
}
