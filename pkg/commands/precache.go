package commands

import (
	"github.com/spf13/cobra"

	"github.com/moparisthebest/cache-fs/pkg/index"
)

var precacheSource string

var PrecacheCmd = &cobra.Command{
	Use:   "precache",
	Short: "Build the tree index and store a compressed snapshot at the remote root",
	Long: `Scans the remote source directory and writes the compressed tree
snapshot next to it, so future mounts fetch the pre-built index instead
of rescanning. Nothing is mounted.`,
	RunE: runPrecache,
}

func init() {
	PrecacheCmd.Flags().StringVarP(&precacheSource, "source", "s", "", "Remote source directory to scan")
	PrecacheCmd.MarkFlagRequired("source")
}

func runPrecache(cmd *cobra.Command, args []string) error {
	return index.Precache(precacheSource)
}
