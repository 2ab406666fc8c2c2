package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moparisthebest/cache-fs/pkg/cachefs"
)

var mountOpts cachefs.MountOptions

var MountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount a remote directory with a local content cache",
	RunE:  runMount,
}

func init() {
	MountCmd.Flags().StringVarP(&mountOpts.RemoteDir, "source", "s", "", "Remote source directory to mirror")
	MountCmd.Flags().StringVarP(&mountOpts.MountPoint, "mountpoint", "m", "", "Directory to mount the filesystem on")
	MountCmd.Flags().StringVarP(&mountOpts.CacheDir, "cache-dir", "c", "", "Local directory for the tree index and cached contents")
	MountCmd.Flags().BoolVar(&mountOpts.Rebuild, "rebuild", false, "Force a fresh scan of the remote source")
	MountCmd.Flags().BoolVar(&mountOpts.AllowOther, "allow-other", false, "Allow other users to access the mount")
	MountCmd.MarkFlagRequired("source")
	MountCmd.MarkFlagRequired("mountpoint")
	MountCmd.MarkFlagRequired("cache-dir")
}

func runMount(cmd *cobra.Command, args []string) error {
	startServer, serverError, server, err := cachefs.Mount(mountOpts)
	if err != nil {
		return err
	}
	if err := startServer(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		server.Unmount()
	}()

	// Closed on clean unmount, yields the server error otherwise.
	return <-serverError
}
