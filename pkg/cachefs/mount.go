package cachefs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog/log"

	"github.com/moparisthebest/cache-fs/pkg/cache"
	"github.com/moparisthebest/cache-fs/pkg/index"
)

type MountOptions struct {
	RemoteDir  string
	CacheDir   string
	MountPoint string
	Rebuild    bool
	AllowOther bool
}

// Mount loads or builds the tree index, wires the content cache and
// dispatcher together, and registers the filesystem with the kernel.
// It returns a start function, a channel that yields a server error
// or closes on clean unmount, and the server handle.
func Mount(options MountOptions) (func() error, <-chan error, *fuse.Server, error) {
	log.Info().Msgf("mounting %s on %s with cache %s", options.RemoteDir, options.MountPoint, options.CacheDir)

	if _, err := os.Stat(options.MountPoint); os.IsNotExist(err) {
		if err := os.MkdirAll(options.MountPoint, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create mount point directory: %v", err)
		}
	}
	if mounted, err := mountinfo.Mounted(options.MountPoint); err == nil && mounted {
		return nil, nil, nil, fmt.Errorf("%s is already a mount point", options.MountPoint)
	}

	if err := os.MkdirAll(options.CacheDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create cache directory: %v", err)
	}

	// One mount per cache directory; a second mount sharing it would
	// race the snapshot file and in-flight copies.
	cacheLock := flock.New(filepath.Join(options.CacheDir, "cachefs.lock"))
	locked, err := cacheLock.TryLock()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot lock cache directory: %v", err)
	}
	if !locked {
		return nil, nil, nil, fmt.Errorf("cache directory %s is in use by another mount", options.CacheDir)
	}

	tree, err := index.LoadOrBuild(options.RemoteDir, options.CacheDir, options.Rebuild)
	if err != nil {
		cacheLock.Unlock()
		return nil, nil, nil, err
	}

	contentCache, err := cache.New(tree, options.RemoteDir, options.CacheDir)
	if err != nil {
		cacheLock.Unlock()
		return nil, nil, nil, err
	}

	fsys, err := New(tree, contentCache)
	if err != nil {
		cacheLock.Unlock()
		return nil, nil, nil, err
	}

	root, err := fsys.Root()
	if err != nil {
		cacheLock.Unlock()
		return nil, nil, nil, err
	}

	// The tree never changes, so the kernel can hold entries and
	// attributes for a long time.
	attrTimeout := time.Second * 60
	entryTimeout := time.Second * 60
	fsOptions := &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
	server, err := fuse.NewServer(fs.NewNodeFS(root, fsOptions), options.MountPoint, &fuse.MountOptions{
		FsName:         "cachefs",
		Name:           "cachefs",
		AllowOther:     options.AllowOther,
		Options:        []string{"ro"},
		MaxBackground:  512,
		DisableXAttrs:  true,
		RememberInodes: true,
		MaxReadAhead:   1024 * 128, // 128KB
	})
	if err != nil {
		cacheLock.Unlock()
		return nil, nil, nil, fmt.Errorf("could not create server: %v", err)
	}

	serverError := make(chan error, 1)
	startServer := func() error {
		go func() {
			go server.Serve()

			if err := server.WaitMount(); err != nil {
				cacheLock.Unlock()
				serverError <- err
				return
			}

			server.Wait()
			cacheLock.Unlock()

			close(serverError)
		}()

		return nil
	}

	return startServer, serverError, server, nil
}
