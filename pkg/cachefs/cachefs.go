package cachefs

import (
	"fmt"
	"strings"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/rs/zerolog"

	"github.com/moparisthebest/cache-fs/pkg/cache"
	"github.com/moparisthebest/cache-fs/pkg/common"
	"github.com/moparisthebest/cache-fs/pkg/index"
)

// SetLogLevel configures the logging verbosity.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see per-operation logs (lookups, reads, cache copies).
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

// FileSystem answers filesystem operations from the immutable tree
// index and the content cache. Each operation is an ordinary
// synchronous method; FSNode adapts them to the kernel transport.
// The tree is read-only, so the content cache is the only shared
// mutable state and carries its own concurrency control.
type FileSystem struct {
	tree  *index.Tree
	cache *cache.Cache
}

func New(tree *index.Tree, contentCache *cache.Cache) (*FileSystem, error) {
	if _, err := tree.Attributes(common.RootID); err != nil {
		return nil, fmt.Errorf("tree index has no root entry: %w", err)
	}
	return &FileSystem{tree: tree, cache: contentCache}, nil
}

// Root returns the node to register with the kernel transport.
func (fsys *FileSystem) Root() (fs.InodeEmbedder, error) {
	root, err := fsys.tree.Attributes(common.RootID)
	if err != nil {
		return nil, err
	}
	return &FSNode{fsys: fsys, entry: root}, nil
}

// Lookup resolves a child by name under a directory identifier.
func (fsys *FileSystem) Lookup(parent uint64, name string) (*common.Entry, error) {
	id, err := fsys.tree.Resolve(parent, name)
	if err != nil {
		return nil, err
	}
	return fsys.tree.Attributes(id)
}

// Getattr returns the attribute record for an identifier.
func (fsys *FileSystem) Getattr(id uint64) (*common.Entry, error) {
	return fsys.tree.Attributes(id)
}

// Readdir lists a directory's entries ordered by name.
func (fsys *FileSystem) Readdir(id uint64) ([]*common.Entry, error) {
	return fsys.tree.Children(id)
}

// Open stages the file into the local cache and returns its local
// path. This is the only suspension point where remote I/O happens;
// once it returns, reads never touch the remote again.
func (fsys *FileSystem) Open(id uint64) (string, error) {
	entry, err := fsys.tree.Attributes(id)
	if err != nil {
		return "", err
	}
	if entry.IsDir() {
		return "", common.ErrIsDirectory
	}
	return fsys.cache.EnsureCached(id)
}

// Read serves bytes from the local cached copy, caching inline if the
// caller skipped Open.
func (fsys *FileSystem) Read(id uint64, dest []byte, off int64) (int, error) {
	return fsys.cache.ReadAt(id, dest, off)
}

// Readlink returns the symlink target recorded at scan time.
func (fsys *FileSystem) Readlink(id uint64) (string, error) {
	entry, err := fsys.tree.Attributes(id)
	if err != nil {
		return "", err
	}
	if !entry.IsSymlink() {
		return "", fmt.Errorf("entry %q is not a symlink", entry.Name)
	}
	return entry.Target, nil
}
