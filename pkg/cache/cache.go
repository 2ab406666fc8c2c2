package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/moparisthebest/cache-fs/pkg/common"
	"github.com/moparisthebest/cache-fs/pkg/index"
)

// copyState tracks one in-flight remote copy. Waiters block on done
// and then observe the same path/err the copier produced.
type copyState struct {
	done chan struct{}
	path string
	err  error
}

// Cache copies file contents from the remote source into the local
// cache directory the first time each file is needed, and serves all
// later access purely from the local copy. Cached bytes live under
// <cacheDir>/root/<relative path>, leaving the cache directory root
// free for the tree snapshot and lock file.
type Cache struct {
	tree       *index.Tree
	remoteRoot string
	cacheRoot  string

	mu       sync.Mutex
	inflight map[uint64]*copyState
}

func New(tree *index.Tree, remoteRoot, cacheDir string) (*Cache, error) {
	cacheRoot := filepath.Join(cacheDir, "root")
	if err := os.MkdirAll(cacheRoot, 0755); err != nil {
		return nil, fmt.Errorf("cannot create cache root %s: %w", cacheRoot, err)
	}

	return &Cache{
		tree:       tree,
		remoteRoot: remoteRoot,
		cacheRoot:  cacheRoot,
		inflight:   make(map[uint64]*copyState),
	}, nil
}

// LocalPath returns where a file's cached copy lives (or will live).
func (c *Cache) LocalPath(id uint64) (string, error) {
	rel, err := c.tree.PathOf(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.cacheRoot, rel), nil
}

// EnsureCached guarantees that on return the file identified by id
// exists in full at the returned local path. If a complete copy is
// already present it returns without touching the remote. Concurrent
// calls for the same id perform at most one remote copy: the mutex is
// held only to check and set the in-flight marker, the copy I/O runs
// outside it so unrelated files are never stalled.
func (c *Cache) EnsureCached(id uint64) (string, error) {
	entry, err := c.tree.Attributes(id)
	if err != nil {
		return "", err
	}
	if entry.IsDir() {
		return "", common.ErrIsDirectory
	}
	if entry.Kind != common.FileEntryKind {
		return "", fmt.Errorf("entry %q is not a regular file", entry.Name)
	}

	rel, err := c.tree.PathOf(id)
	if err != nil {
		return "", err
	}
	localPath := filepath.Join(c.cacheRoot, rel)

	if c.complete(localPath, entry) {
		return localPath, nil
	}

	c.mu.Lock()
	if st, ok := c.inflight[id]; ok {
		c.mu.Unlock()
		<-st.done
		return st.path, st.err
	}
	st := &copyState{done: make(chan struct{})}
	c.inflight[id] = st
	c.mu.Unlock()

	st.path, st.err = c.copyFromRemote(entry, rel, localPath)
	close(st.done)

	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()

	return st.path, st.err
}

// ReadAt reads from the file's local copy, caching it first if
// needed. Reads past EOF return the short count with no error.
func (c *Cache) ReadAt(id uint64, dest []byte, off int64) (int, error) {
	localPath, err := c.EnsureCached(id)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := f.ReadAt(dest, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Open stages the file into the cache and opens its local copy.
func (c *Cache) Open(id uint64) (*os.File, error) {
	localPath, err := c.EnsureCached(id)
	if err != nil {
		return nil, err
	}
	return os.Open(localPath)
}

// complete reports whether a finished copy is present. A file at the
// final path is by construction fully written (partial copies only
// ever exist under temp names), the size check guards against a
// snapshot rebuilt after the file was cached.
func (c *Cache) complete(localPath string, entry *common.Entry) bool {
	fi, err := os.Stat(localPath)
	return err == nil && fi.Mode().IsRegular() && fi.Size() == int64(entry.Size)
}

func (c *Cache) copyFromRemote(entry *common.Entry, rel, localPath string) (string, error) {
	// A racing caller may have finished the copy between our
	// completeness check and taking the in-flight slot.
	if c.complete(localPath, entry) {
		return localPath, nil
	}

	remotePath := filepath.Join(c.remoteRoot, rel)
	src, err := os.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %v: %w", remotePath, err, common.ErrSourceUnavailable)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create cache directory for %s: %w", rel, err)
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", localPath, uuid.New().String()[:8])
	dst, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("cannot create temp file %s: %w", tmpPath, err)
	}

	written, err := copyStream(dst, src)
	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("cannot finish temp file %s: %w", tmpPath, err)
	}

	if written != int64(entry.Size) {
		os.Remove(tmpPath)
		return "", fmt.Errorf("short copy of %s: wrote %d of %d bytes: %w",
			remotePath, written, entry.Size, common.ErrSourceUnavailable)
	}

	// The rename is what keeps partial copies invisible: readers
	// only ever see the final path once the full byte count is in.
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("cannot move %s into place: %w", tmpPath, err)
	}

	log.Debug().Str("remote", remotePath).Str("local", localPath).Int64("bytes", written).Msg("cached file")
	return localPath, nil
}

// copyStream is io.Copy with the read and write failure modes kept
// apart: a remote read error means the source went away, a local
// write error is an ordinary cache I/O failure.
func copyStream(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 1<<20)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("cache write failed: %w", werr)
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("remote read failed: %v: %w", rerr, common.ErrSourceUnavailable)
		}
	}
}
