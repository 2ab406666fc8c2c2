package cache

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moparisthebest/cache-fs/pkg/common"
	"github.com/moparisthebest/cache-fs/pkg/index"
)

type fixture struct {
	remote  string
	cache   *Cache
	tree    *index.Tree
	fileID  uint64
	dirID   uint64
	content []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	remote := t.TempDir()
	content := make([]byte, 1024)
	rand.Read(content)

	require.NoError(t, os.MkdirAll(filepath.Join(remote, "a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(remote, "a", "b.rom"), content, 0644))

	tree, err := index.Build(remote)
	require.NoError(t, err)

	c, err := New(tree, remote, t.TempDir())
	require.NoError(t, err)

	dirID, err := tree.Resolve(common.RootID, "a")
	require.NoError(t, err)
	fileID, err := tree.Resolve(dirID, "b.rom")
	require.NoError(t, err)

	return &fixture{
		remote:  remote,
		cache:   c,
		tree:    tree,
		fileID:  fileID,
		dirID:   dirID,
		content: content,
	}
}

func (f *fixture) noTempLeftovers(t *testing.T) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(f.cache.cacheRoot, "a", "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestEnsureCachedCopiesFile(t *testing.T) {
	f := newFixture(t)

	localPath, err := f.cache.EnsureCached(f.fileID)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.cache.cacheRoot, "a", "b.rom"), localPath)

	cached, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, f.content, cached)
	f.noTempLeftovers(t)
}

func TestEnsureCachedIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.cache.EnsureCached(f.fileID)
	require.NoError(t, err)

	// With the remote gone, a second call can only succeed if it
	// never leaves local storage.
	require.NoError(t, os.RemoveAll(f.remote))

	second, err := f.cache.EnsureCached(f.fileID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureCachedConcurrent(t *testing.T) {
	f := newFixture(t)

	const n = 16
	paths := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.cache.EnsureCached(f.fileID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, paths[0], paths[i])
	}

	cached, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, f.content, cached)
	f.noTempLeftovers(t)
}

func TestEnsureCachedConcurrentFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.remote))

	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.cache.EnsureCached(f.fileID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], common.ErrSourceUnavailable)
	}
}

func TestEnsureCachedSourceUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.remote, "a", "b.rom")))

	_, err := f.cache.EnsureCached(f.fileID)
	require.ErrorIs(t, err, common.ErrSourceUnavailable)

	localPath, err := f.cache.LocalPath(f.fileID)
	require.NoError(t, err)
	_, err = os.Stat(localPath)
	require.True(t, os.IsNotExist(err))
}

func TestEnsureCachedShortRemoteNeverVisible(t *testing.T) {
	f := newFixture(t)

	// The remote delivers fewer bytes than the index recorded, as if
	// the copy were interrupted partway.
	require.NoError(t, os.WriteFile(filepath.Join(f.remote, "a", "b.rom"), f.content[:100], 0644))

	_, err := f.cache.EnsureCached(f.fileID)
	require.Error(t, err)

	localPath, err := f.cache.LocalPath(f.fileID)
	require.NoError(t, err)
	_, err = os.Stat(localPath)
	require.True(t, os.IsNotExist(err))
	f.noTempLeftovers(t)
}

func TestEnsureCachedDirectory(t *testing.T) {
	f := newFixture(t)

	_, err := f.cache.EnsureCached(f.dirID)
	require.ErrorIs(t, err, common.ErrIsDirectory)

	_, err = f.cache.EnsureCached(9999)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestReadAt(t *testing.T) {
	f := newFixture(t)

	// ReadAt caches inline, no prior EnsureCached needed.
	dest := make([]byte, 1024)
	n, err := f.cache.ReadAt(f.fileID, dest, 0)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.Equal(t, f.content, dest)

	tail := make([]byte, 100)
	n, err = f.cache.ReadAt(f.fileID, tail, 1000)
	require.NoError(t, err)
	require.Equal(t, 24, n)
	require.Equal(t, f.content[1000:], tail[:n])

	past := make([]byte, 10)
	n, err = f.cache.ReadAt(f.fileID, past, 5000)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestOpenServesCachedCopy(t *testing.T) {
	f := newFixture(t)

	file, err := f.cache.Open(f.fileID)
	require.NoError(t, err)
	defer file.Close()

	dest := make([]byte, 1024)
	n, err := file.ReadAt(dest, 0)
	require.NoError(t, err)
	require.Equal(t, f.content, dest[:n])
}
