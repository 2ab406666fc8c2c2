package index

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

// writeTestTree lays out the canonical fixture: /a and /a/b.rom with
// 1024 bytes of random content.
func writeTestTree(t *testing.T) (string, []byte) {
	t.Helper()

	remote := t.TempDir()
	content := make([]byte, 1024)
	rand.Read(content)

	require.NoError(t, os.MkdirAll(filepath.Join(remote, "a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(remote, "a", "b.rom"), content, 0644))

	return remote, content
}

func TestResolveScenario(t *testing.T) {
	remote, _ := writeTestTree(t)

	tree, err := Build(remote)
	require.NoError(t, err)
	require.Equal(t, 3, tree.Len())

	root, err := tree.Attributes(common.RootID)
	require.NoError(t, err)
	require.True(t, root.IsDir())

	aID, err := tree.Resolve(common.RootID, "a")
	require.NoError(t, err)
	aEntry, err := tree.Attributes(aID)
	require.NoError(t, err)
	require.Equal(t, common.DirEntryKind, aEntry.Kind)

	fileID, err := tree.Resolve(aID, "b.rom")
	require.NoError(t, err)
	fileEntry, err := tree.Attributes(fileID)
	require.NoError(t, err)
	require.Equal(t, common.FileEntryKind, fileEntry.Kind)
	require.Equal(t, uint64(1024), fileEntry.Size)
}

func TestResolveNotFound(t *testing.T) {
	remote, _ := writeTestTree(t)

	tree, err := Build(remote)
	require.NoError(t, err)

	_, err = tree.Resolve(common.RootID, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = tree.Resolve(9999, "a")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = tree.Attributes(9999)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestResolveThroughFile(t *testing.T) {
	remote, _ := writeTestTree(t)

	tree, err := Build(remote)
	require.NoError(t, err)

	aID, err := tree.Resolve(common.RootID, "a")
	require.NoError(t, err)
	fileID, err := tree.Resolve(aID, "b.rom")
	require.NoError(t, err)

	_, err = tree.Resolve(fileID, "anything")
	require.ErrorIs(t, err, common.ErrNotDirectory)

	_, err = tree.Children(fileID)
	require.ErrorIs(t, err, common.ErrNotDirectory)
}

func TestChildrenOrderedByName(t *testing.T) {
	remote := t.TempDir()
	for _, name := range []string{"zebra.txt", "apple.txt", "mango.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(remote, name), []byte("x"), 0644))
	}

	tree, err := Build(remote)
	require.NoError(t, err)

	children, err := tree.Children(common.RootID)
	require.NoError(t, err)
	require.Len(t, children, 3)

	names := []string{children[0].Name, children[1].Name, children[2].Name}
	require.Equal(t, []string{"apple.txt", "mango.txt", "zebra.txt"}, names)
}

func TestPathOf(t *testing.T) {
	remote, _ := writeTestTree(t)

	tree, err := Build(remote)
	require.NoError(t, err)

	rootPath, err := tree.PathOf(common.RootID)
	require.NoError(t, err)
	require.Equal(t, "", rootPath)

	aID, err := tree.Resolve(common.RootID, "a")
	require.NoError(t, err)
	aPath, err := tree.PathOf(aID)
	require.NoError(t, err)
	require.Equal(t, "a", aPath)

	fileID, err := tree.Resolve(aID, "b.rom")
	require.NoError(t, err)
	filePath, err := tree.PathOf(fileID)
	require.NoError(t, err)
	require.Equal(t, "a/b.rom", filePath)

	_, err = tree.PathOf(9999)
	require.ErrorIs(t, err, common.ErrNotFound)
}
