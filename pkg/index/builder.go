package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

type workItem struct {
	relPath string
	id      uint64
}

// Build performs a one-time scan of the remote root and produces a
// fresh Tree. Entries that fail to stat are logged and skipped so a
// flaky share degrades the snapshot instead of aborting the mount; a
// failure at the root itself is fatal. Symlink targets are captured
// but never followed, so link cycles cannot trap the scan.
func Build(remoteRoot string) (*Tree, error) {
	var rootStat unix.Stat_t
	if err := unix.Lstat(remoteRoot, &rootStat); err != nil {
		return nil, fmt.Errorf("cannot stat remote root %s: %w", remoteRoot, err)
	}
	if rootStat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, fmt.Errorf("remote root %s: %w", remoteRoot, common.ErrNotDirectory)
	}

	t := newTree()
	if err := t.insert(entryFromStat(&rootStat, common.RootID, 0, "", common.DirEntryKind, "")); err != nil {
		return nil, err
	}
	t.nextID = common.RootID + 1

	// Explicit work stack instead of call recursion so deep trees
	// cannot exhaust the stack.
	stack := []workItem{{relPath: "", id: common.RootID}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirPath := filepath.Join(remoteRoot, item.relPath)
		dirents, err := os.ReadDir(dirPath)
		if err != nil {
			log.Warn().Msgf("skipping unreadable directory %s: %v", dirPath, err)
			continue
		}

		for _, de := range dirents {
			// The pre-built snapshot dropped at the remote root by
			// precache mode is not part of the namespace.
			if item.id == common.RootID && de.Name() == CompressedSnapshotFileName {
				continue
			}

			entryPath := filepath.Join(dirPath, de.Name())

			var stat unix.Stat_t
			if err := unix.Lstat(entryPath, &stat); err != nil {
				log.Warn().Msgf("skipping %s: %v", entryPath, err)
				continue
			}

			var kind common.EntryKind
			var target string
			switch stat.Mode & unix.S_IFMT {
			case unix.S_IFDIR:
				kind = common.DirEntryKind
			case unix.S_IFREG:
				kind = common.FileEntryKind
			case unix.S_IFLNK:
				kind = common.SymlinkEntryKind
				target, err = os.Readlink(entryPath)
				if err != nil {
					log.Warn().Msgf("skipping unreadable symlink %s: %v", entryPath, err)
					continue
				}
			default:
				log.Debug().Msgf("skipping special file %s", entryPath)
				continue
			}

			id := t.nextID
			t.nextID++

			if err := t.insert(entryFromStat(&stat, id, item.id, de.Name(), kind, target)); err != nil {
				log.Warn().Msgf("skipping %s: %v", entryPath, err)
				continue
			}

			if kind == common.DirEntryKind {
				stack = append(stack, workItem{relPath: filepath.Join(item.relPath, de.Name()), id: id})
			}
		}
	}

	log.Info().Msgf("scanned %d entries under %s", t.Len(), remoteRoot)
	return t, nil
}

func entryFromStat(stat *unix.Stat_t, id, parent uint64, name string, kind common.EntryKind, target string) *common.Entry {
	mode := uint32(stat.Mode & 07777)
	switch kind {
	case common.DirEntryKind:
		mode |= unix.S_IFDIR
	case common.SymlinkEntryKind:
		mode |= unix.S_IFLNK
	default:
		mode |= unix.S_IFREG
	}

	return &common.Entry{
		ID:        id,
		Parent:    parent,
		Name:      name,
		Kind:      kind,
		Size:      uint64(stat.Size),
		Mode:      mode,
		Mtime:     stat.Mtim.Sec,
		MtimeNsec: uint32(stat.Mtim.Nsec),
		Uid:       stat.Uid,
		Gid:       stat.Gid,
		Target:    target,
	}
}
