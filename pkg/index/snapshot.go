package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

const (
	// SnapshotFileName is the persisted tree file kept at the cache
	// directory root.
	SnapshotFileName = "cachefs.tree"

	// CompressedSnapshotFileName is the pre-built snapshot variant
	// written to the remote root by precache mode.
	CompressedSnapshotFileName = "cachefs.tree.zst"

	// TreeFileFormatVersion is bumped on any incompatible change to
	// the snapshot layout; loaders reject anything else.
	TreeFileFormatVersion uint8 = 0x01

	treeHeaderLength = 25
)

var treeFileStartBytes = []byte{0x89, 0x43, 0x46, 0x53, 0x0D, 0x0A, 0x1A, 0x0A}

type treeFileHeader struct {
	StartBytes    [8]byte
	FormatVersion uint8
	EntryCount    int64
	PayloadLength int64
}

// Persist writes the full forest to w: a fixed-length binary header
// followed by the entry records in identifier order.
func (t *Tree) Persist(w io.Writer) error {
	entries := make([]*common.Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(entries); err != nil {
		return fmt.Errorf("cannot encode tree index: %w", err)
	}

	header := treeFileHeader{
		FormatVersion: TreeFileFormatVersion,
		EntryCount:    int64(len(entries)),
		PayloadLength: int64(payload.Len()),
	}
	copy(header.StartBytes[:], treeFileStartBytes)

	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// Restore reads a snapshot written by Persist and rebuilds the tree.
// Any header mismatch, truncation, or decode failure surfaces as
// ErrCorruptIndex so callers can fall back to a fresh scan.
func Restore(r io.Reader) (*Tree, error) {
	headerBytes := make([]byte, treeHeaderLength)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: short header", common.ErrCorruptIndex)
	}

	var header treeFileHeader
	if err := binary.Read(bytes.NewReader(headerBytes), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: unreadable header", common.ErrCorruptIndex)
	}
	if !bytes.Equal(header.StartBytes[:], treeFileStartBytes) {
		return nil, fmt.Errorf("%w: bad start bytes", common.ErrCorruptIndex)
	}
	if header.FormatVersion != TreeFileFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", common.ErrCorruptIndex, header.FormatVersion)
	}
	if header.EntryCount < 1 || header.PayloadLength < 1 {
		return nil, fmt.Errorf("%w: implausible header lengths", common.ErrCorruptIndex)
	}

	// The length field is untrusted until the bytes actually arrive, so
	// read through a limit instead of allocating what the header claims.
	var payload bytes.Buffer
	n, err := io.Copy(&payload, io.LimitReader(r, header.PayloadLength))
	if err != nil || n != header.PayloadLength {
		return nil, fmt.Errorf("%w: truncated payload", common.ErrCorruptIndex)
	}

	var entries []*common.Entry
	if err := gob.NewDecoder(&payload).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload: %v", common.ErrCorruptIndex, err)
	}
	if int64(len(entries)) != header.EntryCount {
		return nil, fmt.Errorf("%w: entry count mismatch", common.ErrCorruptIndex)
	}

	// Identifiers are assigned in scan order, so sorting by id
	// guarantees parents are linked before their children.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	t := newTree()
	for _, entry := range entries {
		if err := t.insert(entry); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrCorruptIndex, err)
		}
		if entry.ID >= t.nextID {
			t.nextID = entry.ID + 1
		}
	}
	return t, nil
}

// Save persists the tree to an uncompressed snapshot file.
func Save(t *Tree, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Persist(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Load restores a tree from an uncompressed snapshot file.
func Load(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Restore(f)
}

// SaveCompressed persists the tree zstd-compressed. This is the
// variant precache mode drops at the remote root.
func SaveCompressed(t *Tree, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := t.Persist(zw); err != nil {
		zw.Close()
		f.Close()
		os.Remove(path)
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// LoadCompressed restores a tree from a zstd-compressed snapshot.
func LoadCompressed(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCorruptIndex, err)
	}
	defer zr.Close()

	return Restore(zr)
}

// LoadOrBuild resolves the tree index at mount start: the local
// snapshot if present and valid, else a pre-built compressed snapshot
// at the remote root, else a fresh scan. The result is saved back to
// the cache directory so the next mount skips the scan. Deleting the
// local snapshot (or passing rebuild) is the only invalidation path.
func LoadOrBuild(remoteRoot, cacheDir string, rebuild bool) (*Tree, error) {
	treePath := filepath.Join(cacheDir, SnapshotFileName)

	if !rebuild {
		if t, err := Load(treePath); err == nil {
			log.Info().Msgf("loaded tree index from %s (%d entries)", treePath, t.Len())
			return t, nil
		} else if !os.IsNotExist(err) {
			log.Warn().Msgf("cannot load tree index %s: %v", treePath, err)
		}

		compressedPath := filepath.Join(remoteRoot, CompressedSnapshotFileName)
		if t, err := LoadCompressed(compressedPath); err == nil {
			log.Info().Msgf("loaded pre-built snapshot from %s (%d entries)", compressedPath, t.Len())
			if err := Save(t, treePath); err != nil {
				log.Warn().Msgf("cannot save tree index %s: %v", treePath, err)
			}
			return t, nil
		} else if !os.IsNotExist(err) {
			log.Warn().Msgf("cannot load snapshot %s: %v", compressedPath, err)
		}
	}

	t, err := Build(remoteRoot)
	if err != nil {
		return nil, err
	}
	if err := Save(t, treePath); err != nil {
		log.Warn().Msgf("cannot save tree index %s: %v", treePath, err)
	}
	return t, nil
}

// Precache scans the remote root and writes the compressed snapshot
// next to it so future mounts can fetch the pre-built tree instead of
// rescanning. Nothing is mounted.
func Precache(remoteRoot string) error {
	t, err := Build(remoteRoot)
	if err != nil {
		return err
	}

	snapshotPath := filepath.Join(remoteRoot, CompressedSnapshotFileName)
	if err := SaveCompressed(t, snapshotPath); err != nil {
		return fmt.Errorf("cannot write snapshot %s: %w", snapshotPath, err)
	}
	log.Info().Msgf("wrote snapshot %s (%d entries)", snapshotPath, t.Len())
	return nil
}
