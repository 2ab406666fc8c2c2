package common

import (
	"github.com/hanwen/go-fuse/v2/fuse"
)

type EntryKind string

const (
	DirEntryKind     EntryKind = "dir"
	FileEntryKind    EntryKind = "file"
	SymlinkEntryKind EntryKind = "symlink"
)

// RootID is the identifier of the mount root. The kernel transport
// expects the root inode to be 1.
const RootID uint64 = 1

// Entry is the attribute record for one filesystem entry. Identifiers
// double as the exposed inode numbers and stay stable for the life of
// the mount; only a full rebuild reassigns them.
type Entry struct {
	ID        uint64
	Parent    uint64
	Name      string
	Kind      EntryKind
	Size      uint64
	Mode      uint32
	Mtime     int64
	MtimeNsec uint32
	Uid       uint32
	Gid       uint32
	Target    string // symlink target, empty otherwise
}

// IsDir returns true if the Entry represents a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == DirEntryKind
}

// IsSymlink returns true if the Entry represents a symlink.
func (e *Entry) IsSymlink() bool {
	return e.Kind == SymlinkEntryKind
}

// FillAttr copies the cached attributes into a kernel attr struct.
func (e *Entry) FillAttr(attr *fuse.Attr) {
	attr.Ino = e.ID
	attr.Size = e.Size
	attr.Blocks = (e.Size + 511) / 512
	attr.Mode = e.Mode
	attr.Mtime = uint64(e.Mtime)
	attr.Mtimensec = e.MtimeNsec
	attr.Ctime = uint64(e.Mtime)
	attr.Ctimensec = e.MtimeNsec
	attr.Atime = uint64(e.Mtime)
	attr.Atimensec = e.MtimeNsec
	attr.Nlink = 1
	attr.Owner = fuse.Owner{Uid: e.Uid, Gid: e.Gid}
}
