package cachefs

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"

	"github.com/moparisthebest/cache-fs/pkg/common"
)

// FSNode adapts one tree entry to the kernel transport. All state
// lives in the FileSystem; nodes are cheap and recreated at will.
type FSNode struct {
	fs.Inode
	fsys  *FileSystem
	entry *common.Entry
}

var (
	_ = (fs.NodeGetattrer)((*FSNode)(nil))
	_ = (fs.NodeLookuper)((*FSNode)(nil))
	_ = (fs.NodeOpendirer)((*FSNode)(nil))
	_ = (fs.NodeReaddirer)((*FSNode)(nil))
	_ = (fs.NodeOpener)((*FSNode)(nil))
	_ = (fs.NodeReader)((*FSNode)(nil))
	_ = (fs.NodeReadlinker)((*FSNode)(nil))
	_ = (fs.NodeCreater)((*FSNode)(nil))
	_ = (fs.NodeMkdirer)((*FSNode)(nil))
	_ = (fs.NodeRmdirer)((*FSNode)(nil))
	_ = (fs.NodeUnlinker)((*FSNode)(nil))
	_ = (fs.NodeRenamer)((*FSNode)(nil))
	_ = (fs.NodeSetattrer)((*FSNode)(nil))
	_ = (fs.NodeWriter)((*FSNode)(nil))
)

func (n *FSNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Msg("Getattr called")

	entry, err := n.fsys.Getattr(n.entry.ID)
	if err != nil {
		return ToErrno(err)
	}
	entry.FillAttr(&out.Attr)
	return fs.OK
}

func (n *FSNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	log.Debug().Uint64("parent", n.entry.ID).Str("name", name).Msg("Lookup called")

	child, err := n.fsys.Lookup(n.entry.ID, name)
	if err != nil {
		return nil, ToErrno(err)
	}

	child.FillAttr(&out.Attr)
	childInode := n.NewInode(ctx, &FSNode{fsys: n.fsys, entry: child}, fs.StableAttr{Mode: child.Mode, Ino: child.ID})
	return childInode, fs.OK
}

func (n *FSNode) Opendir(ctx context.Context) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Msg("Opendir called")

	if !n.entry.IsDir() {
		return syscall.ENOTDIR
	}
	return fs.OK
}

func (n *FSNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Msg("Readdir called")

	children, err := n.fsys.Readdir(n.entry.ID)
	if err != nil {
		return nil, ToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, fuse.DirEntry{Mode: child.Mode, Name: child.Name, Ino: child.ID})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *FSNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Uint32("flags", flags).Msg("Open called")

	if n.entry.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	if flags&uint32(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, 0, ToErrno(common.ErrReadOnly)
	}

	localPath, err := n.fsys.Open(n.entry.ID)
	if err != nil {
		return nil, 0, ToErrno(err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, ToErrno(err)
	}

	// Cached contents never change, the kernel may keep pages.
	return &cacheFileHandle{file: f}, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *FSNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Int64("offset", off).Msg("Read called")

	if h, ok := f.(*cacheFileHandle); ok {
		return h.Read(ctx, dest, off)
	}

	nRead, err := n.fsys.Read(n.entry.ID, dest, off)
	if err != nil {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:nRead]), fs.OK
}

func (n *FSNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Msg("Readlink called")

	if !n.entry.IsSymlink() {
		return nil, syscall.EINVAL
	}

	target, err := n.fsys.Readlink(n.entry.ID)
	if err != nil {
		return nil, ToErrno(err)
	}
	return []byte(target), fs.OK
}

func (n *FSNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Str("name", name).Msg("Create called")
	return nil, nil, 0, ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Str("name", name).Msg("Mkdir called")
	return nil, ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Str("name", name).Msg("Rmdir called")
	return ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Unlink(ctx context.Context, name string) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Str("name", name).Msg("Unlink called")
	return ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Str("old_name", oldName).Str("new_name", newName).Msg("Rename called")
	return ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	log.Debug().Uint64("id", n.entry.ID).Msg("Setattr called")
	return ToErrno(common.ErrReadOnly)
}

func (n *FSNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	log.Debug().Uint64("id", n.entry.ID).Int64("offset", off).Msg("Write called")
	return 0, ToErrno(common.ErrReadOnly)
}

// cacheFileHandle serves reads for one open file from its local
// cached copy. The copy is complete before the handle exists, so a
// handle never re-enters the copying state.
type cacheFileHandle struct {
	mu   sync.Mutex
	file *os.File
}

var (
	_ = (fs.FileReader)((*cacheFileHandle)(nil))
	_ = (fs.FileReleaser)((*cacheFileHandle)(nil))
)

func (h *cacheFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil, syscall.EBADF
	}

	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *cacheFileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	return fs.OK
}
