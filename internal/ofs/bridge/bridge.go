// Package bridge adapts a filesystem.Filesystem to the jacobsa/fuse
// FileSystem interface, translating inode ids, attributes and fserr
// sentinels into their kernel-facing equivalents.
//
// filesystem.Filesystem is not safe for concurrent use, so every method
// here takes an invariant-checked mutex before touching it, the same
// pattern the sample in-memory file system uses.
package bridge

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/syncutil"
	"github.com/pkg/errors"
	"golang.org/x/net/context"

	fuse "github.com/ofslabs/ofs"
	"github.com/ofslabs/ofs/internal/ofs/filesystem"
	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/inode"
	"github.com/ofslabs/ofs/internal/ofs/object"
)

// Bridge implements fuse.FileSystem on top of a filesystem.Filesystem.
//
// Rename is not exposed here: this vendored version of fuse.FileSystem has
// no Rename method, so a same-directory rename can only be exercised by
// calling filesystem.Filesystem.Rename directly (see its tests).
type Bridge struct {
	mu syncutil.InvariantMutex

	fs *filesystem.Filesystem // GUARDED_BY(mu)

	nextHandle uint64 // atomic

	handleMu    sync.Mutex
	dirHandles  map[fuse.HandleID]inode.ID
	fileHandles map[fuse.HandleID]inode.ID
}

// New wraps fs, ready to be passed to fuse.Mount.
func New(fs *filesystem.Filesystem) *Bridge {
	b := &Bridge{
		fs:          fs,
		dirHandles:  make(map[fuse.HandleID]inode.ID),
		fileHandles: make(map[fuse.HandleID]inode.ID),
	}
	b.mu = syncutil.NewInvariantMutex(b.checkInvariants)
	return b
}

// checkInvariants asserts filesystem.Filesystem's spec invariants on every
// unlock of mu, the same invariant-checked-mutex idiom the sample in-memory
// file system uses: a violation panics here, as close as possible to the
// operation that caused it, instead of surfacing later as a confusing
// kernel-visible error.
func (b *Bridge) checkInvariants() {
	if err := b.fs.CheckInvariants(); err != nil {
		panic(err.Error())
	}
}

func (b *Bridge) mintHandle() fuse.HandleID {
	return fuse.HandleID(atomic.AddUint64(&b.nextHandle, 1))
}

func attrOf(a filesystem.Attr) fuse.InodeAttributes {
	mode := os.FileMode(a.Mode) & os.ModePerm
	if a.Kind == object.Directory {
		mode |= os.ModeDir
	}

	return fuse.InodeAttributes{
		Size:   a.Size,
		Nlink:  uint64(a.Nlink),
		Mode:   mode,
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Crtime,
		Uid:    a.UID,
		Gid:    a.GID,
	}
}

func childEntry(a filesystem.Attr) fuse.ChildInodeEntry {
	return fuse.ChildInodeEntry{
		Child:      fuse.InodeID(a.Ino),
		Generation: 1,
		Attributes: attrOf(a),
	}
}

// toErrno maps an fserr sentinel (however deeply wrapped by pkg/errors) to
// the kernel errno jacobsa/fuse expects. Anything unrecognized becomes EIO,
// matching the original's "everything else is a hard failure" posture.
func toErrno(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, fserr.ErrReadOnly):
		return fuse.EROFS
	case errors.Is(err, fserr.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, fserr.ErrNotImplemented):
		return fuse.ENOSYS
	default:
		return fuse.EIO
	}
}

func (b *Bridge) Init(
	ctx context.Context,
	req *fuse.InitRequest) (*fuse.InitResponse, error) {
	return &fuse.InitResponse{}, nil
}

func (b *Bridge) LookUpInode(
	ctx context.Context,
	req *fuse.LookUpInodeRequest) (*fuse.LookUpInodeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attr, err := b.fs.Lookup(inode.ID(req.Parent), req.Name)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.LookUpInodeResponse{Entry: childEntry(attr)}, nil
}

func (b *Bridge) GetInodeAttributes(
	ctx context.Context,
	req *fuse.GetInodeAttributesRequest) (*fuse.GetInodeAttributesResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attr, err := b.fs.Getattr(inode.ID(req.Inode))
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.GetInodeAttributesResponse{Attributes: attrOf(attr)}, nil
}

func (b *Bridge) SetInodeAttributes(
	ctx context.Context,
	req *fuse.SetInodeAttributesRequest) (*fuse.SetInodeAttributesResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sreq filesystem.SetattrRequest
	if req.Mode != nil {
		mode := uint16(*req.Mode & os.ModePerm)
		sreq.Mode = &mode
	}
	if req.Size != nil {
		sreq.Size = req.Size
	}

	attr, err := b.fs.Setattr(inode.ID(req.Inode), sreq)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.SetInodeAttributesResponse{Attributes: attrOf(attr)}, nil
}

func (b *Bridge) ForgetInode(
	ctx context.Context,
	req *fuse.ForgetInodeRequest) (*fuse.ForgetInodeResponse, error) {
	// The inode table keeps every live inode for as long as its owning
	// subtree is reachable; there is nothing to release here.
	return &fuse.ForgetInodeResponse{}, nil
}

func (b *Bridge) MkDir(
	ctx context.Context,
	req *fuse.MkDirRequest) (*fuse.MkDirResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attr, err := b.fs.Mkdir(inode.ID(req.Parent), req.Name, uint16(req.Mode&os.ModePerm), req.Header.Uid, req.Header.Gid)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.MkDirResponse{Entry: childEntry(attr)}, nil
}

func (b *Bridge) CreateFile(
	ctx context.Context,
	req *fuse.CreateFileRequest) (*fuse.CreateFileResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attr, err := b.fs.Mknod(inode.ID(req.Parent), req.Name, uint16(req.Mode&os.ModePerm), req.Header.Uid, req.Header.Gid)
	if err != nil {
		return nil, toErrno(err)
	}

	handle := b.mintHandle()
	b.handleMu.Lock()
	b.fileHandles[handle] = inode.ID(attr.Ino)
	b.handleMu.Unlock()

	return &fuse.CreateFileResponse{
		Entry:  childEntry(attr),
		Handle: handle,
	}, nil
}

func (b *Bridge) RmDir(
	ctx context.Context,
	req *fuse.RmDirRequest) (*fuse.RmDirResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.Rmdir(inode.ID(req.Parent), req.Name); err != nil {
		return nil, toErrno(err)
	}

	return &fuse.RmDirResponse{}, nil
}

func (b *Bridge) Unlink(
	ctx context.Context,
	req *fuse.UnlinkRequest) (*fuse.UnlinkResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.Unlink(inode.ID(req.Parent), req.Name); err != nil {
		return nil, toErrno(err)
	}

	return &fuse.UnlinkResponse{}, nil
}

func (b *Bridge) OpenDir(
	ctx context.Context,
	req *fuse.OpenDirRequest) (*fuse.OpenDirResponse, error) {
	handle := b.mintHandle()

	b.handleMu.Lock()
	b.dirHandles[handle] = inode.ID(req.Inode)
	b.handleMu.Unlock()

	return &fuse.OpenDirResponse{Handle: handle}, nil
}

func (b *Bridge) ReadDir(
	ctx context.Context,
	req *fuse.ReadDirRequest) (*fuse.ReadDirResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.fs.Readdir(inode.ID(req.Inode), int64(req.Offset))
	if err != nil {
		return nil, toErrno(err)
	}

	var buf []byte
	for _, e := range entries {
		n := appendDirent(&buf, req.Size-len(buf), dirent{
			ino:    uint64(e.Inode),
			offset: uint64(e.Offset),
			name:   e.Name,
			kind:   e.Kind,
		})
		if n == 0 {
			break
		}
	}

	return &fuse.ReadDirResponse{Data: buf}, nil
}

func (b *Bridge) ReleaseDirHandle(
	ctx context.Context,
	req *fuse.ReleaseDirHandleRequest) (*fuse.ReleaseDirHandleResponse, error) {
	b.handleMu.Lock()
	delete(b.dirHandles, req.Handle)
	b.handleMu.Unlock()

	return &fuse.ReleaseDirHandleResponse{}, nil
}

func (b *Bridge) OpenFile(
	ctx context.Context,
	req *fuse.OpenFileRequest) (*fuse.OpenFileResponse, error) {
	handle := b.mintHandle()

	b.handleMu.Lock()
	b.fileHandles[handle] = inode.ID(req.Inode)
	b.handleMu.Unlock()

	return &fuse.OpenFileResponse{Handle: handle}, nil
}

func (b *Bridge) ReadFile(
	ctx context.Context,
	req *fuse.ReadFileRequest) (*fuse.ReadFileResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.fs.Read(inode.ID(req.Inode), req.Offset, uint32(req.Size))
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.ReadFileResponse{Data: data}, nil
}

func (b *Bridge) WriteFile(
	ctx context.Context,
	req *fuse.WriteFileRequest) (*fuse.WriteFileResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.Write(inode.ID(req.Inode), req.Offset, req.Data); err != nil {
		return nil, toErrno(err)
	}

	return &fuse.WriteFileResponse{}, nil
}

func (b *Bridge) SyncFile(
	ctx context.Context,
	req *fuse.SyncFileRequest) (*fuse.SyncFileResponse, error) {
	// Every write already commits a transaction before returning, so there
	// is nothing left to flush to the container file.
	return &fuse.SyncFileResponse{}, nil
}

func (b *Bridge) FlushFile(
	ctx context.Context,
	req *fuse.FlushFileRequest) (*fuse.FlushFileResponse, error) {
	return &fuse.FlushFileResponse{}, nil
}

func (b *Bridge) ReleaseFileHandle(
	ctx context.Context,
	req *fuse.ReleaseFileHandleRequest) (*fuse.ReleaseFileHandleResponse, error) {
	b.handleMu.Lock()
	delete(b.fileHandles, req.Handle)
	b.handleMu.Unlock()

	return &fuse.ReleaseFileHandleResponse{}, nil
}

var _ fuse.FileSystem = (*Bridge)(nil)
