package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	fuse "github.com/ofslabs/ofs"
	"github.com/ofslabs/ofs/internal/ofs/filesystem"
	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

func newBridge(t *testing.T) *Bridge {
	t.Helper()

	log := zap.NewNop()
	s, err := storage.Create(filepath.Join(t.TempDir(), "test.ofs"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	st := store.New(s, log)

	preset := []object.Object{
		object.Header{Root: objectid.New(1)},
		object.Entry{Name: objectid.New(2), Kind: object.Directory, Mode: 0o777},
		object.NewPayload([]byte("/")),
	}
	for _, obj := range preset {
		_, err := st.Alloc(nil, obj)
		require.NoError(t, err)
	}

	fs, err := filesystem.New(st, filesystem.MainOrigin(true), log)
	require.NoError(t, err)

	return New(fs)
}

func TestToErrno(t *testing.T) {
	require.NoError(t, toErrno(nil))
	require.Equal(t, fuse.EROFS, toErrno(fserr.ErrReadOnly))
	require.Equal(t, fuse.ENOENT, toErrno(fserr.ErrNotFound))
	require.Equal(t, fuse.ENOSYS, toErrno(fserr.ErrNotImplemented))
	require.Equal(t, fuse.EIO, toErrno(fserr.ErrCorrupt))
	require.Equal(t, fuse.EIO, toErrno(fserr.ErrOutOfSpace))
}

func TestAttrOf_SetsDirModeBit(t *testing.T) {
	a := attrOf(filesystem.Attr{Kind: object.Directory, Mode: 0o755})
	require.NotZero(t, a.Mode&os.ModeDir)
}

func TestAttrOf_RegularFileHasNoDirBit(t *testing.T) {
	a := attrOf(filesystem.Attr{Kind: object.RegularFile, Mode: 0o644})
	require.Zero(t, a.Mode&os.ModeDir)
}

func TestBridge_MkDirThenLookUpInode(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	mkResp, err := b.MkDir(ctx, &fuse.MkDirRequest{
		Parent: fuse.RootInodeID,
		Name:   "sub",
		Mode:   0o755,
	})
	require.NoError(t, err)
	require.NotZero(t, mkResp.Entry.Child)

	lookResp, err := b.LookUpInode(ctx, &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "sub",
	})
	require.NoError(t, err)
	require.Equal(t, mkResp.Entry.Child, lookResp.Entry.Child)
}

func TestBridge_LookUpInode_NotFoundMapsToENOENT(t *testing.T) {
	b := newBridge(t)

	_, err := b.LookUpInode(context.Background(), &fuse.LookUpInodeRequest{
		Parent: fuse.RootInodeID,
		Name:   "nope",
	})
	require.Equal(t, fuse.ENOENT, err)
}

func TestBridge_CreateWriteReadFile(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	createResp, err := b.CreateFile(ctx, &fuse.CreateFileRequest{
		Parent: fuse.RootInodeID,
		Name:   "f",
		Mode:   0o644,
	})
	require.NoError(t, err)

	_, err = b.WriteFile(ctx, &fuse.WriteFileRequest{
		Inode:  createResp.Entry.Child,
		Handle: createResp.Handle,
		Offset: 0,
		Data:   []byte("hi"),
	})
	require.NoError(t, err)

	readResp, err := b.ReadFile(ctx, &fuse.ReadFileRequest{
		Inode:  createResp.Entry.Child,
		Offset: 0,
		Size:   2,
	})
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), readResp.Data)
}

func TestBridge_ReadDir_IncludesDotAndDotDot(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	_, err := b.CreateFile(ctx, &fuse.CreateFileRequest{Parent: fuse.RootInodeID, Name: "f", Mode: 0o644})
	require.NoError(t, err)

	openResp, err := b.OpenDir(ctx, &fuse.OpenDirRequest{Inode: fuse.RootInodeID})
	require.NoError(t, err)

	readResp, err := b.ReadDir(ctx, &fuse.ReadDirRequest{
		Inode:  fuse.RootInodeID,
		Handle: openResp.Handle,
		Offset: 0,
		Size:   4096,
	})
	require.NoError(t, err)
	require.NotEmpty(t, readResp.Data)
}

func TestBridge_HandleLifecycle(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	openResp, err := b.OpenDir(ctx, &fuse.OpenDirRequest{Inode: fuse.RootInodeID})
	require.NoError(t, err)

	b.handleMu.Lock()
	_, tracked := b.dirHandles[openResp.Handle]
	b.handleMu.Unlock()
	require.True(t, tracked)

	_, err = b.ReleaseDirHandle(ctx, &fuse.ReleaseDirHandleRequest{Handle: openResp.Handle})
	require.NoError(t, err)

	b.handleMu.Lock()
	_, stillTracked := b.dirHandles[openResp.Handle]
	b.handleMu.Unlock()
	require.False(t, stillTracked)
}
