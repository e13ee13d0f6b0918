package filesystem_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/clone"
	"github.com/ofslabs/ofs/internal/ofs/collector"
	"github.com/ofslabs/ofs/internal/ofs/filesystem"
	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/inode"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

// newContainer lays down the same preset `ofs create` does: a Header
// pointing at an empty root directory Entry named "/".
func newContainer(t *testing.T) *store.Store {
	t.Helper()

	log := zap.NewNop()
	s, err := storage.Create(filepath.Join(t.TempDir(), "test.ofs"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	st := store.New(s, log)

	preset := []object.Object{
		object.Header{Root: objectid.New(1), Dead: objectid.None(), Clone: objectid.None()},
		object.Entry{Name: objectid.New(2), Kind: object.Directory, Mode: 0o777},
		object.NewPayload([]byte("/")),
	}
	for _, obj := range preset {
		_, err := st.Alloc(nil, obj)
		require.NoError(t, err)
	}

	return st
}

func newFS(t *testing.T, writable bool) *filesystem.Filesystem {
	t.Helper()
	fs, err := filesystem.New(newContainer(t), filesystem.MainOrigin(writable), zap.NewNop())
	require.NoError(t, err)
	return fs
}

// S1: create a file, then look it up from a fresh lookup of the same name.
func TestScenario_CreateThenLookup(t *testing.T) {
	fs := newFS(t, true)

	created, err := fs.Mknod(inode.Root, "hello.txt", 0o644, 1000, 1000)
	require.NoError(t, err)

	found, err := fs.Lookup(inode.Root, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, created.Ino, found.Ino)
	require.Equal(t, object.RegularFile, found.Kind)
}

// Write then read back the same bytes, including an offset-extending
// write that must zero-pad the gap.
func TestScenario_WriteThenRead(t *testing.T) {
	fs := newFS(t, true)

	attr, err := fs.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)
	iid := inode.ID(attr.Ino)

	require.NoError(t, fs.Write(iid, 0, []byte("hello")))
	got, err := fs.Read(iid, 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, fs.Write(iid, 10, []byte("world")))
	got, err = fs.Read(iid, 0, 15)
	require.NoError(t, err)
	require.Equal(t, []byte("hello\x00\x00\x00\x00\x00world"), got)
}

// Mkdir a nested directory, create a file inside it, and confirm the
// root's own directory listing is unaffected (CoW path rewrite only
// touches the path to the mutated entry).
func TestScenario_NestedMkdirAndMknod(t *testing.T) {
	fs := newFS(t, true)

	dirAttr, err := fs.Mkdir(inode.Root, "sub", 0o755, 0, 0)
	require.NoError(t, err)
	dirIID := inode.ID(dirAttr.Ino)

	_, err = fs.Mknod(dirIID, "inner.txt", 0o644, 0, 0)
	require.NoError(t, err)

	rootEntries, err := fs.Readdir(inode.Root, 0)
	require.NoError(t, err)

	var names []string
	for _, e := range rootEntries {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "sub")
	require.NotContains(t, names, "inner.txt")

	subEntries, err := fs.Readdir(dirIID, 0)
	require.NoError(t, err)
	var subNames []string
	for _, e := range subEntries {
		subNames = append(subNames, e.Name)
	}
	require.Contains(t, subNames, "inner.txt")
	require.Contains(t, subNames, ".")
	require.Contains(t, subNames, "..")
}

// S4: unlink a file from a directory with siblings, and confirm the
// siblings survive the CoW rewrite with their identities intact.
func TestScenario_UnlinkPreservesSiblings(t *testing.T) {
	fs := newFS(t, true)

	a, err := fs.Mknod(inode.Root, "a", 0o644, 0, 0)
	require.NoError(t, err)
	b, err := fs.Mknod(inode.Root, "b", 0o644, 0, 0)
	require.NoError(t, err)
	c, err := fs.Mknod(inode.Root, "c", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(inode.Root, "b"))

	_, err = fs.Lookup(inode.Root, "b")
	require.ErrorIs(t, err, fserr.ErrNotFound)

	stillA, err := fs.Lookup(inode.Root, "a")
	require.NoError(t, err)
	require.Equal(t, a.Ino, stillA.Ino)

	stillC, err := fs.Lookup(inode.Root, "c")
	require.NoError(t, err)
	require.Equal(t, c.Ino, stillC.Ino)

	entries, err := fs.Readdir(inode.Root, 0)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.NotContains(t, names, "b")
	_ = b
}

// S5: rmdir on a non-empty directory discards the whole subtree without an
// emptiness check, matching the original.
func TestScenario_RmdirNonEmptyDiscardsSubtree(t *testing.T) {
	fs := newFS(t, true)

	dirAttr, err := fs.Mkdir(inode.Root, "sub", 0o755, 0, 0)
	require.NoError(t, err)
	dirIID := inode.ID(dirAttr.Ino)

	innerAttr, err := fs.Mknod(dirIID, "inner.txt", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.Rmdir(inode.Root, "sub"))

	_, err = fs.Lookup(inode.Root, "sub")
	require.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = fs.Getattr(inode.ID(innerAttr.Ino))
	require.Error(t, err)
}

// S2: a read-only clone taken after a write keeps seeing the pre-mutation
// bytes no matter how much further main writes afterward.
func TestScenario_SnapshotReadThroughReadOnlyClone(t *testing.T) {
	st := newContainer(t)
	log := zap.NewNop()

	fsMain, err := filesystem.New(st, filesystem.MainOrigin(true), log)
	require.NoError(t, err)

	attr, err := fsMain.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)
	iid := inode.ID(attr.Ino)
	require.NoError(t, fsMain.Write(iid, 0, []byte("before")))

	cloner := clone.New(st)
	require.NoError(t, cloner.Create("snap", false))
	cl, err := cloner.Find("snap")
	require.NoError(t, err)
	require.False(t, cl.IsWritable)

	fsClone, err := filesystem.New(st, filesystem.CloneOrigin(cl.OID, cl.IsWritable), log)
	require.NoError(t, err)

	require.NoError(t, fsMain.Write(iid, 0, []byte("after!")))

	cloneFound, err := fsClone.Lookup(inode.Root, "f")
	require.NoError(t, err)
	data, err := fsClone.Read(inode.ID(cloneFound.Ino), 0, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("before"), data)

	mainData, err := fsMain.Read(iid, 0, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("after!"), mainData)

	err = fsClone.Write(inode.ID(cloneFound.Ino), 0, []byte("nope!!"))
	require.ErrorIs(t, err, fserr.ErrReadOnly)
}

// Testable Property 4 (CoW non-interference), symmetric case: mutations
// through a writable clone diverge on their own without touching main's
// view, just as main's mutations never leak into the clone.
func TestScenario_WritableCloneDivergesWithoutAffectingMain(t *testing.T) {
	st := newContainer(t)
	log := zap.NewNop()

	fsMain, err := filesystem.New(st, filesystem.MainOrigin(true), log)
	require.NoError(t, err)

	attr, err := fsMain.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)
	mainIID := inode.ID(attr.Ino)
	require.NoError(t, fsMain.Write(mainIID, 0, []byte("shared")))

	cloner := clone.New(st)
	require.NoError(t, cloner.Create("writable-snap", true))
	cl, err := cloner.Find("writable-snap")
	require.NoError(t, err)

	fsClone, err := filesystem.New(st, filesystem.CloneOrigin(cl.OID, true), log)
	require.NoError(t, err)

	cloneFound, err := fsClone.Lookup(inode.Root, "f")
	require.NoError(t, err)
	cloneIID := inode.ID(cloneFound.Ino)

	require.NoError(t, fsClone.Write(cloneIID, 0, []byte("diverged")))
	_, err = fsClone.Mknod(inode.Root, "only-on-clone", 0o644, 0, 0)
	require.NoError(t, err)

	mainData, err := fsMain.Read(mainIID, 0, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), mainData)

	_, err = fsMain.Lookup(inode.Root, "only-on-clone")
	require.ErrorIs(t, err, fserr.ErrNotFound)

	cloneData, err := fsClone.Read(cloneIID, 0, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("diverged"), cloneData)
}

// S3: unlinking and collecting frees slots that the very next allocation
// recycles, so the container never grows to hold them.
func TestScenario_DeleteCollectReuseKeepsFileLengthConstant(t *testing.T) {
	st := newContainer(t)
	log := zap.NewNop()

	fs, err := filesystem.New(st, filesystem.MainOrigin(true), log)
	require.NoError(t, err)

	_, err = fs.Mknod(inode.Root, "doomed", 0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(inode.Root, "doomed"))

	require.NoError(t, collector.New(st, log).Run())

	lenBefore, err := st.Len()
	require.NoError(t, err)

	_, err = fs.Mknod(inode.Root, "reused", 0o644, 0, 0)
	require.NoError(t, err)

	lenAfter, err := st.Len()
	require.NoError(t, err)
	require.Equal(t, lenBefore, lenAfter)
}

// S6: a corrupted slot reachable from the root makes the initial collect
// that filesystem.New runs fail loudly instead of silently misreading it.
func TestScenario_CorruptSlotFailsInitialCollect(t *testing.T) {
	log := zap.NewNop()

	s, err := storage.Create(filepath.Join(t.TempDir(), "corrupt.ofs"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	st := store.New(s, log)
	preset := []object.Object{
		object.Header{Root: objectid.New(1), Dead: objectid.None(), Clone: objectid.None()},
		object.Entry{Name: objectid.New(2), Kind: object.Directory, Mode: 0o777},
		object.NewPayload([]byte("/")),
	}
	for _, obj := range preset {
		_, err := st.Alloc(nil, obj)
		require.NoError(t, err)
	}

	var garbage [object.Size]byte
	garbage[0] = 0xFF
	require.NoError(t, s.Write(1, garbage))

	_, err = filesystem.New(st, filesystem.MainOrigin(true), log)
	require.ErrorIs(t, err, fserr.ErrCorrupt)
}

// A read-only origin rejects every mutating operation.
func TestScenario_ReadOnlyOriginRejectsMutations(t *testing.T) {
	fs := newFS(t, false)

	_, err := fs.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.ErrorIs(t, err, fserr.ErrReadOnly)

	err = fs.Unlink(inode.Root, "f")
	require.ErrorIs(t, err, fserr.ErrReadOnly)

	err = fs.Write(inode.Root, 0, []byte("x"))
	require.ErrorIs(t, err, fserr.ErrReadOnly)
}

func TestRename_SameDirectory(t *testing.T) {
	fs := newFS(t, true)

	attr, err := fs.Mknod(inode.Root, "old.txt", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(inode.Root, "old.txt", inode.Root, "new.txt"))

	_, err = fs.Lookup(inode.Root, "old.txt")
	require.ErrorIs(t, err, fserr.ErrNotFound)

	renamed, err := fs.Lookup(inode.Root, "new.txt")
	require.NoError(t, err)
	require.Equal(t, attr.Ino, renamed.Ino)
}

func TestRename_CrossDirectoryNotImplemented(t *testing.T) {
	fs := newFS(t, true)

	dirAttr, err := fs.Mkdir(inode.Root, "dst", 0o755, 0, 0)
	require.NoError(t, err)

	_, err = fs.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)

	err = fs.Rename(inode.Root, "f", inode.ID(dirAttr.Ino), "f")
	require.ErrorIs(t, err, fserr.ErrNotImplemented)
}

func TestSetattr_TruncateToZero(t *testing.T) {
	fs := newFS(t, true)

	attr, err := fs.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)
	iid := inode.ID(attr.Ino)

	require.NoError(t, fs.Write(iid, 0, []byte("hello")))

	zero := uint64(0)
	got, err := fs.Setattr(iid, filesystem.SetattrRequest{Size: &zero})
	require.NoError(t, err)
	require.EqualValues(t, 0, got.Size)

	data, err := fs.Read(iid, 0, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestSetattr_NonZeroTruncateNotImplemented(t *testing.T) {
	fs := newFS(t, true)

	attr, err := fs.Mknod(inode.Root, "f", 0o644, 0, 0)
	require.NoError(t, err)

	size := uint64(5)
	_, err = fs.Setattr(inode.ID(attr.Ino), filesystem.SetattrRequest{Size: &size})
	require.ErrorIs(t, err, fserr.ErrNotImplemented)
}

func TestCheckInvariants_HealthyFilesystem(t *testing.T) {
	fs := newFS(t, true)

	_, err := fs.Mkdir(inode.Root, "a", 0o755, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.CheckInvariants())
}
