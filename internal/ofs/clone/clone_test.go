package clone_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ofsclone "github.com/ofslabs/ofs/internal/ofs/clone"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

func newContainer(t *testing.T) *store.Store {
	t.Helper()
	log := zap.NewNop()
	s, err := storage.Create(filepath.Join(t.TempDir(), "test.ofs"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	st := store.New(s, log)

	rootOID, err := st.Alloc(nil, object.Entry{Kind: object.Directory})
	require.NoError(t, err)
	require.NoError(t, st.SetHeader(object.Header{Root: rootOID}))

	return st
}

func TestCreate_ThenFind(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	require.NoError(t, c.Create("snap1", true))

	got, err := c.Find("snap1")
	require.NoError(t, err)
	require.Equal(t, "snap1", got.Name)
	require.True(t, got.IsWritable)

	header, err := st.GetHeader()
	require.NoError(t, err)
	require.Equal(t, header.Root, got.Root)
}

func TestCreate_TrimsWhitespaceAndRejectsDuplicateNames(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	require.NoError(t, c.Create("  snap1  ", false))

	found, err := c.Find("snap1")
	require.NoError(t, err)
	require.Equal(t, "snap1", found.Name)

	err = c.Create("snap1", true)
	require.Error(t, err)
}

func TestAll_OldestFirst(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	require.NoError(t, c.Create("first", true))
	require.NoError(t, c.Create("second", true))
	require.NoError(t, c.Create("third", true))

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"first", "second", "third"}, []string{all[0].Name, all[1].Name, all[2].Name})
}

func TestDelete_RemovesOneAndPreservesOthers(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	require.NoError(t, c.Create("first", true))
	require.NoError(t, c.Create("second", true))
	require.NoError(t, c.Create("third", true))

	require.NoError(t, c.Delete("second"))

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []string{"first", "third"}, []string{all[0].Name, all[1].Name})

	_, err = c.Find("second")
	require.Error(t, err)
}

func TestDelete_LastRemainingClone(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	require.NoError(t, c.Create("only", true))
	require.NoError(t, c.Delete("only"))

	all, err := c.All()
	require.NoError(t, err)
	require.Empty(t, all)

	header, err := st.GetHeader()
	require.NoError(t, err)
	require.False(t, header.Clone.IsSome())
}

func TestFind_NotFound(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)

	_, err := c.Find("nope")
	require.Error(t, err)
}

func TestClone_OID_CanResolveViaStore(t *testing.T) {
	st := newContainer(t)
	c := ofsclone.New(st)
	require.NoError(t, c.Create("snap", true))

	cl, err := c.Find("snap")
	require.NoError(t, err)

	obj, err := st.Get(cl.OID)
	require.NoError(t, err)
	decoded, err := object.AsClone(obj, cl.OID)
	require.NoError(t, err)
	require.Equal(t, cl.Root, decoded.Root)
}
