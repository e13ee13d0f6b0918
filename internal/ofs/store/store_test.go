package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

// fakeTxn is the minimal store.Txn implementation tests need to exercise
// dead-list reuse without pulling in package txn.
type fakeTxn struct {
	deadHead objectid.Opt
	dirty    bool
}

func (f *fakeTxn) DeadHead() objectid.Opt         { return f.deadHead }
func (f *fakeTxn) SetDeadHead(o objectid.Opt)     { f.deadHead = o }
func (f *fakeTxn) MarkDirty()                     { f.dirty = true }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	log := zap.NewNop()
	s, err := storage.Create(filepath.Join(t.TempDir(), "test.ofs"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	st := store.New(s, log)
	// Slot 0 belongs to the header, which Get refuses; reserve it so Alloc
	// starts handing out oids from 1.
	require.NoError(t, st.SetHeader(object.Header{}))
	return st
}

func TestAlloc_AppendsWhenNoTxn(t *testing.T) {
	st := newStore(t)

	oid1, err := st.Alloc(nil, object.Dead{})
	require.NoError(t, err)
	oid2, err := st.Alloc(nil, object.Dead{})
	require.NoError(t, err)

	require.NotEqual(t, oid1, oid2)
}

func TestAlloc_ReusesDeadSlot(t *testing.T) {
	st := newStore(t)

	dead, err := st.Alloc(nil, object.Dead{Next: objectid.None()})
	require.NoError(t, err)

	tx := &fakeTxn{deadHead: objectid.Some(dead)}

	reused, err := st.Alloc(tx, object.Header{Root: objectid.New(5)})
	require.NoError(t, err)
	require.Equal(t, dead, reused)
	require.True(t, tx.dirty)
	require.False(t, tx.deadHead.IsSome())

	got, err := st.Get(reused)
	require.NoError(t, err)
	require.Equal(t, object.Header{Root: objectid.New(5)}, got)
}

func TestAlloc_FallsBackToAppendOnCorruptDeadSlot(t *testing.T) {
	st := newStore(t)

	// Allocate a non-Dead object and then lie about it being the dead head.
	notDead, err := st.Alloc(nil, object.Header{Root: objectid.New(1)})
	require.NoError(t, err)

	tx := &fakeTxn{deadHead: objectid.Some(notDead)}

	before, err := st.Len()
	require.NoError(t, err)

	oid, err := st.Alloc(tx, object.Dead{})
	require.NoError(t, err)

	after, err := st.Len()
	require.NoError(t, err)

	require.Greater(t, after, before)
	require.NotEqual(t, notDead, oid)
}

func TestHeaderRoundTrip(t *testing.T) {
	st := newStore(t)

	h := object.Header{Root: objectid.New(3), Dead: objectid.None(), Clone: objectid.None()}
	require.NoError(t, st.SetHeader(h))

	got, err := st.GetHeader()
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestGet_RejectsHeaderSlot(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.SetHeader(object.Header{}))

	_, err := st.Get(objectid.Header)
	require.Error(t, err)
}

func TestPayloadChain_RoundTrip(t *testing.T) {
	st := newStore(t)

	data := []byte("this byte string is longer than a single payload chunk can hold")

	head, err := st.AllocPayload(nil, data)
	require.NoError(t, err)
	require.True(t, head.IsSome())

	oid, _ := head.Get()
	got, err := st.GetPayload(oid)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPayloadChain_Empty(t *testing.T) {
	st := newStore(t)

	head, err := st.AllocPayload(nil, nil)
	require.NoError(t, err)
	require.False(t, head.IsSome())
}

func TestGetString_RepairsInvalidUTF8(t *testing.T) {
	st := newStore(t)

	head, err := st.AllocPayload(nil, []byte{0xff, 0xfe, 'a'})
	require.NoError(t, err)
	oid, _ := head.Get()

	s, err := st.GetString(oid)
	require.NoError(t, err)
	require.Contains(t, s, "a")
}

func TestAll_DecodesEverySlotInOrder(t *testing.T) {
	st := newStore(t)

	require.NoError(t, st.SetHeader(object.Header{Root: objectid.New(1)}))
	_, err := st.Alloc(nil, object.Entry{Name: objectid.New(2), Kind: object.Directory})
	require.NoError(t, err)

	all, err := st.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.EqualValues(t, 0, all[0].OID.Get())
	require.EqualValues(t, 1, all[1].OID.Get())
}
