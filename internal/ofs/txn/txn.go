// Package txn implements the transaction that stages header, root, and
// inode changes and applies them atomically at commit (spec.md §4.5).
package txn

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/inode"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
)

// Store is the slice of the object store a transaction needs.
type Store interface {
	GetHeader() (object.Header, error)
	SetHeader(object.Header) error
	Get(objectid.ID) (object.Object, error)
	Set(objectid.ID, object.Object) error
}

// Origin names which root a transaction's commit should update: the main
// tree's header, or a specific Clone's root field.
type Origin struct {
	isClone bool
	cloneID objectid.ID
}

// MainOrigin targets the header's root.
func MainOrigin() Origin { return Origin{} }

// CloneOrigin targets the root field of the Clone object at oid.
func CloneOrigin(oid objectid.ID) Origin { return Origin{isClone: true, cloneID: oid} }

type pendingRemap struct {
	iid inode.ID
	oid objectid.ID
}

// state holds the in-progress transaction; only one can be open at a time.
type state struct {
	header  object.Header
	dirty   bool
	newRoot objectid.Opt

	remaps []pendingRemap
	frees  []inode.ID
}

// Transaction is the single mutable-state holder spec.md §9 calls for
// ("the single open transaction ... owned by the top-level Filesystem
// value"). The zero value is a closed transaction.
type Transaction struct {
	state *state
	log   *zap.Logger
}

// New constructs a closed Transaction.
func New(log *zap.Logger) *Transaction {
	return &Transaction{log: log}
}

// Begin snapshots the current header into a fresh transaction. Opening a
// new transaction over a dirty, uncommitted one logs a warning the way the
// original's begin() does for a dropped transaction.
func (t *Transaction) Begin(store Store) error {
	if t.state != nil && t.state.dirty {
		t.log.Warn("previous transaction got aborted")
	}

	header, err := store.GetHeader()
	if err != nil {
		return err
	}

	t.state = &state{header: header}
	return nil
}

func (t *Transaction) mustState() (*state, error) {
	if t.state == nil {
		return nil, errors.New("txn: tried to modify a closed transaction")
	}
	return t.state, nil
}

// SetRoot queues a new root object id, to be applied to the header (main
// origin) or the active Clone (clone origin) at commit. At most one call
// per transaction is meaningful; later calls simply overwrite the pending
// value, matching the single-alter-per-transaction contract of spec.md
// §4.6.
func (t *Transaction) SetRoot(oid objectid.ID) error {
	s, err := t.mustState()
	if err != nil {
		return err
	}

	s.newRoot = objectid.Some(oid)
	s.dirty = true
	return nil
}

// RemapInode queues an inode remap, applied after commit writes the header.
func (t *Transaction) RemapInode(iid inode.ID, oid objectid.ID) error {
	s, err := t.mustState()
	if err != nil {
		return err
	}

	s.remaps = append(s.remaps, pendingRemap{iid, oid})
	s.dirty = true
	return nil
}

// FreeInode queues an inode free, applied after all remaps.
func (t *Transaction) FreeInode(iid inode.ID) error {
	s, err := t.mustState()
	if err != nil {
		return err
	}

	s.frees = append(s.frees, iid)
	s.dirty = true
	return nil
}

// DeadHead, SetDeadHead and MarkDirty implement store.Txn, letting the
// allocator read and advance the transaction's view of the dead list
// without the store package depending on this one.
func (t *Transaction) DeadHead() objectid.Opt {
	if t.state == nil {
		return objectid.Opt{}
	}
	return t.state.header.Dead
}

func (t *Transaction) SetDeadHead(oid objectid.Opt) {
	if t.state == nil {
		return
	}
	t.state.header.Dead = oid
	t.state.dirty = true
}

func (t *Transaction) MarkDirty() {
	if t.state != nil {
		t.state.dirty = true
	}
}

// Inodes is the slice of the inode table a commit needs to apply queued
// remaps/frees.
type Inodes interface {
	Remap(inode.ID, objectid.ID)
	Free(inode.ID)
}

// Commit applies the staged header/root/inode changes atomically: a single
// write of the header (step 2 of spec.md §4.5) is what flips the
// filesystem over. It reports whether there were any changes to apply; if
// not dirty, the transaction is discarded with no I/O.
func (t *Transaction) Commit(store Store, inodes Inodes, origin Origin) (bool, error) {
	s, err := t.mustState()
	if err != nil {
		return false, err
	}
	t.state = nil

	if !s.dirty {
		return false, nil
	}

	newHeader := s.header

	if !origin.isClone {
		if root, ok := s.newRoot.Get(); ok {
			newHeader.Root = root
		}
	}

	if err := store.SetHeader(newHeader); err != nil {
		return false, err
	}

	if origin.isClone {
		if root, ok := s.newRoot.Get(); ok {
			obj, err := store.Get(origin.cloneID)
			if err != nil {
				return false, err
			}

			clone, err := object.AsClone(obj, origin.cloneID)
			if err != nil {
				return false, err
			}

			clone.Root = root

			if err := store.Set(origin.cloneID, clone); err != nil {
				return false, err
			}
		}
	}

	for _, r := range s.remaps {
		inodes.Remap(r.iid, r.oid)
	}

	for _, iid := range s.frees {
		inodes.Free(iid)
	}

	return true, nil
}
