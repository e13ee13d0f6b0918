// Package filesystem implements the kernel-agnostic filesystem operations
// (spec.md §5): lookup, getattr/setattr, mknod/mkdir, unlink/rmdir, rename,
// read/write and readdir, all built on top of the store, inode table,
// transaction and alter engine.
package filesystem

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/alter"
	"github.com/ofslabs/ofs/internal/ofs/collector"
	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/inode"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/store"
	"github.com/ofslabs/ofs/internal/ofs/txn"
)

// gcInterval is the number of dirty commits between automatic collector
// runs, matching the original's fixed threshold.
const gcInterval = 250

// Origin names which root a Filesystem serves: the main tree, or a named
// clone. It also carries the writability the mount was opened with.
type Origin struct {
	isClone    bool
	cloneOID   objectid.ID
	isWritable bool
}

// MainOrigin targets the container's main tree.
func MainOrigin(isWritable bool) Origin {
	return Origin{isWritable: isWritable}
}

// CloneOrigin targets the root of the clone stored at oid.
func CloneOrigin(oid objectid.ID, isWritable bool) Origin {
	return Origin{isClone: true, cloneOID: oid, isWritable: isWritable}
}

func (o Origin) rootOID(s *store.Store) (objectid.ID, error) {
	if !o.isClone {
		h, err := s.GetHeader()
		if err != nil {
			return 0, err
		}
		return h.Root, nil
	}

	obj, err := s.Get(o.cloneOID)
	if err != nil {
		return 0, err
	}
	c, err := object.AsClone(obj, o.cloneOID)
	if err != nil {
		return 0, err
	}
	return c.Root, nil
}

func (o Origin) txnOrigin() txn.Origin {
	if o.isClone {
		return txn.CloneOrigin(o.cloneOID)
	}
	return txn.MainOrigin()
}

func (o Origin) IsWritable() bool { return o.isWritable }

// Attr is a kernel-agnostic stand-in for a FUSE attribute struct; the
// bridge layer translates it into the library's own type. The filesystem
// tracks no real timestamps, mirroring the original's fixed UNIX_EPOCH
// attributes.
type Attr struct {
	Ino       uint64
	Kind      object.EntryKind
	Size      uint64
	Mode      uint16
	UID, GID  uint32
	Nlink     uint32
	BlockSize uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
}

func attr(iid inode.ID, e object.Entry) Attr {
	epoch := time.Unix(0, 0)

	return Attr{
		Ino:       uint64(iid),
		Kind:      e.Kind,
		Size:      uint64(e.Size),
		Mode:      e.Mode,
		UID:       e.UID,
		GID:       e.GID,
		Nlink:     1,
		BlockSize: 512,
		Atime:     epoch,
		Mtime:     epoch,
		Ctime:     epoch,
		Crtime:    epoch,
	}
}

// Filesystem holds every piece of runtime state for one mounted tree: the
// object store, the in-memory inode table, the origin it serves, and the
// single open transaction shared by every mutating operation.
//
// It is not safe for concurrent use. The bridge layer serializes calls
// into it with its own lock.
type Filesystem struct {
	store  *store.Store
	inodes *inode.Table
	origin Origin
	tx     *txn.Transaction
	log    *zap.Logger

	txSinceLastGC uint32
}

// New constructs a Filesystem over s, running a garbage-collection pass
// first so that a freshly opened container never carries stale dead-list
// debt across a restart.
func New(s *store.Store, origin Origin, log *zap.Logger) (*Filesystem, error) {
	if err := collector.New(s, log).Run(); err != nil {
		return nil, errors.Wrap(err, "garbage collection failed")
	}

	rootOID, err := origin.rootOID(s)
	if err != nil {
		return nil, err
	}

	return &Filesystem{
		store:  s,
		inodes: inode.New(rootOID, log),
		origin: origin,
		tx:     txn.New(log),
		log:    log,
	}, nil
}

// CheckInvariants asserts spec.md §3 invariants 1, 7 and 8: the header's
// root decodes to a Directory Entry, the inode table's parent/child links
// are coherent, and ROOT is still present. It is meant to be wired into an
// invariant-checked mutex guarding the filesystem, so a violation surfaces
// as a panic as close as possible to the operation that caused it.
func (fs *Filesystem) CheckInvariants() error {
	header, err := fs.store.GetHeader()
	if err != nil {
		return errors.Wrap(err, "invariant 1: reading header")
	}

	rootObj, err := fs.store.Get(header.Root)
	if err != nil {
		return errors.Wrap(err, "invariant 1: reading header root")
	}
	rootEntry, err := object.AsEntry(rootObj, header.Root)
	if err != nil {
		return errors.Wrap(err, "invariant 1: header root is not an Entry")
	}
	if rootEntry.Kind != object.Directory {
		return errors.New("invariant 1: header root is not a Directory")
	}

	if err := fs.inodes.CheckCoherence(); err != nil {
		return errors.Wrap(err, "invariant 7")
	}

	if _, err := fs.inodes.ResolveObject(inode.Root); err != nil {
		return errors.Wrap(err, "invariant 8: ROOT is missing")
	}

	return nil
}

func (fs *Filesystem) beginTx() error {
	return fs.tx.Begin(fs.store)
}

func (fs *Filesystem) commitTx() error {
	gotChanges, err := fs.tx.Commit(fs.store, fs.inodes, fs.origin.txnOrigin())
	if err != nil {
		return err
	}

	if gotChanges {
		fs.txSinceLastGC++
	}

	if fs.txSinceLastGC >= gcInterval {
		if err := collector.New(fs.store, fs.log).Run(); err != nil {
			return errors.Wrap(err, "garbage collection failed")
		}
		fs.txSinceLastGC = 0
	}

	return nil
}

// appendChild allocates child and links it as the new tail of parentOID's
// children (or as its sole child, if it had none). parentOID must already
// be a freshly cloned object within the current transaction.
func (fs *Filesystem) appendChild(parentOID objectid.ID, child object.Entry) (objectid.ID, error) {
	parent, err := fs.store.Get(parentOID)
	if err != nil {
		return 0, err
	}
	parentEntry, err := object.AsEntry(parent, parentOID)
	if err != nil {
		return 0, err
	}

	childOID, err := fs.store.Alloc(fs.tx, child)
	if err != nil {
		return 0, err
	}

	if head, ok := parentEntry.Body.Get(); ok {
		oid := head
		for {
			obj, err := fs.store.Get(oid)
			if err != nil {
				return 0, err
			}
			entry, err := object.AsEntry(obj, oid)
			if err != nil {
				return 0, err
			}

			if next, ok := entry.Next.Get(); ok {
				oid = next
				continue
			}

			entry.Next = objectid.Some(childOID)
			if err := fs.store.Set(oid, entry); err != nil {
				return 0, err
			}
			break
		}
	} else {
		parentEntry.Body = objectid.Some(childOID)
		if err := fs.store.Set(parentOID, parentEntry); err != nil {
			return 0, err
		}
	}

	return childOID, nil
}

// find looks up the child of parentIID named name.
func (fs *Filesystem) find(parentIID inode.ID, name string) (inode.ID, object.Entry, error) {
	children, err := fs.inodes.ResolveChildren(fs.store, parentIID)
	if err != nil {
		return 0, object.Entry{}, errors.Wrap(fserr.ErrNotFound, err.Error())
	}

	for _, iid := range children {
		oid, err := fs.inodes.ResolveObject(iid)
		if err != nil {
			return 0, object.Entry{}, err
		}
		obj, err := fs.store.Get(oid)
		if err != nil {
			return 0, object.Entry{}, err
		}
		entry, err := object.AsEntry(obj, oid)
		if err != nil {
			return 0, object.Entry{}, err
		}

		childName, err := fs.store.GetString(entry.Name)
		if err != nil {
			return 0, object.Entry{}, err
		}

		if childName == name {
			return iid, entry, nil
		}
	}

	return 0, object.Entry{}, errors.Wrapf(fserr.ErrNotFound, "no entry named %q", name)
}

// cloneInode resolves iid to an object and clones it, and every ancestor up
// to the root, yielding iid's new object id. May be called at most once per
// transaction.
func (fs *Filesystem) cloneInode(iid inode.ID) (objectid.ID, error) {
	return alter.New(fs.store, fs.inodes, fs.tx, fs.log).CloneInode(iid)
}

// deleteInode resolves iid to an object and clones its siblings and
// ancestors without it, removing it from the tree. May be called at most
// once per transaction.
func (fs *Filesystem) deleteInode(iid inode.ID) error {
	return alter.New(fs.store, fs.inodes, fs.tx, fs.log).DeleteInode(iid)
}
