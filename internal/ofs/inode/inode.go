// Package inode implements the in-memory inode table mapping kernel-visible
// inode numbers to the current object id of each entry (spec.md §3, §4.4).
package inode

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
)

// ID is the kernel-visible inode number. 1 is Root.
type ID uint64

// Root is the inode id of the filesystem's root directory. It exists for
// as long as the filesystem is mounted (spec.md §3 invariant 8).
const Root ID = 1

// IsRoot reports whether id is the root inode.
func (id ID) IsRoot() bool { return id == Root }

func (id ID) String() string { return fmt.Sprintf("iid(%d)", uint64(id)) }

// Objects is the slice of the object store the table needs to lazily
// resolve a directory's children.
type Objects interface {
	Get(objectid.ID) (object.Object, error)
}

// record is one live inode: its current object id, its parent inode, and
// its (possibly not-yet-resolved) children.
type record struct {
	oid      objectid.ID
	parent   ID
	children []ID  // meaningful only once resolved is set; a resolved empty directory may hold nil
	resolved bool
}

// Table is the in-memory inode table (spec.md §4.4's "Inodes"). It is not
// safe for concurrent use; callers serialize access the way
// internal/ofs/bridge does with the invariant-checked mutex it holds
// around filesystem.Filesystem.
type Table struct {
	nodes    map[ID]*record
	nextIID  ID
	log      *zap.Logger
}

// New constructs a table with only the root inode, mapped to rootOID.
func New(rootOID objectid.ID, log *zap.Logger) *Table {
	nodes := make(map[ID]*record)
	nodes[Root] = &record{oid: rootOID, parent: Root}

	return &Table{nodes: nodes, nextIID: 2, log: log}
}

// Alloc returns the existing child InodeId of parentIID whose current oid
// is already oid (preserving kernel-visible identity across a CoW
// rewrite), or allocates and inserts a fresh one.
func (t *Table) Alloc(parentIID ID, oid objectid.ID) (ID, error) {
	parent, ok := t.nodes[parentIID]
	if !ok {
		return 0, errors.Errorf("%v is dead", parentIID)
	}

	if parent.resolved {
		for _, iid := range parent.children {
			if t.nodes[iid].oid == oid {
				return iid, nil
			}
		}
	}

	iid := t.nextIID
	t.nextIID++

	t.nodes[iid] = &record{oid: oid, parent: parentIID}
	parent.children = append(parent.children, iid)
	parent.resolved = true

	t.log.Debug("allocated inode", zap.Stringer("iid", iid))

	return iid, nil
}

// Remap updates the object id of a live inode. It is a no-op if iid is
// already dead (the original rewrite may have raced a concurrent free of
// the same subtree within one alter pass).
func (t *Table) Remap(iid ID, oid objectid.ID) {
	t.log.Debug("remapping inode", zap.Stringer("iid", iid))

	if rec, ok := t.nodes[iid]; ok {
		rec.oid = oid
	}
}

// Free removes iid, detaches it from its parent's children, and
// recursively frees every descendant.
func (t *Table) Free(iid ID) {
	t.log.Debug("freeing inode", zap.Stringer("iid", iid))

	rec, ok := t.nodes[iid]
	if !ok {
		return
	}
	delete(t.nodes, iid)

	if parent, ok := t.nodes[rec.parent]; ok && parent.resolved {
		for i, child := range parent.children {
			if child == iid {
				parent.children[i] = parent.children[len(parent.children)-1]
				parent.children = parent.children[:len(parent.children)-1]
				break
			}
		}
	}

	for _, child := range rec.children {
		t.Free(child)
	}
}

// MarkAsEmpty forces iid's children to be resolved-and-empty, used when a
// directory is truncated away from under an already-materialized inode.
func (t *Table) MarkAsEmpty(iid ID) {
	if rec, ok := t.nodes[iid]; ok {
		rec.children = nil
		rec.resolved = true
	}
}

// ResolveObject returns the current object id of iid.
func (t *Table) ResolveObject(iid ID) (objectid.ID, error) {
	rec, ok := t.nodes[iid]
	if !ok {
		return 0, errors.Errorf("%v is dead", iid)
	}
	return rec.oid, nil
}

// ResolveParent returns the parent inode id of iid.
func (t *Table) ResolveParent(iid ID) (ID, error) {
	rec, ok := t.nodes[iid]
	if !ok {
		return 0, errors.Errorf("%v is dead", iid)
	}
	return rec.parent, nil
}

// CheckCoherence asserts spec.md §3 invariant 7: every live inode's parent
// exists, and (once resolved) that parent's children actually contain it —
// except ROOT, whose parent is itself.
func (t *Table) CheckCoherence() error {
	for iid, rec := range t.nodes {
		if iid == Root {
			if rec.parent != Root {
				return errors.Errorf("root inode has non-root parent %v", rec.parent)
			}
			continue
		}

		parent, ok := t.nodes[rec.parent]
		if !ok {
			return errors.Errorf("%v's parent %v does not exist", iid, rec.parent)
		}

		if !parent.resolved {
			continue
		}

		found := false
		for _, child := range parent.children {
			if child == iid {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("%v's parent %v does not list it as a child", iid, rec.parent)
		}
	}

	return nil
}

// ResolveChildren materializes (on first call) iid's children by walking
// its Entry's body/next chain, then returns a copy in directory-link-list
// order. Later calls return the cached result, so mounting a large clone
// never walks more of the tree than is actually visited.
func (t *Table) ResolveChildren(objects Objects, iid ID) ([]ID, error) {
	rec, ok := t.nodes[iid]
	if !ok {
		return nil, errors.Errorf("%v is dead", iid)
	}

	if !rec.resolved {
		obj, err := objects.Get(rec.oid)
		if err != nil {
			return nil, err
		}

		entry, err := object.AsEntry(obj, rec.oid)
		if err != nil {
			return nil, err
		}

		cursor, ok := entry.Body.Get()

		for ok {
			if _, err := t.Alloc(iid, cursor); err != nil {
				return nil, err
			}

			childObj, err := objects.Get(cursor)
			if err != nil {
				return nil, err
			}

			childEntry, err := object.AsEntry(childObj, cursor)
			if err != nil {
				return nil, err
			}

			cursor, ok = childEntry.Next.Get()
		}

		// Alloc() marks rec resolved as soon as it sees the first child; an
		// empty directory never enters the loop above, so mark it resolved
		// (and empty) here instead.
		rec.resolved = true
	}

	out := make([]ID, len(rec.children))
	copy(out, rec.children)
	return out, nil
}
