// Package clone implements the clone controller: named alternate roots
// chained off the header, each sharing objects with the main tree until a
// write diverges them (spec.md §4.8).
package clone

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

// Clone describes one named alternate root.
type Clone struct {
	OID        objectid.ID
	Name       string
	Root       objectid.ID
	IsWritable bool
}

// Controller creates, deletes, finds and lists clones. Every allocation it
// makes passes a nil transaction: clone list edits commit immediately via
// SetHeader, outside of the alter engine's single-header-write transaction
// protocol.
type Controller struct {
	store *store.Store
}

// New wraps a Store.
func New(s *store.Store) *Controller {
	return &Controller{store: s}
}

// Create adds a new clone named name, rooted at the main tree's current
// root. Fails if a clone by that name already exists, or if name is empty
// after trimming.
func (c *Controller) Create(name string, isWritable bool) error {
	name = strings.TrimSpace(name)

	existing, err := c.All()
	if err != nil {
		return err
	}
	for _, cl := range existing {
		if cl.Name == name {
			return errors.Wrapf(fserr.ErrCorrupt, "clone named %q already exists", name)
		}
	}

	header, err := c.store.GetHeader()
	if err != nil {
		return err
	}

	nameOID, err := c.store.AllocPayload(nil, []byte(name))
	if err != nil {
		return err
	}
	nameID, ok := nameOID.Get()
	if !ok {
		return errors.New("clone: name cannot be empty")
	}

	cloneOID, err := c.store.Alloc(nil, object.Clone{
		Name:       nameID,
		Root:       header.Root,
		IsWritable: isWritable,
		Next:       header.Clone,
	})
	if err != nil {
		return err
	}

	header.Clone = objectid.Some(cloneOID)
	return c.store.SetHeader(header)
}

// Delete removes the clone named name from the clone list. Every surviving
// clone is rewritten to a fresh object (its old slot, and the deleted
// clone's slot, are left for the collector to reclaim).
func (c *Controller) Delete(name string) error {
	header, err := c.store.GetHeader()
	if err != nil {
		return err
	}

	target, err := c.Find(name)
	if err != nil {
		return err
	}

	type survivor struct {
		obj    object.Clone
		newOID objectid.ID
	}

	var survivors []survivor
	cursor := header.Clone

	for {
		oid, ok := cursor.Get()
		if !ok {
			break
		}

		obj, err := c.store.Get(oid)
		if err != nil {
			return err
		}
		cl, err := object.AsClone(obj, oid)
		if err != nil {
			return err
		}

		if oid != target.OID {
			newOID, err := c.store.Alloc(nil, cl)
			if err != nil {
				return err
			}
			survivors = append(survivors, survivor{obj: cl, newOID: newOID})
		}

		cursor = cl.Next
	}

	for i := range survivors {
		if i+1 < len(survivors) {
			survivors[i].obj.Next = objectid.Some(survivors[i+1].newOID)
		} else {
			survivors[i].obj.Next = objectid.None()
		}

		if err := c.store.Set(survivors[i].newOID, survivors[i].obj); err != nil {
			return err
		}
	}

	if len(survivors) > 0 {
		header.Clone = objectid.Some(survivors[0].newOID)
	} else {
		header.Clone = objectid.None()
	}

	return c.store.SetHeader(header)
}

// Find returns the clone named name, trimmed of surrounding whitespace.
func (c *Controller) Find(name string) (Clone, error) {
	name = strings.TrimSpace(name)

	all, err := c.All()
	if err != nil {
		return Clone{}, err
	}
	for _, cl := range all {
		if cl.Name == name {
			return cl, nil
		}
	}

	return Clone{}, errors.Errorf("no clone named %q found", name)
}

// All returns every clone in creation order (oldest first): the header's
// list is newest-first, so the walk order is reversed before returning.
func (c *Controller) All() ([]Clone, error) {
	header, err := c.store.GetHeader()
	if err != nil {
		return nil, err
	}

	var clones []Clone
	cursor := header.Clone

	for {
		oid, ok := cursor.Get()
		if !ok {
			break
		}

		obj, err := c.store.Get(oid)
		if err != nil {
			return nil, err
		}
		cl, err := object.AsClone(obj, oid)
		if err != nil {
			return nil, err
		}

		name, err := c.store.GetString(cl.Name)
		if err != nil {
			return nil, err
		}

		clones = append(clones, Clone{
			OID:        oid,
			Name:       name,
			Root:       cl.Root,
			IsWritable: cl.IsWritable,
		})

		cursor = cl.Next
	}

	for i, j := 0, len(clones)-1; i < j; i, j = i+1, j-1 {
		clones[i], clones[j] = clones[j], clones[i]
	}

	return clones, nil
}
