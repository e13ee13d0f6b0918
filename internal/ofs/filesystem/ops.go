package filesystem

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/inode"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
)

// DirEntry is one row of a readdir listing.
type DirEntry struct {
	Offset int64
	Inode  inode.ID
	Kind   object.EntryKind
	Name   string
}

// Lookup resolves name within parentIID.
func (fs *Filesystem) Lookup(parentIID inode.ID, name string) (Attr, error) {
	fs.log.Debug("op: lookup", zap.Stringer("parent", parentIID), zap.String("name", name))

	if err := fs.beginTx(); err != nil {
		return Attr{}, err
	}

	iid, entry, err := fs.find(parentIID, name)
	if err != nil {
		return Attr{}, err
	}

	if err := fs.commitTx(); err != nil {
		return Attr{}, err
	}

	return attr(iid, entry), nil
}

// Getattr returns iid's current attributes.
func (fs *Filesystem) Getattr(iid inode.ID) (Attr, error) {
	fs.log.Debug("op: getattr", zap.Stringer("iid", iid))

	oid, err := fs.inodes.ResolveObject(iid)
	if err != nil {
		return Attr{}, errors.Wrap(fserr.ErrNotFound, err.Error())
	}

	obj, err := fs.store.Get(oid)
	if err != nil {
		return Attr{}, err
	}
	entry, err := object.AsEntry(obj, oid)
	if err != nil {
		return Attr{}, err
	}

	return attr(iid, entry), nil
}

// SetattrRequest carries the optional fields a setattr call may update; a
// nil field leaves the corresponding attribute untouched.
type SetattrRequest struct {
	Mode *uint16
	UID  *uint32
	GID  *uint32
	Size *uint64
}

// Setattr updates iid's mode/uid/gid, or truncates it to zero length.
// Truncating to any non-zero size is not implemented, matching the
// original.
func (fs *Filesystem) Setattr(iid inode.ID, req SetattrRequest) (Attr, error) {
	fs.log.Debug("op: setattr", zap.Stringer("iid", iid))

	if !fs.origin.IsWritable() {
		return Attr{}, fserr.ErrReadOnly
	}

	if err := fs.beginTx(); err != nil {
		return Attr{}, err
	}

	newOID, err := fs.cloneInode(iid)
	if err != nil {
		return Attr{}, err
	}

	obj, err := fs.store.Get(newOID)
	if err != nil {
		return Attr{}, err
	}
	entry, err := object.AsEntry(obj, newOID)
	if err != nil {
		return Attr{}, err
	}

	if req.Mode != nil {
		entry.Mode = *req.Mode
	}
	if req.UID != nil {
		entry.UID = *req.UID
	}
	if req.GID != nil {
		entry.GID = *req.GID
	}

	if req.Size != nil {
		if *req.Size != 0 {
			return Attr{}, fserr.ErrNotImplemented
		}
		entry.Size = 0
		entry.Body = objectid.None()
	}

	if err := fs.store.Set(newOID, entry); err != nil {
		return Attr{}, err
	}

	if err := fs.commitTx(); err != nil {
		return Attr{}, err
	}

	return attr(iid, entry), nil
}

// Mknod creates a regular file named name inside parentIID.
func (fs *Filesystem) Mknod(parentIID inode.ID, name string, mode uint16, uid, gid uint32) (Attr, error) {
	fs.log.Debug("op: mknod", zap.Stringer("parent", parentIID), zap.String("name", name))
	return fs.mk(parentIID, name, mode, uid, gid, object.RegularFile)
}

// Mkdir creates a directory named name inside parentIID.
func (fs *Filesystem) Mkdir(parentIID inode.ID, name string, mode uint16, uid, gid uint32) (Attr, error) {
	fs.log.Debug("op: mkdir", zap.Stringer("parent", parentIID), zap.String("name", name))
	return fs.mk(parentIID, name, mode, uid, gid, object.Directory)
}

func (fs *Filesystem) mk(parentIID inode.ID, name string, mode uint16, uid, gid uint32, kind object.EntryKind) (Attr, error) {
	if !fs.origin.IsWritable() {
		return Attr{}, fserr.ErrReadOnly
	}

	if err := fs.beginTx(); err != nil {
		return Attr{}, err
	}

	nameOID, err := fs.store.AllocPayload(fs.tx, []byte(name))
	if err != nil {
		return Attr{}, err
	}
	nameID, ok := nameOID.Get()
	if !ok {
		return Attr{}, errors.New("filesystem: got an empty name")
	}

	newParentOID, err := fs.cloneInode(parentIID)
	if err != nil {
		return Attr{}, err
	}

	entry := object.Entry{
		Name: nameID,
		Body: objectid.None(),
		Next: objectid.None(),
		Kind: kind,
		Size: 0,
		Mode: mode,
		UID:  uid,
		GID:  gid,
	}

	newOID, err := fs.appendChild(newParentOID, entry)
	if err != nil {
		return Attr{}, err
	}

	if err := fs.commitTx(); err != nil {
		return Attr{}, err
	}

	newIID, err := fs.inodes.Alloc(parentIID, newOID)
	if err != nil {
		return Attr{}, err
	}

	return attr(newIID, entry), nil
}

// Unlink removes the file named name from parentIID.
func (fs *Filesystem) Unlink(parentIID inode.ID, name string) error {
	fs.log.Debug("op: unlink", zap.Stringer("parent", parentIID), zap.String("name", name))
	return fs.rm(parentIID, name)
}

// Rmdir removes the directory named name from parentIID. Like the
// original, it does not check for emptiness first: removing a non-empty
// directory discards its whole subtree.
func (fs *Filesystem) Rmdir(parentIID inode.ID, name string) error {
	fs.log.Debug("op: rmdir", zap.Stringer("parent", parentIID), zap.String("name", name))
	return fs.rm(parentIID, name)
}

func (fs *Filesystem) rm(parentIID inode.ID, name string) error {
	if !fs.origin.IsWritable() {
		return fserr.ErrReadOnly
	}

	if err := fs.beginTx(); err != nil {
		return err
	}

	iid, _, err := fs.find(parentIID, name)
	if err != nil {
		return err
	}

	if iid.IsRoot() {
		return fserr.ErrNotImplemented
	}

	if err := fs.deleteInode(iid); err != nil {
		return err
	}

	return fs.commitTx()
}

// Rename moves oldName within oldParentIID to newName within newParentIID.
// Only same-directory renames are implemented.
func (fs *Filesystem) Rename(oldParentIID inode.ID, oldName string, newParentIID inode.ID, newName string) error {
	fs.log.Debug("op: rename", zap.Stringer("old_parent", oldParentIID), zap.String("old_name", oldName),
		zap.Stringer("new_parent", newParentIID), zap.String("new_name", newName))

	if !fs.origin.IsWritable() {
		return fserr.ErrReadOnly
	}

	if err := fs.beginTx(); err != nil {
		return err
	}

	iid, _, err := fs.find(oldParentIID, oldName)
	if err != nil {
		return err
	}

	if oldParentIID != newParentIID {
		return fserr.ErrNotImplemented
	}

	if newName == oldName {
		return nil
	}

	newOID, err := fs.cloneInode(iid)
	if err != nil {
		return err
	}

	obj, err := fs.store.Get(newOID)
	if err != nil {
		return err
	}
	entry, err := object.AsEntry(obj, newOID)
	if err != nil {
		return err
	}

	nameOID, err := fs.store.AllocPayload(fs.tx, []byte(newName))
	if err != nil {
		return err
	}
	nameID, ok := nameOID.Get()
	if !ok {
		return errors.New("filesystem: got an empty name")
	}
	entry.Name = nameID

	if err := fs.store.Set(newOID, entry); err != nil {
		return err
	}

	return fs.commitTx()
}

// Read returns up to size bytes of iid's content starting at offset.
func (fs *Filesystem) Read(iid inode.ID, offset int64, size uint32) ([]byte, error) {
	fs.log.Debug("op: read", zap.Stringer("iid", iid))

	oid, err := fs.inodes.ResolveObject(iid)
	if err != nil {
		return nil, errors.Wrap(fserr.ErrNotFound, err.Error())
	}

	obj, err := fs.store.Get(oid)
	if err != nil {
		return nil, err
	}
	entry, err := object.AsEntry(obj, oid)
	if err != nil {
		return nil, err
	}

	body, ok := entry.Body.Get()
	if !ok {
		return nil, nil
	}

	data, err := fs.store.GetPayload(body)
	if err != nil {
		return nil, err
	}

	end := int(offset) + int(size)
	if end > len(data) {
		end = len(data)
	}
	if int(offset) > end {
		return nil, nil
	}

	return data[offset:end], nil
}

// Write overwrites iid's content starting at offset, extending it (with
// zero padding if needed) when the write runs past the current length.
func (fs *Filesystem) Write(iid inode.ID, offset int64, incoming []byte) error {
	fs.log.Debug("op: write", zap.Stringer("iid", iid))

	if !fs.origin.IsWritable() {
		return fserr.ErrReadOnly
	}

	if err := fs.beginTx(); err != nil {
		return err
	}

	newOID, err := fs.cloneInode(iid)
	if err != nil {
		return err
	}

	obj, err := fs.store.Get(newOID)
	if err != nil {
		return err
	}
	entry, err := object.AsEntry(obj, newOID)
	if err != nil {
		return err
	}

	var data []byte
	if body, ok := entry.Body.Get(); ok {
		data, err = fs.store.GetPayload(body)
		if err != nil {
			return err
		}
	}

	if int(offset)+len(incoming) > int(entry.Size) {
		entry.Size = uint32(offset) + uint32(len(incoming))
	}

	if int(entry.Size) > len(data) {
		grown := make([]byte, entry.Size)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], incoming)

	newBody, err := fs.store.AllocPayload(fs.tx, data)
	if err != nil {
		return err
	}
	entry.Body = newBody

	if err := fs.store.Set(newOID, entry); err != nil {
		return err
	}

	return fs.commitTx()
}

// Readdir lists iid's entries starting after offset, synthesizing "." and
// ".." the way a real directory would.
func (fs *Filesystem) Readdir(iid inode.ID, offset int64) ([]DirEntry, error) {
	fs.log.Debug("op: readdir", zap.Stringer("iid", iid))

	var nth int64
	var entries []DirEntry

	nth++
	if offset == 0 {
		entries = append(entries, DirEntry{Offset: nth, Inode: iid, Kind: object.Directory, Name: "."})
	} else {
		offset--
	}

	if parentIID, err := fs.inodes.ResolveParent(iid); err == nil {
		nth++
		if offset == 0 {
			entries = append(entries, DirEntry{Offset: nth, Inode: parentIID, Kind: object.Directory, Name: ".."})
		} else {
			offset--
		}
	}

	nth += offset

	children, err := fs.inodes.ResolveChildren(fs.store, iid)
	if err != nil {
		return nil, err
	}

	if offset < 0 {
		offset = 0
	}
	if int(offset) > len(children) {
		offset = int64(len(children))
	}
	children = children[offset:]

	for _, childIID := range children {
		oid, err := fs.inodes.ResolveObject(childIID)
		if err != nil {
			return nil, err
		}
		obj, err := fs.store.Get(oid)
		if err != nil {
			return nil, err
		}
		entry, err := object.AsEntry(obj, oid)
		if err != nil {
			return nil, err
		}
		name, err := fs.store.GetString(entry.Name)
		if err != nil {
			return nil, err
		}

		nth++
		entries = append(entries, DirEntry{Offset: nth, Inode: childIID, Kind: entry.Kind, Name: name})
	}

	return entries, nil
}
