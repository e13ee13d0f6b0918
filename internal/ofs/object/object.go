// Package object implements the six fixed-size, 32-byte on-disk object
// variants and their big-endian codec (spec.md §3, §4.2, §6).
package object

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
)

// Size is the fixed width, in bytes, of every object slot.
const Size = 32

// PayloadLen is the number of content bytes a single Payload record can
// carry; longer byte strings are chained across multiple Payload objects.
const PayloadLen = 26

// Tag values as they appear in the first byte of an encoded slot.
const (
	TagEmpty   uint8 = 0
	TagHeader  uint8 = 1
	TagClone   uint8 = 2
	TagEntry   uint8 = 3
	tagFile    uint8 = 4 // reserved, never encoded; decoding it is Corrupt
	TagPayload uint8 = 5
	TagDead    uint8 = 6
)

// EntryKind distinguishes a directory Entry from a regular-file Entry.
type EntryKind uint8

const (
	Directory EntryKind = 0
	RegularFile EntryKind = 1
)

func (k EntryKind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Object is implemented by every on-disk variant. It is a closed sum type:
// callers switch on the dynamic type (or use the As* helpers below) rather
// than adding new implementations.
type Object interface {
	object()
}

// Empty marks an unused slot.
type Empty struct{}

// Header lives at oid 0 and anchors the whole filesystem.
type Header struct {
	// Root points at the Entry holding the root directory.
	Root objectid.ID
	// Dead points at the head of the free list, if any.
	Dead objectid.Opt
	// Clone points at the head of the clone list, if any.
	Clone objectid.Opt
}

// Clone is a named alternate root, chained through the header.
type Clone struct {
	// Name points at the Payload chain holding the clone's name.
	Name objectid.ID
	// Root points at the Entry holding the clone's root directory.
	Root        objectid.ID
	IsWritable  bool
	// Next points at the sibling Clone in the header's clone list.
	Next objectid.Opt
}

// Entry describes a file or directory.
type Entry struct {
	// Name points at the Payload chain holding the entry's name.
	Name objectid.ID
	// Body points at the head of the entry's children (directories) or
	// content (regular files).
	Body objectid.Opt
	// Next points at the sibling Entry within the same directory.
	Next objectid.Opt
	Kind EntryKind
	Size uint32
	Mode uint16
	UID  uint32
	GID  uint32
}

// Payload is one link in a chain carrying up to PayloadLen bytes.
type Payload struct {
	Size uint8
	Next objectid.Opt
	Data [PayloadLen]byte
}

// Dead is a recyclable slot, linked into the free list.
type Dead struct {
	Next objectid.Opt
}

func (Empty) object()   {}
func (Header) object()  {}
func (Clone) object()   {}
func (Entry) object()   {}
func (Payload) object() {}
func (Dead) object()    {}

// NewPayload builds a Payload holding data, which must fit within
// PayloadLen.
func NewPayload(data []byte) Payload {
	if len(data) > PayloadLen {
		panic(fmt.Sprintf("object: payload chunk too long: %d bytes", len(data)))
	}

	var p Payload
	p.Size = uint8(len(data))
	copy(p.Data[:], data)
	return p
}

// Encode serializes obj into its fixed-size slot representation.
func Encode(obj Object) [Size]byte {
	var w writer

	switch o := obj.(type) {
	case Empty:
		// all-zero slot

	case Header:
		w.u8(TagHeader)
		w.oid(o.Root)
		w.oidOpt(o.Dead)
		w.oidOpt(o.Clone)

	case Clone:
		w.u8(TagClone)
		w.oid(o.Name)
		w.oid(o.Root)
		w.boolean(o.IsWritable)
		w.oidOpt(o.Next)

	case Entry:
		w.u8(TagEntry)
		w.oid(o.Name)
		w.oidOpt(o.Body)
		w.oidOpt(o.Next)
		w.kind(o.Kind)
		w.u32(o.Size)
		w.u16(o.Mode)
		w.u32(o.UID)
		w.u32(o.GID)

	case Payload:
		w.u8(TagPayload)
		w.u8(o.Size)
		w.oidOpt(o.Next)
		w.rest(o.Data[:])

	case Dead:
		w.u8(TagDead)
		w.oidOpt(o.Next)

	default:
		panic(fmt.Sprintf("object: unhandled variant %T", obj))
	}

	return w.finish()
}

// Decode parses a fixed-size slot, failing with fserr.ErrCorrupt if the tag
// is unrecognized (including the reserved-but-unused tag 4).
func Decode(buf [Size]byte) (Object, error) {
	r := newReader(buf)

	switch tag := r.u8(); tag {
	case TagEmpty:
		return Empty{}, nil

	case TagHeader:
		return Header{
			Root:  r.oid(),
			Dead:  r.oidOpt(),
			Clone: r.oidOpt(),
		}, nil

	case TagClone:
		return Clone{
			Name:       r.oid(),
			Root:       r.oid(),
			IsWritable: r.boolean(),
			Next:       r.oidOpt(),
		}, nil

	case TagEntry:
		return Entry{
			Name: r.oid(),
			Body: r.oidOpt(),
			Next: r.oidOpt(),
			Kind: r.kind(),
			Size: r.u32(),
			Mode: r.u16(),
			UID:  r.u32(),
			GID:  r.u32(),
		}, nil

	case TagPayload:
		size := r.u8()
		next := r.oidOpt()
		var data [PayloadLen]byte
		copy(data[:], r.rest())
		return Payload{Size: size, Next: next, Data: data}, nil

	case TagDead:
		return Dead{Next: r.oidOpt()}, nil

	default:
		return nil, errors.Wrapf(fserr.ErrCorrupt, "unknown object tag: %d", tag)
	}
}

// AsHeader asserts obj decoded from oid is a Header.
func AsHeader(obj Object, oid objectid.ID) (Header, error) {
	if h, ok := obj.(Header); ok {
		return h, nil
	}
	return Header{}, errors.Wrapf(fserr.ErrCorrupt, "expected header object at %v", oid)
}

// AsClone asserts obj decoded from oid is a Clone.
func AsClone(obj Object, oid objectid.ID) (Clone, error) {
	if c, ok := obj.(Clone); ok {
		return c, nil
	}
	return Clone{}, errors.Wrapf(fserr.ErrCorrupt, "expected clone object at %v", oid)
}

// AsEntry asserts obj decoded from oid is an Entry.
func AsEntry(obj Object, oid objectid.ID) (Entry, error) {
	if e, ok := obj.(Entry); ok {
		return e, nil
	}
	return Entry{}, errors.Wrapf(fserr.ErrCorrupt, "expected entry object at %v", oid)
}

// AsPayload asserts obj decoded from oid is a Payload.
func AsPayload(obj Object, oid objectid.ID) (Payload, error) {
	if p, ok := obj.(Payload); ok {
		return p, nil
	}
	return Payload{}, errors.Wrapf(fserr.ErrCorrupt, "expected payload object at %v", oid)
}

// AsDead asserts obj decoded from oid is a Dead record.
func AsDead(obj Object, oid objectid.ID) (Dead, error) {
	if d, ok := obj.(Dead); ok {
		return d, nil
	}
	return Dead{}, errors.Wrapf(fserr.ErrCorrupt, "expected dead object at %v", oid)
}
