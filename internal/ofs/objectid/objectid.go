// Package objectid defines the 32-bit identifier used to address a slot in
// the container file.
package objectid

import "fmt"

// ID addresses a single 32-byte slot in the backing file. Slot zero is
// reserved for the Header object and can never be a child pointer.
type ID uint32

// Header is the reserved id of the singleton Header object.
const Header ID = 0

// Nil is the encoding of "no object" used by optional child pointers.
const Nil ID = 0

// New wraps a raw slot index.
func New(oid uint32) ID {
	return ID(oid)
}

// Get returns the raw slot index.
func (id ID) Get() uint32 {
	return uint32(id)
}

// IsNil reports whether id encodes the absence of a pointer.
func (id ID) IsNil() bool {
	return id == Nil
}

func (id ID) String() string {
	return fmt.Sprintf("oid(%d)", uint32(id))
}

// Opt is an optional ID, encoded on disk as the raw ID with zero meaning
// None — callers should prefer the (ID, bool) accessors below over poking
// at the zero value directly, since zero is also a legitimate (if never
// reachable) raw value.
type Opt struct {
	id ID
	ok bool
}

// None constructs an absent optional id.
func None() Opt {
	return Opt{}
}

// Some wraps a present id.
func Some(id ID) Opt {
	return Opt{id: id, ok: true}
}

// Get returns the id and whether it was present.
func (o Opt) Get() (ID, bool) {
	return o.id, o.ok
}

// OrZero returns the wrapped id, or the zero ID if absent.
func (o Opt) OrZero() ID {
	return o.id
}

// IsSome reports whether the optional holds a value.
func (o Opt) IsSome() bool {
	return o.ok
}
