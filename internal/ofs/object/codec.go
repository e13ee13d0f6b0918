package object

import "github.com/ofslabs/ofs/internal/ofs/objectid"

// writer packs fields into a fixed Size-byte slot in declared field order,
// big-endian, starting after the tag byte. Unwritten trailing bytes stay
// zero, which is how padding is encoded.
type writer struct {
	data [Size]byte
	len  int
}

func (w *writer) u8(v uint8) {
	w.data[w.len] = v
	w.len++
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) u16(v uint16) {
	w.u8(uint8(v >> 8))
	w.u8(uint8(v))
}

func (w *writer) u32(v uint32) {
	w.u8(uint8(v >> 24))
	w.u8(uint8(v >> 16))
	w.u8(uint8(v >> 8))
	w.u8(uint8(v))
}

func (w *writer) oid(id objectid.ID) {
	w.u32(id.Get())
}

// oidOpt encodes an optional id as 0 for None, matching spec.md §3's "Nil
// child pointer is encoded as the all-zero 32-bit word".
func (w *writer) oidOpt(opt objectid.Opt) {
	id, ok := opt.Get()
	if !ok {
		w.u32(0)
		return
	}
	w.u32(id.Get())
}

func (w *writer) kind(k EntryKind) {
	if k == Directory {
		w.u8(0)
	} else {
		w.u8(1)
	}
}

func (w *writer) rest(data []byte) {
	for _, b := range data {
		w.u8(b)
	}
}

func (w *writer) finish() [Size]byte {
	return w.data
}

// reader unpacks fields from a fixed Size-byte slot in the same order
// writer packs them.
type reader struct {
	data [Size]byte
	len  int
}

func newReader(data [Size]byte) *reader {
	return &reader{data: data}
}

func (r *reader) u8() uint8 {
	v := r.data[r.len]
	r.len++
	return v
}

func (r *reader) boolean() bool {
	return r.u8() == 1
}

func (r *reader) u16() uint16 {
	d0 := r.u8()
	d1 := r.u8()
	return uint16(d0)<<8 | uint16(d1)
}

func (r *reader) u32() uint32 {
	d0 := r.u8()
	d1 := r.u8()
	d2 := r.u8()
	d3 := r.u8()
	return uint32(d0)<<24 | uint32(d1)<<16 | uint32(d2)<<8 | uint32(d3)
}

func (r *reader) oid() objectid.ID {
	return objectid.New(r.u32())
}

func (r *reader) oidOpt() objectid.Opt {
	id := r.u32()
	if id == 0 {
		return objectid.None()
	}
	return objectid.Some(objectid.New(id))
}

func (r *reader) kind() EntryKind {
	if r.u8() == 0 {
		return Directory
	}
	return RegularFile
}

// rest returns every byte from the current cursor to the end of the slot.
func (r *reader) rest() []byte {
	return r.data[r.len:]
}
