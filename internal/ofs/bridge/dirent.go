package bridge

import (
	"unsafe"

	"github.com/ofslabs/ofs/internal/ofs/object"
)

// dirent is the bridge's own stand-in for a kernel directory entry,
// carrying exactly what filesystem.DirEntry needs translated into the
// fuse_dirent wire layout.
type dirent struct {
	ino    uint64
	offset uint64
	name   string
	kind   object.EntryKind
}

func directType(k object.EntryKind) uint32 {
	const (
		dtDir = 4
		dtReg = 8
	)
	if k == object.Directory {
		return dtDir
	}
	return dtReg
}

// appendDirent writes d into *buf in the fuse_dirent layout (cf.
// http://goo.gl/BmFxob), 8-byte aligned per FUSE_DIRENT_ALIGN, returning
// the number of bytes written or zero if it would not fit within limit.
func appendDirent(buf *[]byte, limit int, d dirent) int {
	type fuseDirent struct {
		ino     uint64
		off     uint64
		namelen uint32
		typ     uint32
	}

	const direntAlignment = 8
	const direntSize = int(unsafe.Sizeof(fuseDirent{}))

	padLen := 0
	if len(d.name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(d.name) % direntAlignment)
	}

	total := direntSize + len(d.name) + padLen
	if total > limit {
		return 0
	}

	header := fuseDirent{
		ino:     d.ino,
		off:     d.offset,
		namelen: uint32(len(d.name)),
		typ:     directType(d.kind),
	}

	entry := make([]byte, total)
	*(*fuseDirent)(unsafe.Pointer(&entry[0])) = header
	copy(entry[direntSize:], d.name)

	*buf = append(*buf, entry...)
	return total
}
