// Package store implements typed access to the object store: header
// read/write, get/set, payload chain assembly, and allocation with
// dead-list reuse (spec.md §4.3).
package store

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/storage"
)

// Txn is the narrow slice of the transaction that the allocator needs:
// read/advance the pending dead-list head and mark the transaction dirty.
// Defined here (rather than importing package txn) to avoid a dependency
// cycle, since txn needs Store to read the initial header.
type Txn interface {
	DeadHead() objectid.Opt
	SetDeadHead(objectid.Opt)
	MarkDirty()
}

// Store provides typed, object-shaped access on top of a Storage.
type Store struct {
	storage *storage.Storage
	log     *zap.Logger
}

// New wraps a Storage.
func New(s *storage.Storage, log *zap.Logger) *Store {
	return &Store{storage: s, log: log}
}

// All decodes every slot in the file, in ascending oid order. Used by the
// `inspect` command and by tests.
func (s *Store) All() ([]struct {
	OID objectid.ID
	Obj object.Object
}, error) {
	n, err := s.storage.Len()
	if err != nil {
		return nil, err
	}

	out := make([]struct {
		OID objectid.ID
		Obj object.Object
	}, 0, n)

	for i := uint32(0); i < n; i++ {
		buf, err := s.storage.Read(i)
		if err != nil {
			return nil, err
		}

		obj, err := object.Decode(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't decode oid(%d)", i)
		}

		out = append(out, struct {
			OID objectid.ID
			Obj object.Object
		}{objectid.New(i), obj})
	}

	return out, nil
}

// Len returns the number of slots in the backing file.
func (s *Store) Len() (uint32, error) {
	return s.storage.Len()
}

// Get reads and decodes the object at oid. oid must not be the header slot.
func (s *Store) Get(oid objectid.ID) (object.Object, error) {
	s.log.Debug("reading object", zap.Stringer("oid", oid))

	if oid == objectid.Header {
		return nil, errors.New("store: tried to Get() the header object")
	}

	buf, err := s.storage.Read(oid.Get())
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't read object %v", oid)
	}

	obj, err := object.Decode(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't decode %v", oid)
	}

	return obj, nil
}

// GetHeader reads and decodes the singleton header object.
func (s *Store) GetHeader() (object.Header, error) {
	buf, err := s.storage.Read(objectid.Header.Get())
	if err != nil {
		return object.Header{}, errors.Wrap(err, "couldn't read header")
	}

	obj, err := object.Decode(buf)
	if err != nil {
		return object.Header{}, errors.Wrap(err, "couldn't decode header")
	}

	return object.AsHeader(obj, objectid.Header)
}

// GetPayload follows a Payload chain starting at oid and concatenates
// data[0:size] from each link.
func (s *Store) GetPayload(oid objectid.ID) ([]byte, error) {
	var buf []byte
	cursor := oid

	for {
		obj, err := s.Get(cursor)
		if err != nil {
			return nil, err
		}

		p, err := object.AsPayload(obj, cursor)
		if err != nil {
			return nil, err
		}

		buf = append(buf, p.Data[0:p.Size]...)

		next, ok := p.Next.Get()
		if !ok {
			break
		}
		cursor = next
	}

	return buf, nil
}

// GetString returns a UTF-8-lossy view of the payload chain at oid,
// repairing rather than rejecting any invalid byte runs (matching the
// original's String::from_utf8_lossy).
func (s *Store) GetString(oid objectid.ID) (string, error) {
	buf, err := s.GetPayload(oid)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(buf), "�"), nil
}

// GetOSString is GetString under another name: Go has no distinct "OS
// string" type the way Rust does, so both accessors of spec.md §4.3 map to
// the same UTF-8 string here.
func (s *Store) GetOSString(oid objectid.ID) (string, error) {
	return s.GetString(oid)
}

// Set writes obj into slot oid. oid must not be the header slot.
func (s *Store) Set(oid objectid.ID, obj object.Object) error {
	s.log.Debug("writing object", zap.Stringer("oid", oid))

	if oid == objectid.Header {
		return errors.New("store: tried to Set() the header object")
	}

	if err := s.storage.Write(oid.Get(), object.Encode(obj)); err != nil {
		return errors.Wrapf(err, "couldn't write %v", oid)
	}

	return nil
}

// SetHeader overwrites the singleton header object.
func (s *Store) SetHeader(h object.Header) error {
	if err := s.storage.Write(objectid.Header.Get(), object.Encode(h)); err != nil {
		return errors.Wrap(err, "couldn't write header")
	}
	return nil
}

// Alloc allocates a new object, reusing a dead-list slot from tx if one is
// queued there, or appending a fresh slot otherwise (spec.md §4.3). tx may
// be nil, in which case allocation always appends (used by callers that
// mutate outside of a transaction, e.g. the clone controller).
func (s *Store) Alloc(tx Txn, obj object.Object) (objectid.ID, error) {
	if tx != nil {
		if oid, ok := tx.DeadHead().Get(); ok {
			deadObj, err := s.Get(oid)
			if err != nil {
				return 0, err
			}

			if dead, ok := deadObj.(object.Dead); ok {
				s.log.Debug("reusing dead slot", zap.Stringer("oid", oid))

				if err := s.storage.Write(oid.Get(), object.Encode(obj)); err != nil {
					return 0, errors.Wrapf(err, "couldn't write %v", oid)
				}

				tx.MarkDirty()
				tx.SetDeadHead(dead.Next)

				return oid, nil
			}

			s.log.Warn("can't reuse dead slot, GC required", zap.Stringer("oid", oid))
		}
	}

	oid, err := s.storage.Append(object.Encode(obj))
	if err != nil {
		return 0, err
	}

	return objectid.New(oid), nil
}

// AllocPayload splits payload into PayloadLen-byte chunks, allocating them
// from the end toward the start so that each chunk's `next` pointer is
// already known when it is written (no back-patching). Returns the id of
// the first chunk, or none for an empty payload.
func (s *Store) AllocPayload(tx Txn, payload []byte) (objectid.Opt, error) {
	var next objectid.Opt

	for _, chunk := range chunksFromEnd(payload, object.PayloadLen) {
		p := object.NewPayload(chunk)
		p.Next = next

		curr, err := s.Alloc(tx, p)
		if err != nil {
			return objectid.Opt{}, err
		}

		next = objectid.Some(curr)
	}

	return next, nil
}

// chunksFromEnd splits data into up-to-size-byte chunks and returns them in
// reverse (last chunk first), mirroring `payload.chunks(N).rev()`.
func chunksFromEnd(data []byte, size int) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}

	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}

	return chunks
}

