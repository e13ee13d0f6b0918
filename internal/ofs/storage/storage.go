// Package storage implements fixed 32-byte slot I/O against the backing
// *.ofs container file (spec.md §4.1).
package storage

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/object"
)

// Storage performs positional, 32-byte-granularity I/O against a single
// backing file. It assumes no caching: every Read/Write/Append round-trips
// to the file.
type Storage struct {
	file    *os.File
	canGrow bool
	log     *zap.Logger
}

// Create opens path exclusively, failing if it already exists, and returns
// a growable Storage.
func Create(path string, log *zap.Logger) (*Storage, error) {
	log.Info("creating store", zap.String("path", path))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't create: %s", path)
	}

	return &Storage{file: f, canGrow: true, log: log}, nil
}

// Open opens an existing container file. canGrow controls whether Append
// is permitted; a false value models the `--no-grow` mount option of
// spec.md §6, under which the allocator must exclusively recycle the dead
// list.
func Open(path string, canGrow bool, log *zap.Logger) (*Storage, error) {
	log.Info("opening store", zap.String("path", path))

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open: %s", path)
	}

	return &Storage{file: f, canGrow: canGrow, log: log}, nil
}

// Len returns the number of Size-byte slots currently in the file.
func (s *Storage) Len() (uint32, error) {
	bytes, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "seek() failed")
	}
	return uint32(bytes) / object.Size, nil
}

func (s *Storage) seek(oid uint32) error {
	_, err := s.file.Seek(int64(oid)*object.Size, io.SeekStart)
	if err != nil {
		return errors.Wrapf(err, "seek() failed: oid=%d", oid)
	}
	return nil
}

// Read returns the raw bytes of slot oid.
func (s *Storage) Read(oid uint32) ([object.Size]byte, error) {
	var buf [object.Size]byte

	if err := s.seek(oid); err != nil {
		return buf, err
	}

	if _, err := io.ReadFull(s.file, buf[:]); err != nil {
		return buf, errors.Wrapf(err, "read() failed: oid=%d", oid)
	}

	return buf, nil
}

// Write overwrites slot oid in place.
func (s *Storage) Write(oid uint32, buf [object.Size]byte) error {
	if err := s.seek(oid); err != nil {
		return err
	}

	if _, err := s.file.Write(buf[:]); err != nil {
		return errors.Wrapf(err, "write() failed: oid=%d", oid)
	}

	return nil
}

// Append writes buf past the current end of the file and returns the slot
// index it landed at. It fails with fserr.ErrOutOfSpace if the store was
// opened non-growable.
func (s *Storage) Append(buf [object.Size]byte) (uint32, error) {
	if !s.canGrow {
		return 0, errors.Wrapf(fserr.ErrOutOfSpace,
			"cannot create a new object: storage was opened in non-growable mode")
	}

	pos, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "append(): seek() failed")
	}

	if _, err := s.file.Write(buf[:]); err != nil {
		return 0, errors.Wrap(err, "append(): write() failed")
	}

	return uint32(pos) / object.Size, nil
}

// Close releases the underlying file handle.
func (s *Storage) Close() error {
	return s.file.Close()
}
