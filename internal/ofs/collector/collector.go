// Package collector implements the mark-and-sweep garbage collector: it
// walks everything reachable from the header's root and clone list,
// diffs that against the known dead list, and turns whatever is left over
// into new dead-list entries (spec.md §4.9).
package collector

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ofslabs/ofs/internal/ofs/fserr"
	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

// Collector runs a single mark-and-sweep pass against a Store.
type Collector struct {
	store *store.Store
	log   *zap.Logger
}

// New wraps a Store.
func New(s *store.Store, log *zap.Logger) *Collector {
	return &Collector{store: s, log: log}
}

// Run performs one full collection pass, rewriting every unreachable,
// not-already-dead slot into a Dead record chained onto the free list.
func (c *Collector) Run() error {
	c.log.Debug("starting garbage collector")

	allObjects, err := c.store.Len()
	if err != nil {
		return err
	}

	header, err := c.store.GetHeader()
	if err != nil {
		return err
	}

	knownDead, err := c.findKnownDeadObjects(header)
	if err != nil {
		return err
	}

	alive, err := c.findAliveObjects(header)
	if err != nil {
		return err
	}

	if err := c.collectObjects(header, allObjects, knownDead, alive); err != nil {
		return err
	}

	c.log.Debug("garbage collection completed")
	return nil
}

func (c *Collector) findKnownDeadObjects(header object.Header) (map[objectid.ID]struct{}, error) {
	result := make(map[objectid.ID]struct{})
	cursor := header.Dead

	for {
		oid, ok := cursor.Get()
		if !ok {
			break
		}
		result[oid] = struct{}{}

		obj, err := c.store.Get(oid)
		if err != nil {
			return nil, err
		}
		dead, err := object.AsDead(obj, oid)
		if err != nil {
			return nil, err
		}
		cursor = dead.Next
	}

	c.log.Debug("found known-dead objects", zap.Int("count", len(result)))
	return result, nil
}

func (c *Collector) findAliveObjects(header object.Header) (map[objectid.ID]struct{}, error) {
	result := make(map[objectid.ID]struct{})

	pending := []objectid.ID{header.Root}
	if cloneHead, ok := header.Clone.Get(); ok {
		pending = append(pending, cloneHead)
	}

	for len(pending) > 0 {
		oid := pending[0]
		pending = pending[1:]

		result[oid] = struct{}{}

		obj, err := c.store.Get(oid)
		if err != nil {
			return nil, err
		}

		switch o := obj.(type) {
		case object.Empty:
			return nil, errors.Wrapf(fserr.ErrCorrupt, "filesystem seems damaged: %v is reachable, but it's empty", oid)

		case object.Dead:
			return nil, errors.Wrapf(fserr.ErrCorrupt, "filesystem seems damaged: %v is reachable, but it's dead", oid)

		case object.Header:
			return nil, errors.Wrapf(fserr.ErrCorrupt, "filesystem seems damaged: found second header object (at %v)", oid)

		case object.Clone:
			pending = append(pending, o.Name, o.Root)
			if next, ok := o.Next.Get(); ok {
				pending = append(pending, next)
			}

		case object.Entry:
			pending = append(pending, o.Name)
			if body, ok := o.Body.Get(); ok {
				pending = append(pending, body)
			}
			if next, ok := o.Next.Get(); ok {
				pending = append(pending, next)
			}

		case object.Payload:
			if next, ok := o.Next.Get(); ok {
				pending = append(pending, next)
			}

		default:
			return nil, errors.Wrapf(fserr.ErrCorrupt, "filesystem seems damaged: unexpected object type at %v", oid)
		}
	}

	c.log.Debug("found alive objects", zap.Int("count", len(result)))
	return result, nil
}

func (c *Collector) collectObjects(
	header object.Header,
	allObjects uint32,
	knownDead map[objectid.ID]struct{},
	alive map[objectid.ID]struct{},
) error {
	var collectible []objectid.ID

	for i := uint32(1); i < allObjects; i++ {
		oid := objectid.New(i)
		if _, dead := knownDead[oid]; dead {
			continue
		}
		if _, live := alive[oid]; live {
			continue
		}
		collectible = append(collectible, oid)
	}

	sort.Slice(collectible, func(i, j int) bool { return collectible[i] < collectible[j] })

	c.log.Debug("got objects to collect", zap.Int("count", len(collectible)))

	if len(collectible) == 0 {
		return nil
	}

	head := header.Dead

	for _, oid := range collectible {
		if err := c.store.Set(oid, object.Dead{Next: head}); err != nil {
			return err
		}
		head = objectid.Some(oid)
	}

	header.Dead = head
	return c.store.SetHeader(header)
}
