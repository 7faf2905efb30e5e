package main

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jcorbin/march/internal/blob"
	"github.com/jcorbin/march/internal/cells"
)

// Loader materializes stored blobs into live cell arrays inside the
// engine arena, linking CID references to runtime addresses. Linked
// blobs memoize by CID, so a shared dependency links once. A blob's
// cache entry is recorded only after its own references have linked.
type Loader struct {
	store *blob.Store
	eng   *Engine

	// keyed by the first 8 bytes of the CID; chains compare full CIDs
	cache map[uint64][]linkedBlob
	segs  []uint64
}

type linkedBlob struct {
	cid  blob.CID
	addr uint64
}

// NewLoader returns a loader linking into the given engine.
func NewLoader(store *blob.Store, eng *Engine) *Loader {
	return &Loader{
		store: store,
		eng:   eng,
		cache: make(map[uint64][]linkedBlob),
	}
}

func (ld *Loader) cached(cid blob.CID) (uint64, bool) {
	for _, lb := range ld.cache[cid.Short()] {
		if bytes.Equal(lb.cid[:], cid[:]) {
			return lb.addr, true
		}
	}
	return 0, false
}

func (ld *Loader) remember(cid blob.CID, addr uint64) {
	key := cid.Short()
	ld.cache[key] = append(ld.cache[key], linkedBlob{cid, addr})
	ld.segs = append(ld.segs, addr)
}

// LinkCID resolves a CID to the runtime address of its linked form,
// loading and linking it on first use.
func (ld *Loader) LinkCID(cid blob.CID) (uint64, error) {
	if addr, ok := ld.cached(cid); ok {
		return addr, nil
	}

	kind, _, data, err := ld.store.LoadBlob(cid)
	if err != nil {
		return 0, linkError{"load " + cid.String(), err}
	}

	var addr uint64
	switch kind {
	case blob.Word, blob.Quotation:
		addr, err = ld.linkCode(data)
		if err != nil {
			return 0, err
		}
	case blob.Data:
		addr = ld.eng.Reserve(uint64(len(data)))
		ld.eng.WriteBytes(addr, data)
	case blob.Primitive:
		return 0, linkError{"primitive blobs are referenced by id, not cid", nil}
	default:
		return 0, linkError{"unrecognized blob kind " + kind.String(), nil}
	}

	ld.remember(cid, addr)
	return addr, nil
}

// linkCode scans a tag stream into a cell array: primitive tags become
// fixed-table XT cells (or LIT cells for the reserved inline-literal
// id), CID tags recursively link and encode by target kind. The array
// is terminated with EXIT and copied into the arena.
func (ld *Loader) linkCode(data []byte) (uint64, error) {
	var buf cells.Buffer
	r := blob.NewReader(data)
	for r.More() {
		item, err := r.Next()
		if err != nil {
			return 0, linkError{"malformed tag stream", err}
		}
		if !item.IsRef {
			if item.Prim == blob.PrimLit {
				lit, err := cells.NewLit(item.Inline)
				if err != nil {
					return 0, linkError{"inline literal", err}
				}
				buf.Append(lit)
				continue
			}
			if item.Prim >= primCount || ld.eng.prims[item.Prim] == nil {
				return 0, linkError{"unknown primitive id", primIDError(item.Prim)}
			}
			buf.Append(cells.Xt(primAddr(item.Prim)))
			continue
		}

		storedKind, err := ld.store.GetBlobKind(item.CID)
		if err != nil {
			return 0, linkError{"resolve " + item.CID.String(), err}
		}
		if storedKind != item.Kind {
			return 0, linkError{"kind mismatch", kindMismatchError{item.Kind, storedKind}}
		}

		switch item.Kind {
		case blob.Word:
			addr, err := ld.LinkCID(item.CID)
			if err != nil {
				return 0, err
			}
			buf.Append(cells.Xt(addr))
		case blob.Quotation:
			addr, err := ld.LinkCID(item.CID)
			if err != nil {
				return 0, err
			}
			buf.Append(cells.Lit(addr))
		case blob.Data:
			cell, err := ld.linkData(item.CID)
			if err != nil {
				return 0, err
			}
			buf.Append(cell)
		default:
			return 0, linkError{"unlinkable reference kind " + item.Kind.String(), nil}
		}
	}
	buf.Append(cells.Exit)

	addr := ld.eng.Reserve(8 * uint64(buf.Len()))
	ld.eng.WriteCells(addr, buf.Words())
	return addr, nil
}

// linkData encodes a DATA reference: an 8-byte blob inlines as a literal
// value; anything longer (strings) links as an address push.
func (ld *Loader) linkData(cid blob.CID) (cells.Cell, error) {
	_, _, data, err := ld.store.LoadBlob(cid)
	if err != nil {
		return nil, linkError{"load " + cid.String(), err}
	}
	if len(data) == 8 {
		lit, err := cells.NewLit(int64(binary.LittleEndian.Uint64(data)))
		if err != nil {
			return nil, linkError{"data literal", err}
		}
		return lit, nil
	}
	addr, err := ld.LinkCID(cid)
	if err != nil {
		return nil, err
	}
	return cells.Lit(addr), nil
}

// Release frees every arena segment this loader allocated.
func (ld *Loader) Release() {
	for i := len(ld.segs) - 1; i >= 0; i-- {
		ld.eng.Release(ld.segs[i])
	}
	ld.segs = nil
	ld.cache = make(map[uint64][]linkedBlob)
}

type primIDError uint16

func (id primIDError) Error() string {
	return fmt.Sprintf("primitive id %d is not registered", uint16(id))
}

type kindMismatchError struct {
	tagged blob.Kind
	stored blob.Kind
}

func (err kindMismatchError) Error() string {
	return fmt.Sprintf("tag says %v, store says %v", err.tagged, err.stored)
}
