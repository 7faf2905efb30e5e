// Package blob implements march's content-addressed intermediate
// representation: immutable byte strings keyed by the SHA-256 of their
// content, persisted in a SQLite store and decoded by the loader.
//
// A code blob is a stream of 16-bit little-endian tags. Bit 0 selects the
// form: 0 is a primitive reference whose upper 15 bits are the primitive
// id (id 0 is the inline-literal marker, followed by 8 payload bytes);
// 1 is a CID reference whose upper 15 bits are the target blob kind,
// followed by the 32-byte binary CID.
package blob

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CIDSize is the byte length of a content identifier.
const CIDSize = sha256.Size

// CID is a binary SHA-256 content identifier.
type CID [CIDSize]byte

// Sum computes the CID of a byte string.
func Sum(data []byte) CID { return CID(sha256.Sum256(data)) }

func (cid CID) String() string { return hex.EncodeToString(cid[:]) }

// Short returns the first 8 bytes as a cache hash key.
func (cid CID) Short() uint64 { return binary.LittleEndian.Uint64(cid[:8]) }

// ParseCID decodes a 64-char hex string.
func ParseCID(s string) (cid CID, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return cid, fmt.Errorf("bad cid %q: %w", s, err)
	}
	if len(b) != CIDSize {
		return cid, fmt.Errorf("bad cid %q: got %d bytes", s, len(b))
	}
	copy(cid[:], b)
	return cid, nil
}

// Kind classifies a stored blob.
type Kind uint16

const (
	Primitive Kind = 0 // fixed-id engine primitive; never stored or referenced by CID
	Word      Kind = 1 // user word; a reference links as a call
	Quotation Kind = 2 // deferred code; a reference links as a pushed address
	Data      Kind = 3 // literal payload; a reference links as an inlined value or address
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Word:
		return "word"
	case Quotation:
		return "quotation"
	case Data:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// PrimLit is the reserved primitive id marking an inline i64 literal.
const PrimLit = 0

const (
	tagRefBit  = 0x1
	maxTagVal  = 1<<15 - 1
	payloadLen = 8
)

// Buffer accumulates an encoded tag stream. Every appended tag links to
// exactly one runtime cell, so Tags doubles as the linked cell count; the
// compiler relies on that to compute branch offsets.
type Buffer struct {
	data []byte
	tags int
}

// AppendPrimitive encodes a primitive reference.
func (buf *Buffer) AppendPrimitive(id uint16) {
	buf.appendTag(uint16(id) << 1)
}

// AppendInline encodes the inline-literal marker and its 8-byte payload.
func (buf *Buffer) AppendInline(v int64) {
	buf.appendTag(PrimLit << 1)
	var payload [payloadLen]byte
	binary.LittleEndian.PutUint64(payload[:], uint64(v))
	buf.data = append(buf.data, payload[:]...)
}

// AppendRef encodes a CID reference to a blob of the given kind.
func (buf *Buffer) AppendRef(kind Kind, cid CID) {
	buf.appendTag(uint16(kind)<<1 | tagRefBit)
	buf.data = append(buf.data, cid[:]...)
}

func (buf *Buffer) appendTag(tag uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], tag)
	buf.data = append(buf.data, b[:]...)
	buf.tags++
}

// Splice appends another buffer's stream wholesale.
func (buf *Buffer) Splice(other *Buffer) {
	buf.data = append(buf.data, other.data...)
	buf.tags += other.tags
}

// Tags returns the number of tags appended, which equals the number of
// cells the stream links to.
func (buf *Buffer) Tags() int { return buf.tags }

// Len returns the encoded byte length.
func (buf *Buffer) Len() int { return len(buf.data) }

// Bytes returns the encoded stream.
func (buf *Buffer) Bytes() []byte { return buf.data[:len(buf.data):len(buf.data)] }

// Reset clears the buffer for reuse.
func (buf *Buffer) Reset() { buf.data, buf.tags = buf.data[:0], 0 }

// Item is one decoded tag-stream element.
type Item struct {
	// IsRef selects between the reference fields and the primitive fields.
	IsRef bool

	// Kind and CID are set for references.
	Kind Kind
	CID  CID

	// Prim is set for primitive tags; if Prim is PrimLit then Inline
	// holds the payload.
	Prim   uint16
	Inline int64
}

// Reader decodes a tag stream one item at a time.
type Reader struct {
	data []byte
	pos  int
}

// NewReader reads the given encoded stream.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// More reports whether another item remains.
func (r *Reader) More() bool { return r.pos < len(r.data) }

// Next decodes the next item; a truncated tag or payload is a hard error.
func (r *Reader) Next() (item Item, err error) {
	if r.pos+2 > len(r.data) {
		return item, TruncatedError{r.pos, "tag"}
	}
	tag := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2

	if tag&tagRefBit != 0 {
		item.IsRef = true
		item.Kind = Kind(tag >> 1)
		if r.pos+CIDSize > len(r.data) {
			return item, TruncatedError{r.pos, "cid"}
		}
		copy(item.CID[:], r.data[r.pos:])
		r.pos += CIDSize
		return item, nil
	}

	item.Prim = tag >> 1
	if item.Prim == PrimLit {
		if r.pos+payloadLen > len(r.data) {
			return item, TruncatedError{r.pos, "literal payload"}
		}
		item.Inline = int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
		r.pos += payloadLen
	}
	return item, nil
}

// TruncatedError is a tag stream that ends mid-element.
type TruncatedError struct {
	Off  int
	What string
}

func (err TruncatedError) Error() string {
	return fmt.Sprintf("truncated %s at offset %d", err.What, err.Off)
}
