// Package cells implements the 64-bit tagged cell that the march engine
// executes and the loader emits.
//
// The low bits of a packed cell carry its tag:
//
//	00  XT   aligned address of a primitive or linked word; 0 is EXIT
//	01  LIT  62-bit signed literal
//	010 LST  61-bit symbol id
//	110 LNT  61-bit count of raw cells that follow inline
//
// The remaining low-bit pattern (11) is reserved; decoding it is an error.
package cells

import "fmt"

// Payload limits. LIT is a 62-bit signed value, LST and LNT carry 61
// unsigned bits.
const (
	MaxLit = 1<<61 - 1
	MinLit = -(1 << 61)
	MaxID  = 1<<61 - 1
)

// Cell is one decoded instruction word. The concrete types are Xt, Lit,
// Lst and Lnt.
type Cell interface {
	// Encode packs the cell into the 64-bit representation the engine
	// dispatches on.
	Encode() uint64
}

// Xt is a call cell: the address of a primitive or linked word. Address 0
// is the EXIT sentinel. Addresses must be 4-aligned so the tag bits are
// free; the engine only ever hands out 8-aligned addresses.
type Xt uint64

// Lit is an inline signed literal.
type Lit int64

// Lst is a symbol id literal.
type Lst uint64

// Lnt announces a run of raw 64-bit values following inline.
type Lnt uint64

// Exit is the return sentinel, an Xt of address 0.
const Exit = Xt(0)

func (x Xt) Encode() uint64  { return uint64(x) &^ 0x3 }
func (l Lit) Encode() uint64 { return uint64(l)<<2 | 0x1 }
func (s Lst) Encode() uint64 { return uint64(s)<<3 | 0x2 }
func (n Lnt) Encode() uint64 { return uint64(n)<<3 | 0x6 }

func (x Xt) String() string  { return fmt.Sprintf("XT(%#x)", uint64(x)) }
func (l Lit) String() string { return fmt.Sprintf("LIT(%d)", int64(l)) }
func (s Lst) String() string { return fmt.Sprintf("LST(%d)", uint64(s)) }
func (n Lnt) String() string { return fmt.Sprintf("LNT(%d)", uint64(n)) }

// NewXt validates alignment; address 0 encodes EXIT.
func NewXt(addr uint64) (Xt, error) {
	if addr&0x3 != 0 {
		return 0, AlignError(addr)
	}
	return Xt(addr), nil
}

// NewLit validates the 62-bit signed range.
func NewLit(v int64) (Lit, error) {
	if v > MaxLit || v < MinLit {
		return 0, RangeError(v)
	}
	return Lit(v), nil
}

// Decode unpacks a 64-bit word into its cell variant. The reserved tag
// pattern (low bits 11) is a hard error.
func Decode(w uint64) (Cell, error) {
	switch w & 0x3 {
	case 0x0:
		return Xt(w), nil
	case 0x1:
		return Lit(int64(w) >> 2), nil
	case 0x2:
		if w&0x4 != 0 {
			return Lnt(w >> 3), nil
		}
		return Lst(w >> 3), nil
	}
	return nil, ReservedTagError(w)
}

// IsExit reports whether a packed word is the EXIT sentinel.
func IsExit(w uint64) bool { return w == 0 }

// AlignError is an XT address with nonzero low bits.
type AlignError uint64

func (addr AlignError) Error() string {
	return fmt.Sprintf("unaligned xt address %#x", uint64(addr))
}

// RangeError is a literal outside the 62-bit signed range.
type RangeError int64

func (v RangeError) Error() string {
	return fmt.Sprintf("literal %d out of 62-bit range", int64(v))
}

// ReservedTagError is a word carrying the reserved 11 tag pattern.
type ReservedTagError uint64

func (w ReservedTagError) Error() string {
	return fmt.Sprintf("reserved cell tag in %#x", uint64(w))
}

// Buffer is an append-only cell array, grown amortized; the loader builds
// each linked word in one before copying it into the engine arena.
type Buffer struct {
	cells []uint64
}

// Append adds one cell.
func (buf *Buffer) Append(c Cell) {
	buf.cells = append(buf.cells, c.Encode())
}

// AppendWord adds one already-packed word.
func (buf *Buffer) AppendWord(w uint64) {
	buf.cells = append(buf.cells, w)
}

// Len returns the cell count.
func (buf *Buffer) Len() int { return len(buf.cells) }

// Words returns the packed backing slice, sized exactly.
func (buf *Buffer) Words() []uint64 {
	return buf.cells[:len(buf.cells):len(buf.cells)]
}

// Clear resets the buffer for reuse.
func (buf *Buffer) Clear() { buf.cells = buf.cells[:0] }
