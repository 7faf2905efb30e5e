package main

import "fmt"

// Frozen primitive ids. These never change: an engine rebuild must not
// invalidate previously compiled blobs. Id 0 is the inline-literal
// marker and has no dictionary entry.
const (
	primLit      = 0
	primAdd      = 1
	primSub      = 2
	primMul      = 3
	primDiv      = 4
	primMod      = 5
	primDup      = 6
	primDrop     = 7
	primSwap     = 8
	primOver     = 9
	primRot      = 10
	primEq       = 11
	primNe       = 12
	primLt       = 13
	primGt       = 14
	primLe       = 15
	primGe       = 16
	primAnd      = 17
	primOr       = 18
	primXor      = 19
	primInvert   = 20
	primLshift   = 21
	primRshift   = 22
	primArshift  = 23
	primLand     = 24
	primLor      = 25
	primLnot     = 26
	primZeroEq   = 27
	primZeroGt   = 28
	primZeroLt   = 29
	primFetch    = 30
	primStore    = 31
	primCFetch   = 32
	primCStore   = 33
	primToR      = 34
	primFromR    = 35
	primRFetch   = 36
	primRDrop    = 37
	primTwoToR   = 38
	primTwoFromR = 39
	primBranch   = 40
	primZBranch  = 41
	primExecute  = 42
	primI0       = 43
	primFree     = 44
	primAlloc    = 45
	primIdentity = 46
	primMemcpy   = 47
	primArrayLen = 48
	primStrLen   = 49
	primMut      = 50
	primArrayAt  = 51
	primArraySet = 52
	primArrayFil = 53
	primArrayRev = 54
	primArrayCat = 55
)

// Heap object header layout shared by strings and arrays.
const (
	hdrCount    = 0  // u64 element count
	hdrElemSize = 8  // u8 bytes per element
	hdrElemType = 16 // u64 element type tag
	hdrSize     = 32 // elements follow
)

// Forth truth values.
const (
	forthTrue  = -1
	forthFalse = 0
)

func forthBool(b bool) int64 {
	if b {
		return forthTrue
	}
	return forthFalse
}

type primDef struct {
	id      uint16
	name    string
	aliases []string
	sigs    []string // one dictionary overload per signature
	fn      func(e *Engine)
}

var primDefs = []primDef{
	{id: primAdd, name: "+", sigs: []string{"i64 i64 -> i64"}, fn: opAdd},
	{id: primSub, name: "-", sigs: []string{"i64 i64 -> i64"}, fn: opSub},
	{id: primMul, name: "*", sigs: []string{"i64 i64 -> i64"}, fn: opMul},
	{id: primDiv, name: "/", sigs: []string{"i64 i64 -> i64"}, fn: opDiv},
	{id: primMod, name: "%", aliases: []string{"mod"}, sigs: []string{"i64 i64 -> i64"}, fn: opMod},

	// stack ops dispatch here at runtime; their dictionary entries are
	// immediate handlers that track slot sharing (see immediate.go)
	{id: primDup, name: "dup", fn: opDup},
	{id: primDrop, name: "drop", fn: opDrop},
	{id: primSwap, name: "swap", fn: opSwap},
	{id: primOver, name: "over", fn: opOver},
	{id: primRot, name: "rot", fn: opRot},

	{id: primEq, name: "=", sigs: []string{"i64 i64 -> bool"}, fn: opEq},
	{id: primNe, name: "<>", aliases: []string{"!=", "≠"}, sigs: []string{"i64 i64 -> bool"}, fn: opNe},
	{id: primLt, name: "<", sigs: []string{"i64 i64 -> bool"}, fn: opLt},
	{id: primGt, name: ">", sigs: []string{"i64 i64 -> bool"}, fn: opGt},
	{id: primLe, name: "<=", aliases: []string{"≤"}, sigs: []string{"i64 i64 -> bool"}, fn: opLe},
	{id: primGe, name: ">=", aliases: []string{"≥"}, sigs: []string{"i64 i64 -> bool"}, fn: opGe},

	{id: primAnd, name: "&", sigs: []string{"i64 i64 -> i64"}, fn: opAnd},
	{id: primOr, name: "|", sigs: []string{"i64 i64 -> i64"}, fn: opOr},
	{id: primXor, name: "^", sigs: []string{"i64 i64 -> i64"}, fn: opXor},
	{id: primInvert, name: "~", sigs: []string{"i64 -> i64"}, fn: opInvert},
	{id: primLshift, name: "<<", sigs: []string{"i64 i64 -> i64"}, fn: opLshift},
	{id: primRshift, name: ">>", sigs: []string{"i64 i64 -> i64"}, fn: opRshift},
	{id: primArshift, name: ">>>", sigs: []string{"i64 i64 -> i64"}, fn: opArshift},

	{id: primLand, name: "and", sigs: []string{"bool bool -> bool", "i64 i64 -> bool"}, fn: opLand},
	{id: primLor, name: "or", sigs: []string{"bool bool -> bool", "i64 i64 -> bool"}, fn: opLor},
	{id: primLnot, name: "not", sigs: []string{"bool -> bool", "i64 -> bool"}, fn: opLnot},
	{id: primZeroEq, name: "0=", sigs: []string{"i64 -> bool"}, fn: opZeroEq},
	{id: primZeroGt, name: "0>", sigs: []string{"i64 -> bool"}, fn: opZeroGt},
	{id: primZeroLt, name: "0<", sigs: []string{"i64 -> bool"}, fn: opZeroLt},

	{id: primFetch, name: "@", sigs: []string{"ptr -> i64"}, fn: opFetch},
	{id: primStore, name: "!", sigs: []string{"i64 ptr ->"}, fn: opStore},
	{id: primCFetch, name: "c@", sigs: []string{"ptr -> i64"}, fn: opCFetch},
	{id: primCStore, name: "c!", sigs: []string{"i64 ptr ->"}, fn: opCStore},

	{id: primToR, name: ">r", sigs: []string{"a ->"}, fn: opToR},
	{id: primFromR, name: "r>", sigs: []string{"-> i64"}, fn: opFromR},
	{id: primRFetch, name: "r@", sigs: []string{"-> i64"}, fn: opRFetch},
	{id: primRDrop, name: "rdrop", sigs: []string{"->"}, fn: opRDrop},
	{id: primTwoToR, name: "2>r", sigs: []string{"a b ->"}, fn: opTwoToR},
	{id: primTwoFromR, name: "2r>", sigs: []string{"-> i64 i64"}, fn: opTwoFromR},

	{id: primBranch, name: "branch", sigs: []string{"->"}, fn: opBranch},
	{id: primZBranch, name: "0branch", sigs: []string{"i64 ->"}, fn: opZBranch},
	{id: primExecute, name: "execute", sigs: []string{"ptr ->"}, fn: opExecute},
	{id: primI0, name: "i0", sigs: []string{"-> i64"}, fn: opI0},

	{id: primFree, name: "free", sigs: []string{"any ->"}, fn: opFree},
	{id: primAlloc, name: "alloc", sigs: []string{"i64 -> ptr"}, fn: opAlloc},
	{id: primIdentity, name: "_", aliases: []string{"identity"}, sigs: []string{"a -> a"}, fn: opIdentity},
	{id: primMemcpy, name: "memcpy", sigs: []string{"ptr ptr i64 ->"}, fn: opMemcpy},

	{id: primArrayLen, name: "array-length", sigs: []string{"array -> i64", "array_mut -> i64"}, fn: opObjLen},
	{id: primStrLen, name: "str-length", sigs: []string{"str -> i64", "str_mut -> i64"}, fn: opObjLen},
	{id: primMut, name: "mut", sigs: []string{"str -> str_mut", "array -> array_mut"}, fn: opMut},
	{id: primArrayAt, name: "array-at", sigs: []string{"array i64 -> any", "array_mut i64 -> any"}, fn: opArrayAt},
	{id: primArraySet, name: "array-set!", sigs: []string{"any array_mut i64 ->"}, fn: opArraySet},
	{id: primArrayFil, name: "array-fill!", sigs: []string{"any array_mut ->"}, fn: opArrayFill},
	{id: primArrayRev, name: "array-reverse!", sigs: []string{"array_mut ->"}, fn: opArrayRev},
	{id: primArrayCat, name: "array-concat", sigs: []string{"array array -> array"}, fn: opArrayCat},
}

// RegisterPrimitives installs the dispatch table on the engine and the
// primitive word entries in the dictionary.
func RegisterPrimitives(dict *Dictionary, e *Engine) {
	for _, def := range primDefs {
		e.prims[def.id] = def.fn
		names := append([]string{def.name}, def.aliases...)
		sigs := def.sigs
		if sigs == nil {
			continue // immediate-managed; entries added by RegisterImmediates
		}
		for _, name := range names {
			for _, sigText := range sigs {
				dict.Add(&dictEntry{
					name:        name,
					addr:        primAddr(def.id),
					primID:      def.id,
					sig:         mustSignature(sigText),
					isPrimitive: true,
				})
			}
		}
	}
}

func opAdd(e *Engine) { b, a := e.pop(), e.pop(); e.push(a + b) }
func opSub(e *Engine) { b, a := e.pop(), e.pop(); e.push(a - b) }
func opMul(e *Engine) { b, a := e.pop(), e.pop(); e.push(a * b) }

func opDiv(e *Engine) {
	b, a := e.pop(), e.pop()
	if b == 0 {
		e.halt(errDivideByZero)
	}
	e.push(a / b)
}

func opMod(e *Engine) {
	b, a := e.pop(), e.pop()
	if b == 0 {
		e.halt(errDivideByZero)
	}
	e.push(a % b)
}

func opDup(e *Engine)  { a := e.pop(); e.push(a); e.push(a) }
func opDrop(e *Engine) { e.pop() }
func opSwap(e *Engine) { b, a := e.pop(), e.pop(); e.push(b); e.push(a) }
func opOver(e *Engine) { b, a := e.pop(), e.pop(); e.push(a); e.push(b); e.push(a) }
func opRot(e *Engine)  { c, b, a := e.pop(), e.pop(), e.pop(); e.push(b); e.push(c); e.push(a) }

func opEq(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a == b)) }
func opNe(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a != b)) }
func opLt(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a < b)) }
func opGt(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a > b)) }
func opLe(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a <= b)) }
func opGe(e *Engine) { b, a := e.pop(), e.pop(); e.push(forthBool(a >= b)) }

func opAnd(e *Engine)    { b, a := e.pop(), e.pop(); e.push(a & b) }
func opOr(e *Engine)     { b, a := e.pop(), e.pop(); e.push(a | b) }
func opXor(e *Engine)    { b, a := e.pop(), e.pop(); e.push(a ^ b) }
func opInvert(e *Engine) { e.push(^e.pop()) }

func opLshift(e *Engine)  { b, a := e.pop(), e.pop(); e.push(a << (uint64(b) & 63)) }
func opRshift(e *Engine)  { b, a := e.pop(), e.pop(); e.push(int64(uint64(a) >> (uint64(b) & 63))) }
func opArshift(e *Engine) { b, a := e.pop(), e.pop(); e.push(a >> (uint64(b) & 63)) }

func opLand(e *Engine)   { b, a := e.pop(), e.pop(); e.push(forthBool(a != 0 && b != 0)) }
func opLor(e *Engine)    { b, a := e.pop(), e.pop(); e.push(forthBool(a != 0 || b != 0)) }
func opLnot(e *Engine)   { e.push(forthBool(e.pop() == 0)) }
func opZeroEq(e *Engine) { e.push(forthBool(e.pop() == 0)) }
func opZeroGt(e *Engine) { e.push(forthBool(e.pop() > 0)) }
func opZeroLt(e *Engine) { e.push(forthBool(e.pop() < 0)) }

func opFetch(e *Engine)  { e.push(int64(e.load64(uint64(e.pop())))) }
func opStore(e *Engine)  { addr := uint64(e.pop()); e.stor64(addr, uint64(e.pop())) }
func opCFetch(e *Engine) { e.push(int64(e.loadByte(uint64(e.pop())))) }
func opCStore(e *Engine) { addr := uint64(e.pop()); e.storByte(addr, byte(e.pop())) }

func opToR(e *Engine)   { e.pushr(uint64(e.pop())) }
func opFromR(e *Engine) { e.push(int64(e.popr())) }
func opRFetch(e *Engine) {
	e.push(int64(e.peekr()))
}
func opRDrop(e *Engine) { e.popr() }
func opTwoToR(e *Engine) {
	b, a := e.pop(), e.pop()
	e.pushr(uint64(a))
	e.pushr(uint64(b))
}
func opTwoFromR(e *Engine) {
	b, a := e.popr(), e.popr()
	e.push(int64(a))
	e.push(int64(b))
}

func opBranch(e *Engine) {
	off := e.branchOffset()
	e.prog = uint64(int64(e.prog) + 8*off)
}

func opZBranch(e *Engine) {
	flag := e.pop()
	off := e.branchOffset()
	if flag == 0 {
		e.prog = uint64(int64(e.prog) + 8*off)
	}
}

func opExecute(e *Engine) { e.call(uint64(e.pop())) }

// i0 reads the innermost loop counter from the return stack.
func opI0(e *Engine) { e.push(int64(e.peekr())) }

func opFree(e *Engine)  { e.Release(uint64(e.pop())) }
func opAlloc(e *Engine) { e.push(int64(e.Reserve(uint64(e.pop())))) }

func opIdentity(e *Engine) {}

func opMemcpy(e *Engine) {
	n := uint64(e.pop())
	dst := uint64(e.pop())
	src := uint64(e.pop())
	e.grow(dst + n)
	e.grow(src + n)
	copy(e.mem[dst:dst+n], e.mem[src:src+n])
}

func opObjLen(e *Engine) {
	e.push(int64(e.load64(uint64(e.pop()))))
}

// objByteSize computes a heap object's total footprint from its header;
// byte-element objects carry a NUL terminator.
func (e *Engine) objByteSize(addr uint64) uint64 {
	count := e.load64(addr + hdrCount)
	elem := uint64(e.loadByte(addr + hdrElemSize))
	size := hdrSize + count*elem
	if elem == 1 {
		size++
	}
	return size
}

func opMut(e *Engine) {
	src := uint64(e.pop())
	size := e.objByteSize(src)
	dst := e.Reserve(size)
	copy(e.mem[dst:dst+size], e.mem[src:src+size])
	e.push(int64(dst))
}

func (e *Engine) arrayIndex() (addr uint64, i int64) {
	i = e.pop()
	addr = uint64(e.pop())
	count := int64(e.load64(addr + hdrCount))
	if i < 0 || i >= count {
		e.halt(indexError{i, count})
	}
	return addr, i
}

type indexError struct {
	index int64
	count int64
}

func (err indexError) Error() string {
	return fmt.Sprintf("index %d out of range for count %d", err.index, err.count)
}

func opArrayAt(e *Engine) {
	addr, i := e.arrayIndex()
	e.push(int64(e.load64(addr + hdrSize + 8*uint64(i))))
}

func opArraySet(e *Engine) {
	addr, i := e.arrayIndex()
	e.stor64(addr+hdrSize+8*uint64(i), uint64(e.pop()))
}

func opArrayFill(e *Engine) {
	addr := uint64(e.pop())
	val := uint64(e.pop())
	count := e.load64(addr + hdrCount)
	for i := uint64(0); i < count; i++ {
		e.stor64(addr+hdrSize+8*i, val)
	}
}

func opArrayRev(e *Engine) {
	addr := uint64(e.pop())
	count := e.load64(addr + hdrCount)
	for i, j := uint64(0), count-1; count > 1 && i < j; i, j = i+1, j-1 {
		vi := e.load64(addr + hdrSize + 8*i)
		vj := e.load64(addr + hdrSize + 8*j)
		e.stor64(addr+hdrSize+8*i, vj)
		e.stor64(addr+hdrSize+8*j, vi)
	}
}

func opArrayCat(e *Engine) {
	b := uint64(e.pop())
	a := uint64(e.pop())
	ca := e.load64(a + hdrCount)
	cb := e.load64(b + hdrCount)
	dst := e.Reserve(hdrSize + 8*(ca+cb))
	e.stor64(dst+hdrCount, ca+cb)
	e.storByte(dst+hdrElemSize, 8)
	e.stor64(dst+hdrElemType, e.load64(a+hdrElemType))
	for i := uint64(0); i < ca; i++ {
		e.stor64(dst+hdrSize+8*i, e.load64(a+hdrSize+8*i))
	}
	for i := uint64(0); i < cb; i++ {
		e.stor64(dst+hdrSize+8*(ca+i), e.load64(b+hdrSize+8*i))
	}
	e.push(int64(dst))
}
