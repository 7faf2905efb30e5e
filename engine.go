package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcorbin/march/internal/cells"
	"github.com/jcorbin/march/internal/panicerr"
)

// Engine memory layout. One flat byte-addressed space: address 0 is never
// handed out so XT(0) is unambiguously EXIT; the primitive region maps
// each frozen primitive id to a fixed address; the loader arena and the
// runtime heap allocate above it.
const (
	primBase  = 8
	primCount = 256
	primEnd   = primBase + 8*primCount
	heapBase  = 4096

	defaultMemLimit = 64 << 20
)

// primAddr returns the fixed runtime address of a primitive id.
func primAddr(id uint16) uint64 { return primBase + 8*uint64(id) }

// isPrimAddr reports whether addr falls in the primitive region.
func isPrimAddr(addr uint64) bool { return addr >= primBase && addr < primEnd }

// primOf recovers the id behind a primitive-region address.
func primOf(addr uint64) uint16 { return uint16((addr - primBase) / 8) }

// Engine is the threaded-code inner interpreter. It owns one flat byte
// memory holding linked code and the heap, a data stack, and a return
// stack; the loader links code into it through Reserve, and Execute runs
// it through Run and reads the operand stack afterward.
type Engine struct {
	logf func(mess string, args ...interface{})

	mem      []byte
	memLimit uint64
	brk      uint64

	// exact-size free lists; every live block's size is remembered so
	// free needs only the address
	freeBlocks map[uint64][]uint64
	blockSize  map[uint64]uint64

	stack  []int64
	rstack []uint64
	prog   uint64

	prims [primCount]func(e *Engine)
}

// NewEngine returns an engine with an empty memory and no registered
// primitives; RegisterPrimitives installs the frozen dispatch table.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		memLimit:   defaultMemLimit,
		brk:        heapBase,
		freeBlocks: make(map[uint64][]uint64),
		blockSize:  make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

// EngineOption configures an Engine.
type EngineOption interface{ apply(e *Engine) }

type engineOptionFunc func(e *Engine)

func (f engineOptionFunc) apply(e *Engine) { f(e) }

// WithMemLimit caps the engine memory in bytes.
func WithMemLimit(limit uint64) EngineOption {
	return engineOptionFunc(func(e *Engine) { e.memLimit = limit })
}

// WithEngineLogf enables engine trace logging.
func WithEngineLogf(logf func(mess string, args ...interface{})) EngineOption {
	return engineOptionFunc(func(e *Engine) { e.logf = logf })
}

type engineHaltError struct{ error }

func (err engineHaltError) Error() string {
	if err.error != nil {
		return fmt.Sprintf("engine halted: %v", err.error)
	}
	return "engine halted"
}
func (err engineHaltError) Unwrap() error { return err.error }

func (e *Engine) halt(err error) {
	if e.logf != nil && err != nil {
		e.logf("# halt error: %v", err)
	}
	panic(engineHaltError{err})
}

func (e *Engine) haltif(err error) {
	if err != nil {
		e.halt(err)
	}
}

var (
	errOOM            = errors.New("out of memory")
	errDataUnderflow  = errors.New("data stack underflow")
	errRetUnderflow   = errors.New("return stack underflow")
	errBadFree        = errors.New("free of unallocated address")
	errDivideByZero   = errors.New("divide by zero")
	errNilExecute     = errors.New("execute of address 0")
	errExpectedOffset = errors.New("branch not followed by an offset literal")
)

type codeError uint64

func (addr codeError) Error() string {
	return fmt.Sprintf("no primitive at address %#x", uint64(addr))
}

type boundsError uint64

func (addr boundsError) Error() string {
	return fmt.Sprintf("memory access out of bounds at %#x", uint64(addr))
}

func (e *Engine) grow(size uint64) {
	if size > e.memLimit {
		e.halt(errOOM)
	}
	if need := int(size) - len(e.mem); need > 0 {
		const chunkSize = 4096
		need = (need + chunkSize - 1) / chunkSize * chunkSize
		e.mem = append(e.mem, make([]byte, need)...)
	}
}

func (e *Engine) load64(addr uint64) uint64 {
	if addr == 0 || addr+8 > uint64(len(e.mem)) {
		if addr+8 > e.memLimit || addr == 0 {
			e.halt(boundsError(addr))
		}
		return 0
	}
	return binary.LittleEndian.Uint64(e.mem[addr:])
}

func (e *Engine) stor64(addr uint64, val uint64) {
	if addr == 0 {
		e.halt(boundsError(addr))
	}
	e.grow(addr + 8)
	binary.LittleEndian.PutUint64(e.mem[addr:], val)
}

func (e *Engine) loadByte(addr uint64) byte {
	if addr == 0 || addr >= uint64(len(e.mem)) {
		if addr >= e.memLimit || addr == 0 {
			e.halt(boundsError(addr))
		}
		return 0
	}
	return e.mem[addr]
}

func (e *Engine) storByte(addr uint64, val byte) {
	if addr == 0 {
		e.halt(boundsError(addr))
	}
	e.grow(addr + 1)
	e.mem[addr] = val
}

func (e *Engine) push(val int64) {
	e.stack = append(e.stack, val)
}

func (e *Engine) pop() (val int64) {
	i := len(e.stack) - 1
	if i < 0 {
		e.halt(errDataUnderflow)
	}
	val, e.stack = e.stack[i], e.stack[:i]
	return val
}

func (e *Engine) pushr(addr uint64) {
	e.rstack = append(e.rstack, addr)
}

func (e *Engine) popr() (addr uint64) {
	i := len(e.rstack) - 1
	if i < 0 {
		e.halt(errRetUnderflow)
	}
	addr, e.rstack = e.rstack[i], e.rstack[:i]
	return addr
}

func (e *Engine) peekr() uint64 {
	i := len(e.rstack) - 1
	if i < 0 {
		e.halt(errRetUnderflow)
	}
	return e.rstack[i]
}

// Reserve hands out an 8-aligned zeroed block; the loader links words
// into reserved blocks and the alloc primitive shares the same
// allocator.
func (e *Engine) Reserve(size uint64) uint64 {
	if size == 0 {
		size = 8
	}
	size = (size + 7) &^ 7
	if addrs := e.freeBlocks[size]; len(addrs) > 0 {
		addr := addrs[len(addrs)-1]
		e.freeBlocks[size] = addrs[:len(addrs)-1]
		e.blockSize[addr] = size
		for i := addr; i < addr+size; i++ {
			e.mem[i] = 0
		}
		return addr
	}
	addr := e.brk
	e.grow(addr + size)
	e.brk += size
	e.blockSize[addr] = size
	return addr
}

// Release returns a block to its free list.
func (e *Engine) Release(addr uint64) {
	size, ok := e.blockSize[addr]
	if !ok {
		e.halt(errBadFree)
	}
	delete(e.blockSize, addr)
	e.freeBlocks[size] = append(e.freeBlocks[size], addr)
}

// WriteBytes copies raw bytes into memory at addr.
func (e *Engine) WriteBytes(addr uint64, data []byte) {
	if addr == 0 {
		e.halt(boundsError(addr))
	}
	e.grow(addr + uint64(len(data)))
	copy(e.mem[addr:], data)
}

// WriteCells copies packed cells into memory at addr.
func (e *Engine) WriteCells(addr uint64, words []uint64) {
	for i, w := range words {
		e.stor64(addr+8*uint64(i), w)
	}
}

// Stack snapshots the operand stack, bottom to top.
func (e *Engine) Stack() []int64 {
	out := make([]int64, len(e.stack))
	copy(out, e.stack)
	return out
}

// TopOfStack returns the top operand, if any.
func (e *Engine) TopOfStack() (int64, bool) {
	if len(e.stack) == 0 {
		return 0, false
	}
	return e.stack[len(e.stack)-1], true
}

// ClearStacks resets both stacks between runs.
func (e *Engine) ClearStacks() {
	e.stack = e.stack[:0]
	e.rstack = e.rstack[:0]
}

// Run executes linked code starting at entry until an EXIT finds the
// return stack empty. Abnormal halts surface as errors.
func (e *Engine) Run(entry uint64) error {
	err := panicerr.Recover("engine", func() error {
		e.prog = entry
		e.exec()
		return nil
	})
	var he engineHaltError
	if errors.As(err, &he) {
		return he.error
	}
	return err
}

func (e *Engine) exec() {
	for {
		if e.logf != nil {
			e.logf("@%#x r:%v s:%v", e.prog, e.rstack, e.stack)
		}
		w := e.load64(e.prog)
		e.prog += 8
		if !e.step(w) {
			return
		}
	}
}

// step dispatches one packed cell; it returns false when the outermost
// EXIT unwinds.
func (e *Engine) step(w uint64) bool {
	c, err := cells.Decode(w)
	if err != nil {
		e.halt(err)
	}
	switch c := c.(type) {
	case cells.Xt:
		addr := uint64(c)
		switch {
		case addr == 0:
			if len(e.rstack) == 0 {
				return false
			}
			e.prog = e.popr()
		case isPrimAddr(addr):
			e.callPrim(primOf(addr))
		default:
			e.pushr(e.prog)
			e.prog = addr
		}
	case cells.Lit:
		e.push(int64(c))
	case cells.Lst:
		e.push(int64(uint64(c)))
	case cells.Lnt:
		for i := uint64(0); i < uint64(c); i++ {
			e.push(int64(e.load64(e.prog)))
			e.prog += 8
		}
	}
	return true
}

func (e *Engine) callPrim(id uint16) {
	fn := e.prims[id]
	if fn == nil {
		e.halt(codeError(primAddr(id)))
	}
	fn(e)
}

// call transfers control to an address, dispatching primitives directly;
// used by execute.
func (e *Engine) call(addr uint64) {
	switch {
	case addr == 0:
		e.halt(errNilExecute)
	case isPrimAddr(addr):
		e.callPrim(primOf(addr))
	default:
		e.pushr(e.prog)
		e.prog = addr
	}
}

// branchOffset consumes the inline offset literal following a branch
// primitive; the offset counts cells from the cell after it.
func (e *Engine) branchOffset() int64 {
	c, err := cells.Decode(e.load64(e.prog))
	if err != nil {
		e.halt(err)
	}
	lit, ok := c.(cells.Lit)
	if !ok {
		e.halt(errExpectedOffset)
	}
	e.prog += 8
	return int64(lit)
}
