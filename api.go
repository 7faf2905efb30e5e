package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jcorbin/march/internal/blob"
	"github.com/jcorbin/march/internal/cells"
	"github.com/jcorbin/march/internal/panicerr"
)

// March owns one compiler instance and its collaborators: the
// dictionary, the content-addressed store, the loader, and the engine.
// All state is process-local and single-threaded; after a compile error
// the instance should be discarded.
type March struct {
	logf func(mess string, args ...interface{})

	storePath string

	dict   *Dictionary
	store  *blob.Store
	eng    *Engine
	loader *Loader
	comp   *Compiler

	engOpts []EngineOption
}

// New assembles a March instance: store opened, primitives and
// immediates registered, dispatch table installed.
func New(opts ...Option) (*March, error) {
	m := &March{storePath: ":memory:"}
	for _, opt := range opts {
		opt.apply(m)
	}

	store, err := blob.Open(m.storePath)
	if err != nil {
		return nil, err
	}
	m.store = store

	m.dict = NewDictionary()
	m.eng = NewEngine(m.engOpts...)
	RegisterPrimitives(m.dict, m.eng)
	RegisterImmediates(m.dict)
	m.loader = NewLoader(m.store, m.eng)
	m.comp = NewCompiler(m.dict, m.store)
	m.comp.logf = m.logf
	return m, nil
}

// Close releases the store.
func (m *March) Close() error { return m.store.Close() }

// Option configures a March instance.
type Option interface{ apply(m *March) }

type optionFunc func(m *March)

func (f optionFunc) apply(m *March) { f(m) }

// WithStorePath sets the blob store database path; the default is an
// in-memory store.
func WithStorePath(path string) Option {
	return optionFunc(func(m *March) { m.storePath = path })
}

// WithLogf enables compiler and engine trace logging.
func WithLogf(logf func(mess string, args ...interface{})) Option {
	return optionFunc(func(m *March) {
		m.logf = logf
		m.engOpts = append(m.engOpts, WithEngineLogf(logf))
	})
}

// WithEngineOptions forwards options to the engine.
func WithEngineOptions(opts ...EngineOption) Option {
	return optionFunc(func(m *March) { m.engOpts = append(m.engOpts, opts...) })
}

// CompileFile compiles one source file into the store.
func (m *March) CompileFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioError{err}
	}
	defer f.Close()
	return m.comp.CompileReader(f, path)
}

// CompileString compiles source text under a synthetic name.
func (m *March) CompileString(source, name string) error {
	return m.comp.CompileReader(strings.NewReader(source), name)
}

// Execute links a stored word by name, synthesizes a two-cell bootstrap
// `[XT(addr) EXIT]`, and runs it on the engine. The operand stack is
// cleared first and can be inspected afterward through Stack.
func (m *March) Execute(name string) error {
	err := panicerr.Recover("execute", func() error {
		cid, _, err := m.store.LookupWord(name, "user")
		if err != nil {
			return linkError{"lookup " + name, err}
		}
		entry, err := m.loader.LinkCID(cid)
		if err != nil {
			return err
		}

		boot := m.eng.Reserve(16)
		m.eng.WriteCells(boot, []uint64{cells.Xt(entry).Encode(), cells.Exit.Encode()})
		defer m.eng.Release(boot)

		m.eng.ClearStacks()
		return m.eng.Run(boot)
	})
	var he engineHaltError
	if errors.As(err, &he) {
		if err = he.Unwrap(); err == nil {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	return nil
}

// Stack snapshots the engine operand stack after execution, bottom to
// top.
func (m *March) Stack() []int64 { return m.eng.Stack() }

// TopOfStack returns the top operand, if any.
func (m *March) TopOfStack() (int64, bool) { return m.eng.TopOfStack() }

// MemByte reads one byte of engine memory; execution scenarios assert
// heap object layout through it.
func (m *March) MemByte(addr uint64) byte { return m.eng.loadByte(addr) }

// MemWord reads one 64-bit word of engine memory.
func (m *March) MemWord(addr uint64) uint64 { return m.eng.load64(addr) }
