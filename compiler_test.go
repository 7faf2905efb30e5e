package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/march/internal/blob"
)

func newTestMarch(t *testing.T, opts ...Option) *March {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func compile(t *testing.T, m *March, source string) {
	t.Helper()
	require.NoError(t, m.CompileString(source, "<test>"))
}

// wordStream loads a stored word's tag stream for structural assertions.
func wordStream(t *testing.T, m *March, name string) []blob.Item {
	t.Helper()
	cid, _, err := m.store.LookupWord(name, "user")
	require.NoError(t, err)
	kind, _, data, err := m.store.LoadBlob(cid)
	require.NoError(t, err)
	require.Equal(t, blob.Word, kind)

	var items []blob.Item
	r := blob.NewReader(data)
	for r.More() {
		item, err := r.Next()
		require.NoError(t, err)
		items = append(items, item)
	}
	return items
}

func TestCompileSimpleWords(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `
		-- a couple of constants
		: five 5 ;
		: ten 10 ;
		: fifteen five ten + ;
	`)

	// five is one data reference
	items := wordStream(t, m, "five")
	require.Len(t, items, 1)
	assert.True(t, items[0].IsRef)
	assert.Equal(t, blob.Data, items[0].Kind)

	// fifteen calls both words then the add primitive
	items = wordStream(t, m, "fifteen")
	require.Len(t, items, 3)
	assert.Equal(t, blob.Word, items[0].Kind)
	assert.Equal(t, blob.Word, items[1].Kind)
	assert.False(t, items[2].IsRef)
	assert.Equal(t, uint16(primAdd), items[2].Prim)

	// signatures were inferred and persisted
	_, sig, err := m.store.LookupWord("fifteen", "user")
	require.NoError(t, err)
	assert.Equal(t, "-> i64", sig)
}

func TestLiteralDeduplication(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: a 7 7 ; : b 7 ;`)

	items := wordStream(t, m, "a")
	require.Len(t, items, 2)
	assert.Equal(t, items[0].CID, items[1].CID, "identical literals share one blob")

	other := wordStream(t, m, "b")
	assert.Equal(t, items[0].CID, other[0].CID)
}

func TestIdenticalBodiesShareBlob(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: a 1 2 + ; : b 1 2 + ;`)
	cidA, _, err := m.store.LookupWord("a", "user")
	require.NoError(t, err)
	cidB, _, err := m.store.LookupWord("b", "user")
	require.NoError(t, err)
	assert.Equal(t, cidA, cidB, "rewriting identical bytes never makes a new entry")
}

func TestCompileIf(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: pick 1 ( 42 ) ( 99 ) if ;`)

	items := wordStream(t, m, "pick")
	// flag, 0branch, off, true-lit, branch, off, false-lit
	require.Len(t, items, 7)
	assert.Equal(t, uint16(primZBranch), items[1].Prim)
	assert.Equal(t, uint16(blob.PrimLit), items[2].Prim)
	assert.Equal(t, int64(3), items[2].Inline, "past true body, branch and offset")
	assert.Equal(t, uint16(primBranch), items[4].Prim)
	assert.Equal(t, int64(1), items[5].Inline, "past the one-cell false body")
}

func TestCompileIfErrors(t *testing.T) {
	m := newTestMarch(t)
	for _, source := range []string{
		`: bad 1 ( 2 ) if ;`,          // one quotation
		`: bad ( 2 ) ( 3 ) if ;`,      // no flag
		`: bad 1 ( 2 ) ( "s" ) if ;`,  // branch shapes differ
		`: bad 1 ( 2 ) ( 3 4 ) if ;`,  // branch depths differ
	} {
		err := m.CompileString(source, "<test>")
		assert.Error(t, err, source)
	}
}

func TestCompileTimesCounted(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: sum10 0 10 ( i0 + ) times ;`)

	items := wordStream(t, m, "sum10")
	// two literal refs, then >r r@ 0branch off r> 1 - >r i0 + branch off rdrop
	require.Len(t, items, 15)
	assert.Equal(t, uint16(primToR), items[2].Prim)
	assert.Equal(t, uint16(primRFetch), items[3].Prim)
	assert.Equal(t, uint16(primZBranch), items[4].Prim)
	assert.Equal(t, int64(2+6), items[5].Inline)
	assert.Equal(t, uint16(primBranch), items[12].Prim)
	assert.Equal(t, int64(-(2 + 9)), items[13].Inline)
	assert.Equal(t, uint16(primRDrop), items[14].Prim)
}

func TestCompileTimesShapeErrors(t *testing.T) {
	m := newTestMarch(t)
	// the body grows the stack every iteration
	err := m.CompileString(`: bad 0 3 ( 1 ) times ;`, "<test>")
	require.Error(t, err)

	// the condition must add exactly one flag
	err = m.CompileString(`: bad 0 ( 1 2 ) ( drop ) times ;`, "<test>")
	require.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		source string
		cat    Category
	}{
		{"unknown word", `: w nosuch ;`, CatType},
		{"type mismatch", `: w "s" 1 + ;`, CatType},
		{"no overload fits", `: w + ;`, CatType},
		{"stack underflow", `: w drop ;`, CatStack},
		{"unmatched close paren", `: w 1 ) ;`, CatParse},
		{"unmatched open paren", `: w ( 1 ;`, CatParse},
		{"unmatched close bracket", `: w ] ;`, CatParse},
		{"unmatched open bracket", `: w [ 1 ;`, CatParse},
		{"top level expression", `42`, CatParse},
		{"nested definition", `: w : x ;`, CatParse},
		{"eof in definition", `: w 1`, CatParse},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMarch(t)
			err := m.CompileString(tc.source, "<test>")
			require.Error(t, err)
			assert.Equal(t, tc.cat, Categorize(err), "error: %v", err)
		})
	}
}

func TestCompileErrorMentionsPosition(t *testing.T) {
	m := newTestMarch(t)
	err := m.CompileString(": w\n  nosuch ;", "source.march")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.march:2:3")
	assert.Contains(t, err.Error(), "in w")
}

func TestCompileDeclaredSignature(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: add2 i64 i64 -> i64 ; + ;`)
	_, sig, err := m.store.LookupWord("add2", "user")
	require.NoError(t, err)
	assert.Equal(t, "i64 i64 -> i64", sig)

	// declared outputs must match what the body produces
	err = m.CompileString(`: bad i64 -> i64 i64 ; 1 + ;`, "<test>")
	require.Error(t, err)
	assert.Equal(t, CatType, Categorize(err))
}

func TestDollarTypeDeclaration(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `
		$ i64 i64 -> i64 ;
		: sum3 + ;
	`)
	_, sig, err := m.store.LookupWord("sum3", "user")
	require.NoError(t, err)
	assert.Equal(t, "i64 i64 -> i64", sig)
}

func TestCompileOverloadResolution(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: len1 "abc" str-length ;`)
	items := wordStream(t, m, "len1")
	require.Len(t, items, 2)
	assert.Equal(t, uint16(primStrLen), items[1].Prim)
}

func TestQuotationMaterialization(t *testing.T) {
	m := newTestMarch(t)
	// a quotation not consumed by an immediate word materializes as a
	// standalone blob referenced from the body and executable by address
	compile(t, m, `: q ( 21 2 * ) execute ;`)

	items := wordStream(t, m, "q")
	require.Len(t, items, 2)
	assert.True(t, items[0].IsRef)
	assert.Equal(t, blob.Quotation, items[0].Kind)
	assert.Equal(t, uint16(primExecute), items[1].Prim)

	kind, err := m.store.GetBlobKind(items[0].CID)
	require.NoError(t, err)
	assert.Equal(t, blob.Quotation, kind)
}

func TestArrayLiteralCompilation(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: pair [ 7 8 ] ;`)
	_, sig, err := m.store.LookupWord("pair", "user")
	require.NoError(t, err)
	assert.Equal(t, "-> array", sig)

	// heterogeneous elements are rejected
	err = m.CompileString(`: bad [ 1 "two" ] ;`, "<test>")
	require.Error(t, err)
	assert.Equal(t, CatType, Categorize(err))
}

func TestDropFreesOwnedSlot(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: af [ 1 2 ] drop ;`)

	items := wordStream(t, m, "af")
	last := items[len(items)-1]
	assert.False(t, last.IsRef)
	assert.Equal(t, uint16(primFree), last.Prim,
		"dropping the last reference to an owned allocation frees it")
}

func TestConsumedAllocationIsFreed(t *testing.T) {
	m := newTestMarch(t)
	// array-length only reads the pointer it pops, so the compiler
	// stashes the last reference around the call and frees it after
	compile(t, m, `: leak [ 1 2 3 ] array-length drop ;`)

	ids := primsOf(wordStream(t, m, "leak"))
	tail := ids[len(ids)-6:]
	assert.Equal(t, []uint16{
		primDup, primToR, primArrayLen, primFromR, primFree, primDrop,
	}, tail)

	require.NoError(t, m.Execute("leak"))
	assert.Empty(t, m.Stack())
}

func TestMutFreesItsSource(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: m [ 1 2 ] mut drop ;`)

	ids := primsOf(wordStream(t, m, "m"))
	tail := ids[len(ids)-5:]
	// dup >r mut r> free frees the source; the final free is the drop
	// retiring the mutable copy
	assert.Equal(t, []uint16{
		primToR, primMut, primFromR, primFree, primFree,
	}, tail)

	require.NoError(t, m.Execute("m"))
	assert.Empty(t, m.Stack())
}

func TestConsumedBelowTopIsFreed(t *testing.T) {
	m := newTestMarch(t)
	// the owned array sits under the index when array-at consumes it
	compile(t, m, `: pick2 [ 5 6 7 ] 1 array-at ;`)

	ids := primsOf(wordStream(t, m, "pick2"))
	tail := ids[len(ids)-5:]
	assert.Equal(t, []uint16{
		primOver, primToR, primArrayAt, primFromR, primFree,
	}, tail)

	require.NoError(t, m.Execute("pick2"))
	assert.Equal(t, []int64{6}, m.Stack())
}

func TestCalleeOwnsHeapParameters(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `
		: asum array -> i64 ; array-length ;
		: use [ 7 8 ] asum ;
	`)

	// the callee wraps its own consumption of the parameter
	ids := primsOf(wordStream(t, m, "asum"))
	assert.Equal(t, []uint16{
		primDup, primToR, primArrayLen, primFromR, primFree,
	}, ids)

	require.NoError(t, m.Execute("use"))
	assert.Equal(t, []int64{2}, m.Stack())
}

func TestRetainingPrimitiveEscapesValue(t *testing.T) {
	m := newTestMarch(t)
	// array-set! stores the inner array into the outer one: the stored
	// value escapes and must not be freed, while the consumed outer
	// array still gets its stash-free
	compile(t, m, `: nest [ 9 ] [ 0 ] mut 0 array-set! ;`)

	ids := primsOf(wordStream(t, m, "nest"))
	tail := ids[len(ids)-5:]
	assert.Equal(t, []uint16{
		primOver, primToR, primArraySet, primFromR, primFree,
	}, tail)

	frees := 0
	for _, id := range ids {
		if id == primFree {
			frees++
		}
	}
	// one free for mut's source, one for the consumed outer array; the
	// stored inner array is never freed
	assert.Equal(t, 2, frees)

	require.NoError(t, m.Execute("nest"))
	assert.Empty(t, m.Stack())
}

func TestDupSharesSlotThenDropKeeps(t *testing.T) {
	m := newTestMarch(t)
	// dup'd pointer shares the slot; the first drop must NOT free while
	// another stack reference remains
	compile(t, m, `: keep [ 1 ] dup drop ;`)
	items := wordStream(t, m, "keep")
	// the drop right before exit must be a plain drop
	last := items[len(items)-1]
	assert.Equal(t, uint16(primDrop), last.Prim)
	_, sig, err := m.store.LookupWord("keep", "user")
	require.NoError(t, err)
	assert.Equal(t, "-> array", sig)
}

func TestMonomorphizationCache(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: twice a -> a a ; dup ;`)

	// the lazy word gets no stored row; call sites specialize it instead
	_, _, err := m.store.LookupWord("twice", "user")
	assert.Error(t, err)

	compile(t, m, `: four 2 twice + ;`)
	require.Len(t, m.comp.spec, 1)

	var firstCID blob.CID
	for _, spec := range m.comp.spec {
		firstCID = spec.cid
	}

	// same input vector: cache hit, same cid, still one entry
	compile(t, m, `: six 3 twice + ;`)
	require.Len(t, m.comp.spec, 1)
	for _, spec := range m.comp.spec {
		assert.Equal(t, firstCID, spec.cid)
	}

	items := wordStream(t, m, "four")
	other := wordStream(t, m, "six")
	assert.Equal(t, items[1].CID, other[1].CID, "both call sites share the specialization")
}

func TestMonomorphizationPerTypeContext(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `
		: keep2 a -> a a ; dup ;
		: ints 1 keep2 + ;
		: strs "x" keep2 drop str-length ;
	`)
	assert.Len(t, m.comp.spec, 2, "distinct input vectors specialize separately")
}

func TestLazyWordsCompose(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: twice a -> a a ; dup ;`)
	// a lazy word may reference another lazy word; both specialize at
	// the first concrete call site
	compile(t, m, `: outer b -> b b ; twice ;`)
	compile(t, m, `: use 1 outer + ;`)
	assert.Len(t, m.comp.spec, 2)
}

func TestRecursiveSpecializationFails(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: selfish a -> a ; selfish ;`)
	err := m.CompileString(`: go 1 selfish ;`, "<test>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive")
}

func TestStringCompilation(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: greet "hello" ;`)

	items := wordStream(t, m, "greet")
	require.Len(t, items, 1)
	require.Equal(t, blob.Data, items[0].Kind)

	kind, _, data, err := m.store.LoadBlob(items[0].CID)
	require.NoError(t, err)
	assert.Equal(t, blob.Data, kind)
	require.Len(t, data, hdrSize+len("hello")+1)
	assert.Equal(t, byte(5), data[hdrCount], "count heads the header")
	assert.Equal(t, byte(1), data[hdrElemSize])
	assert.Equal(t, "hello", string(data[hdrSize:hdrSize+5]))
	assert.Equal(t, byte(0), data[hdrSize+5], "NUL terminated")

	_, sig, err := m.store.LookupWord("greet", "user")
	require.NoError(t, err)
	assert.Equal(t, "-> str", sig)
}
