package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/march/internal/blob"
	"github.com/jcorbin/march/internal/cells"
)

func TestLinkCIDCaches(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: five 5 ;`)
	cid, _, err := m.store.LookupWord("five", "user")
	require.NoError(t, err)

	addr1, err := m.loader.LinkCID(cid)
	require.NoError(t, err)
	addr2, err := m.loader.LinkCID(cid)
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2, "a cid links to a single instance")
}

func TestLinkSharedDependencyOnce(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: five 5 ; : a five ; : b five ;`)
	cidA, _, err := m.store.LookupWord("a", "user")
	require.NoError(t, err)
	cidB, _, err := m.store.LookupWord("b", "user")
	require.NoError(t, err)

	addrA, err := m.loader.LinkCID(cidA)
	require.NoError(t, err)
	addrB, err := m.loader.LinkCID(cidB)
	require.NoError(t, err)

	// both link streams call the same five instance
	assert.Equal(t, m.MemWord(addrA), m.MemWord(addrB))
}

// TestLinkRoundTripShape checks that store-then-link reproduces the cell shape a
// word's tag stream describes: primitive substitution aside, the linked
// array mirrors the stream one cell per tag plus the trailing EXIT.
func TestLinkRoundTripShape(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: w 1 2 + dup drop ;`)
	cid, _, err := m.store.LookupWord("w", "user")
	require.NoError(t, err)

	_, _, data, err := m.store.LoadBlob(cid)
	require.NoError(t, err)
	tags := 0
	r := blob.NewReader(data)
	for r.More() {
		_, err := r.Next()
		require.NoError(t, err)
		tags++
	}

	addr, err := m.loader.LinkCID(cid)
	require.NoError(t, err)

	// walk linked cells to the EXIT
	n := 0
	for !cells.IsExit(m.MemWord(addr + 8*uint64(n))) {
		n++
	}
	assert.Equal(t, tags, n)

	// the literal cells carry the stored values
	c0, err := cells.Decode(m.MemWord(addr))
	require.NoError(t, err)
	assert.Equal(t, cells.Lit(1), c0)
	c1, err := cells.Decode(m.MemWord(addr + 8))
	require.NoError(t, err)
	assert.Equal(t, cells.Lit(2), c1)
	c2, err := cells.Decode(m.MemWord(addr + 16))
	require.NoError(t, err)
	assert.Equal(t, cells.Xt(primAddr(primAdd)), c2)
}

func TestLinkMissingBlob(t *testing.T) {
	m := newTestMarch(t)
	_, err := m.loader.LinkCID(blob.Sum([]byte("absent")))
	require.Error(t, err)
	assert.Equal(t, CatLink, Categorize(err))
}

func TestLinkDanglingReference(t *testing.T) {
	m := newTestMarch(t)
	// a WORD blob whose reference has no stored target
	var buf blob.Buffer
	buf.AppendRef(blob.Word, blob.Sum([]byte("missing")))
	cid, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes())
	require.NoError(t, err)

	_, err = m.loader.LinkCID(cid)
	require.Error(t, err)
	assert.Equal(t, CatLink, Categorize(err))
}

func TestLinkUnknownPrimitiveID(t *testing.T) {
	m := newTestMarch(t)
	var buf blob.Buffer
	buf.AppendPrimitive(200) // registered table stops well short of 200
	cid, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes())
	require.NoError(t, err)

	_, err = m.loader.LinkCID(cid)
	require.Error(t, err)
	assert.Equal(t, CatLink, Categorize(err))
	assert.Contains(t, err.Error(), "primitive id")
}

func TestLinkMalformedTagStream(t *testing.T) {
	m := newTestMarch(t)
	var buf blob.Buffer
	buf.AppendRef(blob.Word, blob.Sum([]byte("x")))
	cid, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes()[:10])
	require.NoError(t, err)

	_, err = m.loader.LinkCID(cid)
	require.Error(t, err)
	assert.Equal(t, CatLink, Categorize(err))
}

func TestLinkKindMismatch(t *testing.T) {
	m := newTestMarch(t)
	// target stored as DATA but referenced as WORD
	target, err := m.store.StoreBlob(blob.Data, nil, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	var buf blob.Buffer
	buf.AppendRef(blob.Word, target)
	cid, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes())
	require.NoError(t, err)

	_, err = m.loader.LinkCID(cid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind mismatch")
}

func TestLinkPrimitiveByCIDRejected(t *testing.T) {
	m := newTestMarch(t)
	cid, err := m.store.StoreBlob(blob.Primitive, nil, []byte{0})
	require.NoError(t, err)
	_, err = m.loader.LinkCID(cid)
	require.Error(t, err)
	assert.Equal(t, CatLink, Categorize(err))
}

func TestLinkDataInlining(t *testing.T) {
	m := newTestMarch(t)

	// 8-byte DATA inlines as a literal value
	lit, err := m.store.StoreLiteral(1234, "i64")
	require.NoError(t, err)
	var buf blob.Buffer
	buf.AppendRef(blob.Data, lit)
	cid, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes())
	require.NoError(t, err)

	addr, err := m.loader.LinkCID(cid)
	require.NoError(t, err)
	c, err := cells.Decode(m.MemWord(addr))
	require.NoError(t, err)
	assert.Equal(t, cells.Lit(1234), c)

	// longer DATA (a string object) links as an address push
	str := make([]byte, hdrSize+4)
	str[hdrCount] = 3
	str[hdrElemSize] = 1
	copy(str[hdrSize:], "abc")
	strCID, err := m.store.StoreBlob(blob.Data, nil, str)
	require.NoError(t, err)
	buf.Reset()
	buf.AppendRef(blob.Data, strCID)
	cid2, err := m.store.StoreBlob(blob.Word, nil, buf.Bytes())
	require.NoError(t, err)

	addr2, err := m.loader.LinkCID(cid2)
	require.NoError(t, err)
	c2, err := cells.Decode(m.MemWord(addr2))
	require.NoError(t, err)
	strAddr, ok := c2.(cells.Lit)
	require.True(t, ok)
	assert.Equal(t, byte('a'), m.MemByte(uint64(strAddr)+hdrSize))
}

func TestLoaderRelease(t *testing.T) {
	m := newTestMarch(t)
	compile(t, m, `: five 5 ;`)
	cid, _, err := m.store.LookupWord("five", "user")
	require.NoError(t, err)
	addr, err := m.loader.LinkCID(cid)
	require.NoError(t, err)

	m.loader.Release()

	// after release the segment is back on the free list and the cache
	// is empty, so relinking allocates afresh
	again, err := m.loader.LinkCID(cid)
	require.NoError(t, err)
	assert.Equal(t, addr, again, "freed block of equal size is reused")
}
