package blob

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStoreBlobContentAddressing(t *testing.T) {
	st := openTestStore(t)

	data := []byte{1, 2, 3, 4}
	cid, err := st.StoreBlob(Data, nil, data)
	require.NoError(t, err)
	assert.Equal(t, Sum(data), cid)

	// duplicate insert is a no-op yielding the same cid
	again, err := st.StoreBlob(Data, nil, data)
	require.NoError(t, err)
	assert.Equal(t, cid, again)

	kind, sig, got, err := st.LoadBlob(cid)
	require.NoError(t, err)
	assert.Equal(t, Data, kind)
	assert.Nil(t, sig)
	assert.Equal(t, data, got)

	kind, err = st.GetBlobKind(cid)
	require.NoError(t, err)
	assert.Equal(t, Data, kind)
}

func TestStoreBlobWithSignature(t *testing.T) {
	st := openTestStore(t)

	sigCID, err := st.StoreTypeSig("i64 i64", "i64")
	require.NoError(t, err)

	var buf Buffer
	buf.AppendPrimitive(1)
	cid, err := st.StoreBlob(Word, &sigCID, buf.Bytes())
	require.NoError(t, err)

	kind, gotSig, _, err := st.LoadBlob(cid)
	require.NoError(t, err)
	assert.Equal(t, Word, kind)
	require.NotNil(t, gotSig)
	assert.Equal(t, sigCID, *gotSig)

	in, out, err := st.LoadTypeSig(sigCID)
	require.NoError(t, err)
	assert.Equal(t, "i64 i64", in)
	assert.Equal(t, "i64", out)
}

func TestStoreLiteral(t *testing.T) {
	st := openTestStore(t)

	cid, err := st.StoreLiteral(-1, "i64")
	require.NoError(t, err)

	_, _, data, err := st.LoadBlob(cid)
	require.NoError(t, err)
	require.Len(t, data, 8)
	assert.Equal(t, int64(-1), int64(binary.LittleEndian.Uint64(data)))

	// same value, same cid
	again, err := st.StoreLiteral(-1, "i64")
	require.NoError(t, err)
	assert.Equal(t, cid, again)
}

func TestMissingBlob(t *testing.T) {
	st := openTestStore(t)

	_, _, _, err := st.LoadBlob(Sum([]byte("nope")))
	assert.ErrorAs(t, err, new(MissingError))
	_, err = st.GetBlobKind(Sum([]byte("nope")))
	assert.ErrorAs(t, err, new(MissingError))
}

func TestWords(t *testing.T) {
	st := openTestStore(t)

	defCID, err := st.StoreBlob(Word, nil, []byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, st.StoreWord("five", "user", defCID, "-> i64"))

	cid, sig, err := st.LookupWord("five", "user")
	require.NoError(t, err)
	assert.Equal(t, defCID, cid)
	assert.Equal(t, "-> i64", sig)

	_, _, err = st.LookupWord("six", "user")
	assert.ErrorAs(t, err, new(UnknownWordError))

	// redefinition replaces the binding
	defCID2, err := st.StoreBlob(Word, nil, []byte{1, 0})
	require.NoError(t, err)
	require.NoError(t, st.StoreWord("five", "user", defCID2, "-> i64"))
	cid, _, err = st.LookupWord("five", "user")
	require.NoError(t, err)
	assert.Equal(t, defCID2, cid)
}
