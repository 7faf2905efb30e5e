package blob

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the content-addressed persistence layer: three tables keyed by
// binary 32-byte CIDs. Inserts are idempotent; a CID looked up after a
// successful StoreBlob returns byte-identical content.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	cid     BLOB PRIMARY KEY,
	kind    INTEGER NOT NULL,
	sig_cid BLOB,
	len     INTEGER NOT NULL,
	data    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS type_signatures (
	sig_cid    BLOB PRIMARY KEY,
	input_sig  TEXT NOT NULL,
	output_sig TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS words (
	name         TEXT NOT NULL,
	namespace    TEXT NOT NULL DEFAULT 'user',
	def_cid      BLOB NOT NULL,
	type_sig     TEXT NOT NULL,
	is_primitive INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (name, namespace)
);
`

// Open opens (creating if needed) a store at the given path. The path
// ":memory:" yields an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	// the store is exclusively owned by one compiler instance
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (st *Store) Close() error { return st.db.Close() }

// StoreTypeSig persists a typed signature, returning its CID: the SHA-256
// of `input_sig || "|" || output_sig`. Duplicate inserts are no-ops.
func (st *Store) StoreTypeSig(inputSig, outputSig string) (CID, error) {
	cid := Sum([]byte(inputSig + "|" + outputSig))
	_, err := st.db.Exec(
		`INSERT OR IGNORE INTO type_signatures (sig_cid, input_sig, output_sig) VALUES (?, ?, ?)`,
		cid[:], inputSig, outputSig)
	if err != nil {
		return cid, fmt.Errorf("store type sig: %w", err)
	}
	return cid, nil
}

// LoadTypeSig returns the signature strings behind a signature CID.
func (st *Store) LoadTypeSig(sigCID CID) (inputSig, outputSig string, err error) {
	err = st.db.QueryRow(
		`SELECT input_sig, output_sig FROM type_signatures WHERE sig_cid = ?`,
		sigCID[:]).Scan(&inputSig, &outputSig)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", MissingError(sigCID)
	} else if err != nil {
		return "", "", fmt.Errorf("load type sig: %w", err)
	}
	return inputSig, outputSig, nil
}

// StoreBlob persists a blob under the SHA-256 of its bytes. Duplicate
// inserts (same CID) are no-ops; the first write wins, which is sound
// because the key is the content.
func (st *Store) StoreBlob(kind Kind, sigCID *CID, data []byte) (CID, error) {
	cid := Sum(data)
	var sig interface{}
	if sigCID != nil {
		sig = sigCID[:]
	}
	_, err := st.db.Exec(
		`INSERT OR IGNORE INTO blobs (cid, kind, sig_cid, len, data) VALUES (?, ?, ?, ?, ?)`,
		cid[:], uint16(kind), sig, len(data), data)
	if err != nil {
		return cid, fmt.Errorf("store %v blob: %w", kind, err)
	}
	return cid, nil
}

// StoreLiteral persists an 8-byte little-endian DATA blob under the
// signature `-> type`.
func (st *Store) StoreLiteral(value int64, typ string) (CID, error) {
	sigCID, err := st.StoreTypeSig("", typ)
	if err != nil {
		return CID{}, err
	}
	var data [8]byte
	binary.LittleEndian.PutUint64(data[:], uint64(value))
	return st.StoreBlob(Data, &sigCID, data[:])
}

// LoadBlob returns a blob's kind, optional signature CID, and bytes.
func (st *Store) LoadBlob(cid CID) (Kind, *CID, []byte, error) {
	var (
		kind uint16
		sig  []byte
		data []byte
	)
	err := st.db.QueryRow(
		`SELECT kind, sig_cid, data FROM blobs WHERE cid = ?`,
		cid[:]).Scan(&kind, &sig, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil, MissingError(cid)
	} else if err != nil {
		return 0, nil, nil, fmt.Errorf("load blob: %w", err)
	}
	var sigCID *CID
	if len(sig) == CIDSize {
		sigCID = new(CID)
		copy(sigCID[:], sig)
	}
	return Kind(kind), sigCID, data, nil
}

// GetBlobKind returns just a blob's kind.
func (st *Store) GetBlobKind(cid CID) (Kind, error) {
	var kind uint16
	err := st.db.QueryRow(`SELECT kind FROM blobs WHERE cid = ?`, cid[:]).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, MissingError(cid)
	} else if err != nil {
		return 0, fmt.Errorf("load blob kind: %w", err)
	}
	return Kind(kind), nil
}

// StoreWord binds a name to a definition blob. The word row and its
// signature commit together.
func (st *Store) StoreWord(name, namespace string, defCID CID, typeSig string) error {
	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("store word %q: %w", name, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO words (name, namespace, def_cid, type_sig, is_primitive) VALUES (?, ?, ?, ?, 0)`,
		name, namespace, defCID[:], typeSig); err != nil {
		return fmt.Errorf("store word %q: %w", name, err)
	}
	return tx.Commit()
}

// LookupWord resolves a name to its definition CID and signature text.
func (st *Store) LookupWord(name, namespace string) (CID, string, error) {
	var (
		cid     CID
		def     []byte
		typeSig string
	)
	err := st.db.QueryRow(
		`SELECT def_cid, type_sig FROM words WHERE name = ? AND namespace = ?`,
		name, namespace).Scan(&def, &typeSig)
	if errors.Is(err, sql.ErrNoRows) {
		return cid, "", UnknownWordError{name, namespace}
	} else if err != nil {
		return cid, "", fmt.Errorf("lookup word %q: %w", name, err)
	}
	if len(def) != CIDSize {
		return cid, "", fmt.Errorf("word %q: bad def cid length %d", name, len(def))
	}
	copy(cid[:], def)
	return cid, typeSig, nil
}

// MissingError is a CID with no stored blob behind it.
type MissingError CID

func (cid MissingError) Error() string {
	return fmt.Sprintf("no blob for cid %s", CID(cid))
}

// UnknownWordError is a name lookup miss.
type UnknownWordError struct {
	Name      string
	Namespace string
}

func (err UnknownWordError) Error() string {
	return fmt.Sprintf("unknown word %s:%s", err.Namespace, err.Name)
}
