package state

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fixedlend/native/oracle"
	"fixedlend/storage"
)

var oracleSnapshotKey = ethcrypto.Keccak256([]byte("oracle/snapshot"))

// OracleStore keeps the price snapshot installed through governance so the
// daemon restarts on the same feed.
type OracleStore struct {
	db storage.Database
}

// NewOracleStore wraps db. The store does not own the database.
func NewOracleStore(db storage.Database) *OracleStore {
	return &OracleStore{db: db}
}

// Snapshot returns the stored snapshot. ok is false when none was stored.
func (s *OracleStore) Snapshot() (snap oracle.Snapshot, ok bool, err error) {
	data, err := s.db.Get(oracleSnapshotKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return oracle.Snapshot{}, false, nil
	}
	if err != nil {
		return oracle.Snapshot{}, false, err
	}
	snap, err = oracle.DecodeSnapshot(data)
	if err != nil {
		return oracle.Snapshot{}, false, err
	}
	return snap, true, nil
}

// PutSnapshot replaces the stored snapshot.
func (s *OracleStore) PutSnapshot(snap oracle.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	return s.db.Put(oracleSnapshotKey, data)
}
