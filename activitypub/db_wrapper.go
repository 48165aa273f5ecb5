package activitypub

import (
	"context"

	"github.com/MbinOrg/mbin-sub001/db"
)

// DBStore adapts the SQLite database to the Store interface. *db.Tx already
// satisfies Tx, so only the transaction entry point needs wrapping.
type DBStore struct {
	db *db.DB
}

// NewDBStore wraps an open database.
func NewDBStore(database *db.DB) *DBStore {
	return &DBStore{db: database}
}

// NewDefaultDBStore wraps the process wide database singleton.
func NewDefaultDBStore() *DBStore {
	return &DBStore{db: db.GetDB()}
}

func (s *DBStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTx(ctx, func(tx *db.Tx) error {
		return fn(tx)
	})
}

var _ Tx = (*db.Tx)(nil)
