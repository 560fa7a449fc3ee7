package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// withTx checks a connection out of the pool, runs fn inside a transaction
// and commits, or rolls back when fn fails or panics.
func withTx(ctx context.Context, db *sqlx.DB, readOnly bool, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
