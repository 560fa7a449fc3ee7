package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hasznalt/apiserver/types"
	"github.com/jmoiron/sqlx"
)

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindAccountByUsername(ctx context.Context, username string) (types.Account, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE username = $1
		ORDER BY id
		LIMIT 1`
	var account types.Account
	err := withTx(ctx, r.db, true, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &account, query, username)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("find account by username: %w", err)
	}
	return account, nil
}

// ListAccountsByUsername returns every account registered under username,
// oldest first. Databases created before the uniqueness constraint may hold
// more than one.
func (r *AccountRepository) ListAccountsByUsername(ctx context.Context, username string) ([]types.Account, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE username = $1
		ORDER BY id`
	var accounts []types.Account
	err := withTx(ctx, r.db, true, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &accounts, query, username)
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts by username: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) FindAccountByID(ctx context.Context, id int) (types.Account, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM accounts
		WHERE id = $1`
	var account types.Account
	err := withTx(ctx, r.db, true, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &account, query, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("find account by id: %w", err)
	}
	return account, nil
}

// InsertAccount writes a new account row and reports the rows written.
// ID and CreatedAt are assigned by the database.
func (r *AccountRepository) InsertAccount(ctx context.Context, account types.Account) (int64, error) {
	const query = `
		INSERT INTO accounts (username, password_hash)
		VALUES ($1, $2)`
	var written int64
	err := withTx(ctx, r.db, false, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, account.Username, account.PasswordHash)
		if err != nil {
			return err
		}
		written, err = result.RowsAffected()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return written, nil
}
