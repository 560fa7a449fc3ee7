package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hasznalt/apiserver/types"
	"github.com/jmoiron/sqlx"
)

// SessionRepository handles persistence for authorized sessions.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) InsertSession(ctx context.Context, session types.Session) (int64, error) {
	const query = `
		INSERT INTO authorized_sessions (session_id, client_signature, account_id)
		VALUES ($1, $2, $3)`
	var written int64
	err := withTx(ctx, r.db, false, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, session.SessionID, session.ClientSignature, session.AccountID)
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
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return written, nil
}

func (r *SessionRepository) FindSessionByID(ctx context.Context, sessionID string) (types.Session, error) {
	const query = `
		SELECT session_id, client_signature, account_id, created_at
		FROM authorized_sessions
		WHERE session_id = $1`
	var session types.Session
	err := withTx(ctx, r.db, true, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &session, query, sessionID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}
