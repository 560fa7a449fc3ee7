package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hasznalt/apiserver/internal/auth"
	"github.com/hasznalt/apiserver/internal/logging"
	"github.com/hasznalt/apiserver/internal/store"
	"github.com/hasznalt/apiserver/types"
)

var (
	// ErrNotFound is returned when no account or session matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the username is already registered.
	ErrConflict = errors.New("account already exists")
	// ErrInvalidCookie is returned when the session cookie cannot be decoded.
	ErrInvalidCookie = errors.New("invalid session cookie")
	// ErrInvalidSession is returned when a session exists but is bound to a
	// different client or account.
	ErrInvalidSession = errors.New("invalid session")
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	FindAccountByUsername(ctx context.Context, username string) (types.Account, error)
	ListAccountsByUsername(ctx context.Context, username string) ([]types.Account, error)
	FindAccountByID(ctx context.Context, id int) (types.Account, error)
	InsertAccount(ctx context.Context, account types.Account) (int64, error)
}

// SessionRepository defines persistence operations for authorized sessions.
type SessionRepository interface {
	InsertSession(ctx context.Context, session types.Session) (int64, error)
	FindSessionByID(ctx context.Context, sessionID string) (types.Session, error)
}

// AccountService encapsulates registration, login and session use-cases.
type AccountService struct {
	accounts AccountRepository
	sessions SessionRepository
	cookies  *auth.CookieCodec
	log      logging.Logger
	newID    func() (uuid.UUID, error)
}

func NewAccountService(accounts AccountRepository, sessions SessionRepository, cookies *auth.CookieCodec, log logging.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		sessions: sessions,
		cookies:  cookies,
		log:      log.With("component", "accounts"),
		newID:    uuid.NewV7,
	}
}

// Register creates an account for username unless one already exists and
// returns the number of rows written.
func (s *AccountService) Register(ctx context.Context, username, password string) (int64, error) {
	if _, err := s.accounts.FindAccountByUsername(ctx, username); err == nil {
		s.log.Info(ctx, "registration rejected, username taken", "username", username)
		return 0, ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("check username: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	written, err := s.accounts.InsertAccount(ctx, types.Account{
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Info(ctx, "registration lost race on username", "username", username)
			return 0, ErrConflict
		}
		return 0, err
	}

	s.log.Info(ctx, "account registered", "username", username)
	return written, nil
}

// Login returns the first account named username whose stored hash matches
// password.
func (s *AccountService) Login(ctx context.Context, username, password string) (types.Account, error) {
	candidates, err := s.accounts.ListAccountsByUsername(ctx, username)
	if err != nil {
		return types.Account{}, err
	}

	for _, account := range candidates {
		ok, err := auth.VerifyPassword(password, account.PasswordHash)
		if err != nil {
			s.log.Warn(ctx, "stored password hash unreadable", "account_id", account.ID, "error", err)
			continue
		}
		if ok {
			return account, nil
		}
	}

	s.log.Info(ctx, "login failed", "username", username, "candidates", len(candidates))
	return types.Account{}, ErrNotFound
}

// EstablishSession issues a new session for account bound to fingerprint and
// returns the value to store in the session cookie.
func (s *AccountService) EstablishSession(ctx context.Context, account types.Account, fingerprint string) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	session := types.Session{
		SessionID:       id.String(),
		ClientSignature: fingerprint,
		AccountID:       account.ID,
	}
	if _, err := s.sessions.InsertSession(ctx, session); err != nil {
		return "", err
	}

	value, err := s.cookies.Encode(auth.CookiePayload{SessionID: session.SessionID, AccountID: account.ID})
	if err != nil {
		return "", fmt.Errorf("encode session cookie: %w", err)
	}
	return value, nil
}

// ValidateSession resolves a cookie value to its stored session. The session
// is accepted only when it was issued to a client with the same fingerprint.
func (s *AccountService) ValidateSession(ctx context.Context, cookieValue, fingerprint string) (types.Session, error) {
	payload, err := s.cookies.Decode(cookieValue)
	if err != nil {
		return types.Session{}, ErrInvalidCookie
	}

	session, err := s.sessions.FindSessionByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, err
	}

	if session.AccountID != payload.AccountID {
		s.log.Warn(ctx, "session rejected, account mismatch", "session_id", session.SessionID)
		return types.Session{}, ErrInvalidSession
	}
	if !auth.FingerprintsMatch(session.ClientSignature, fingerprint) {
		s.log.Info(ctx, "session rejected, fingerprint mismatch", "session_id", session.SessionID)
		return types.Session{}, ErrInvalidSession
	}

	return session, nil
}

// LookupAccount loads an account by id.
func (s *AccountService) LookupAccount(ctx context.Context, id int) (types.Account, error) {
	account, err := s.accounts.FindAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}
