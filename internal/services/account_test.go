package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hasznalt/apiserver/internal/auth"
	"github.com/hasznalt/apiserver/internal/logging"
	"github.com/hasznalt/apiserver/internal/store"
	"github.com/hasznalt/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryAccounts mirrors the store semantics, including the unique username
// constraint, without a database.
type memoryAccounts struct {
	mu       sync.Mutex
	rows     []types.Account
	inserts  int
	findErr  error
	unique   bool
	skipFind bool
}

func (m *memoryAccounts) FindAccountByUsername(ctx context.Context, username string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return types.Account{}, m.findErr
	}
	if m.skipFind {
		return types.Account{}, store.ErrNotFound
	}
	for _, a := range m.rows {
		if a.Username == username {
			return a, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memoryAccounts) ListAccountsByUsername(ctx context.Context, username string) ([]types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Account
	for _, a := range m.rows {
		if a.Username == username {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAccounts) FindAccountByID(ctx context.Context, id int) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ID == id {
			return a, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memoryAccounts) InsertAccount(ctx context.Context, account types.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unique {
		for _, a := range m.rows {
			if a.Username == account.Username {
				return 0, store.ErrConflict
			}
		}
	}
	m.inserts++
	account.ID = len(m.rows) + 1
	account.CreatedAt = time.Now().UTC().Truncate(24 * time.Hour)
	m.rows = append(m.rows, account)
	return 1, nil
}

type memorySessions struct {
	mu   sync.Mutex
	rows map[string]types.Session
	err  error
}

func (m *memorySessions) InsertSession(ctx context.Context, session types.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.rows == nil {
		m.rows = make(map[string]types.Session)
	}
	session.CreatedAt = time.Now()
	m.rows[session.SessionID] = session
	return 1, nil
}

func (m *memorySessions) FindSessionByID(ctx context.Context, sessionID string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok {
		return types.Session{}, store.ErrNotFound
	}
	return s, nil
}

func newTestService(t *testing.T) (*AccountService, *memoryAccounts, *memorySessions) {
	t.Helper()
	accounts := &memoryAccounts{unique: true}
	sessions := &memorySessions{}
	svc := NewAccountService(accounts, sessions, auth.NewCookieCodec("test-secret", false), logging.Discard())
	return svc, accounts, sessions
}

func TestRegister_StoresHashedPassword(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	ctx := context.Background()

	written, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.EqualValues(t, 1, written)

	stored, err := accounts.FindAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
	assert.NotEqual(t, "pw", stored.PasswordHash)

	ok, err := auth.VerifyPassword("pw", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, accounts.inserts)
	assert.Len(t, accounts.rows, 1)
}

func TestRegister_UsernamesAreCaseSensitive(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Alice", "pw")
	require.NoError(t, err)

	assert.Len(t, accounts.rows, 2)
}

func TestRegister_RaceReportedAsConflict(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	// A concurrent registration that passed the existence check before the
	// first insert committed.
	accounts.skipFind = true
	_, err = svc.Register(ctx, "alice", "pw")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, accounts.rows, 1)
}

func TestRegister_AcceptsEmptyCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	written, err := svc.Register(context.Background(), "", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, written)

	account, err := svc.Login(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "", account.Username)
}

func TestRegister_StorageFailure(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	accounts.findErr = errors.New("pool exhausted")

	_, err := svc.Register(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Zero(t, accounts.inserts)
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	account, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, 1, account.ID)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, password := range []string{"", "pw", "anything"} {
		_, err = svc.Login(ctx, "nobody", password)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestLogin_FirstMatchingCandidateWins(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	ctx := context.Background()

	first, err := auth.HashPassword("one")
	require.NoError(t, err)
	second, err := auth.HashPassword("two")
	require.NoError(t, err)
	accounts.rows = []types.Account{
		{ID: 1, Username: "dup", PasswordHash: "not-a-phc-string"},
		{ID: 2, Username: "dup", PasswordHash: first},
		{ID: 3, Username: "dup", PasswordHash: second},
	}

	account, err := svc.Login(ctx, "dup", "two")
	require.NoError(t, err)
	assert.Equal(t, 3, account.ID)

	account, err = svc.Login(ctx, "dup", "one")
	require.NoError(t, err)
	assert.Equal(t, 2, account.ID)
}

func TestEstablishAndValidateSession(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	account, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	cookie, err := svc.EstablishSession(ctx, account, "fingerprint-a")
	require.NoError(t, err)
	require.Len(t, sessions.rows, 1)

	session, err := svc.ValidateSession(ctx, cookie, "fingerprint-a")
	require.NoError(t, err)
	assert.Equal(t, account.ID, session.AccountID)
	assert.Equal(t, "fingerprint-a", session.ClientSignature)

	parsed, err := uuid.Parse(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	_, err = svc.ValidateSession(ctx, cookie, "fingerprint-b")
	assert.ErrorIs(t, err, ErrInvalidSession)

	owner, err := svc.LookupAccount(ctx, session.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner.Username)
}

func TestEstablishSession_TokensAreUnique(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	account := types.Account{ID: 1, Username: "alice"}

	cookies := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		cookie, err := svc.EstablishSession(ctx, account, "")
		require.NoError(t, err)
		cookies[cookie] = struct{}{}
	}

	assert.Len(t, sessions.rows, 5)
	assert.Len(t, cookies, 5)
}

func TestEstablishSession_EmptyFingerprint(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cookie, err := svc.EstablishSession(ctx, types.Account{ID: 1}, "")
	require.NoError(t, err)

	_, err = svc.ValidateSession(ctx, cookie, "")
	require.NoError(t, err)

	_, err = svc.ValidateSession(ctx, cookie, "some-fingerprint")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestEstablishSession_Failures(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()

	svc.newID = func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy") }
	_, err := svc.EstablishSession(ctx, types.Account{ID: 1}, "")
	assert.ErrorContains(t, err, "generate session id")

	svc.newID = uuid.NewV7
	sessions.err = errors.New("db down")
	_, err = svc.EstablishSession(ctx, types.Account{ID: 1}, "")
	assert.ErrorContains(t, err, "db down")
}

func TestValidateSession_Rejections(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	codec := auth.NewCookieCodec("test-secret", false)

	_, err := svc.ValidateSession(ctx, "garbage", "fp")
	assert.ErrorIs(t, err, ErrInvalidCookie)

	unknown, err := codec.Encode(auth.CookiePayload{SessionID: "missing", AccountID: 1})
	require.NoError(t, err)
	_, err = svc.ValidateSession(ctx, unknown, "fp")
	assert.ErrorIs(t, err, ErrNotFound)

	sessions.rows = map[string]types.Session{
		"sid": {SessionID: "sid", ClientSignature: "fp", AccountID: 2},
	}
	otherAccount, err := codec.Encode(auth.CookiePayload{SessionID: "sid", AccountID: 3})
	require.NoError(t, err)
	_, err = svc.ValidateSession(ctx, otherAccount, "fp")
	assert.ErrorIs(t, err, ErrInvalidSession)

	foreign, err := auth.NewCookieCodec("other", false).Encode(auth.CookiePayload{SessionID: "sid", AccountID: 2})
	require.NoError(t, err)
	_, err = svc.ValidateSession(ctx, foreign, "fp")
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestLookupAccount(t *testing.T) {
	svc, accounts, _ := newTestService(t)
	accounts.rows = []types.Account{{ID: 4, Username: "dora"}}

	account, err := svc.LookupAccount(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "dora", account.Username)

	_, err = svc.LookupAccount(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
