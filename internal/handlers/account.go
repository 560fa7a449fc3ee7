package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hasznalt/apiserver/internal/auth"
	"github.com/hasznalt/apiserver/internal/logging"
	"github.com/hasznalt/apiserver/internal/services"
)

const maxBodyBytes = 1 << 20

// AccountHandler provides the account and session endpoints.
type AccountHandler struct {
	accountService *services.AccountService
	cookies        *auth.CookieCodec
	log            logging.Logger
}

// NewAccountHandler constructs an AccountHandler with the provided dependencies.
func NewAccountHandler(accountService *services.AccountService, cookies *auth.CookieCodec, log logging.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		cookies:        cookies,
		log:            log,
	}
}

// AccountRouter registers account routes on the given router.
func AccountRouter(r chi.Router, accountService *services.AccountService, cookies *auth.CookieCodec, log logging.Logger) {
	handler := NewAccountHandler(accountService, cookies, log)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/id_lookup", handler.IDLookup)
	r.With(handler.RequireSession).Post("/account", handler.Account)
	r.Post("/logout", handler.Logout)
}

// RequireSession validates the session cookie and injects the session into
// the request context.
func (h *AccountHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.SessionCookieName)
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing session cookie")
			return
		}

		session, err := h.accountService.ValidateSession(r.Context(), cookie.Value, auth.Fingerprint(r.Header))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidCookie):
				writeError(w, http.StatusBadRequest, "malformed session cookie")
			case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrInvalidSession):
				writeError(w, http.StatusNotFound, "session not found")
			default:
				h.internalError(w, r, "failed to validate session", err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), contextSessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a new account.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	written, err := h.accountService.Register(r.Context(), *req.Username, *req.Password)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			writeError(w, http.StatusFound, "account already exists")
			return
		}
		h.internalError(w, r, "failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{RowsWritten: written})
}

// Login verifies credentials, issues a session cookie and returns the account.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	account, err := h.accountService.Login(r.Context(), *req.Username, *req.Password)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.internalError(w, r, "failed to authenticate", err)
		return
	}

	value, err := h.accountService.EstablishSession(r.Context(), account, auth.Fingerprint(r.Header))
	if err != nil {
		h.internalError(w, r, "failed to create session", err)
		return
	}

	http.SetCookie(w, h.cookies.Cookie(value))
	writeJSON(w, http.StatusOK, account.Public())
}

// IDLookup returns the public view of an account by id.
func (h *AccountHandler) IDLookup(w http.ResponseWriter, r *http.Request) {
	id, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeAccount(w, r, id)
}

// Account returns the account owning the current session.
func (h *AccountHandler) Account(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing session cookie")
		return
	}

	h.writeAccount(w, r, session.AccountID)
}

// Logout clears the session cookie on the client.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookies.ExpiredCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) writeAccount(w http.ResponseWriter, r *http.Request, id int) {
	account, err := h.accountService.LookupAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.internalError(w, r, "failed to load account", err)
		return
	}

	writeJSON(w, http.StatusOK, account.Public())
}

func (h *AccountHandler) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.log.Error(r.Context(), message, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, message)
}

// CredentialsRequest is the register and login body. Both keys must be
// present; empty strings are allowed.
type CredentialsRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type RegisterResponse struct {
	RowsWritten int64 `json:"rows_written"`
}

type idLookupRequest struct {
	ID *int `json:"id"`
}

// parseAccountID accepts either a bare JSON integer or {"id": N}.
func parseAccountID(r *http.Request) (int, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return 0, errors.New("invalid request")
	}
	body = bytes.TrimSpace(body)

	var id int
	if err := json.Unmarshal(body, &id); err != nil {
		var req idLookupRequest
		if err := json.Unmarshal(body, &req); err != nil || req.ID == nil {
			return 0, errors.New("invalid account id")
		}
		id = *req.ID
	}
	if id < 1 {
		return 0, errors.New("invalid account id")
	}
	return id, nil
}

var (
	errMissingField = errors.New("missing field")
	errTrailingData = errors.New("unexpected data after JSON value")
)

func decodeCredentials(r *http.Request) (CredentialsRequest, error) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		return CredentialsRequest{}, err
	}
	if req.Username == nil || req.Password == nil {
		return CredentialsRequest{}, errMissingField
	}
	return req, nil
}

// decodeJSON decodes exactly one JSON value from the body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

