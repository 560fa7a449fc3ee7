package types

import "time"

// Session is an authorized login bound to the client that obtained it.
type Session struct {
	// SessionID is the time-ordered token issued at login.
	SessionID string `json:"session_id" db:"session_id"`

	// ClientSignature is the request fingerprint captured at login.
	// Empty when the client sent no identifying headers.
	ClientSignature string `json:"client_signature" db:"client_signature"`

	// AccountID references the owning account.
	AccountID int `json:"account_id" db:"account_id"`

	// CreatedAt records when the session was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
