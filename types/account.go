package types

import "time"

// Account represents a registered user of the site.
// It is the internal view and carries the password hash.
type Account struct {
	// ID is the server-assigned surrogate key.
	ID int `json:"id" db:"id"`

	// Username is the login name chosen at registration. Case-sensitive.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the encoded Argon2id hash of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the date the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PublicAccount is the client-facing projection of an Account.
type PublicAccount struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// Public projects the account to the fields clients may see.
// CreatedAt is rendered as a calendar date.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Username:  a.Username,
		CreatedAt: a.CreatedAt.Format(time.DateOnly),
	}
}
