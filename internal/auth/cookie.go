package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session_id"

// ErrMalformedCookie is returned when a cookie value cannot be decoded.
var ErrMalformedCookie = errors.New("malformed session cookie")

// CookiePayload is what the client holds between requests.
type CookiePayload struct {
	SessionID string
	AccountID int
}

// CookieCodec signs and verifies session cookie values.
type CookieCodec struct {
	secret []byte
	secure bool
}

func NewCookieCodec(secret string, secure bool) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), secure: secure}
}

// Encode returns the signed cookie value for payload.
func (c *CookieCodec) Encode(payload CookiePayload) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:      payload.SessionID,
		Subject: strconv.Itoa(payload.AccountID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies value and extracts its payload.
func (c *CookieCodec) Decode(value string) (CookiePayload, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return CookiePayload{}, ErrMalformedCookie
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return CookiePayload{}, ErrMalformedCookie
	}

	sessionID := strings.TrimSpace(claims.ID)
	accountID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if sessionID == "" || err != nil || accountID < 1 {
		return CookiePayload{}, ErrMalformedCookie
	}

	return CookiePayload{SessionID: sessionID, AccountID: accountID}, nil
}

// Cookie builds the Set-Cookie value for an encoded session.
func (c *CookieCodec) Cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie instructs the client to drop its session cookie.
func (c *CookieCodec) ExpiredCookie() *http.Cookie {
	cookie := c.Cookie("")
	cookie.MaxAge = -1
	return cookie
}
