package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

var fingerprintHeaders = []string{"User-Agent", "Accept-Language"}

// Fingerprint derives the client signature bound to a session from the
// request headers. It is empty when none of the headers are present.
func Fingerprint(h http.Header) string {
	values := make([]string, len(fingerprintHeaders))
	empty := true
	for i, name := range fingerprintHeaders {
		values[i] = strings.TrimSpace(h.Get(name))
		if values[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(values, "\n")))
	return hex.EncodeToString(sum[:])
}

// FingerprintsMatch compares two fingerprints in constant time.
func FingerprintsMatch(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
