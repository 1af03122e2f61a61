// tokens.go - Pickup code allocation and download token helpers.
package server

import (
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// codeAlphabet is the pickup code character set: uppercase letters and
// digits, easy to read out loud and type on a phone.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	maxCodeAttempts = 64
	maxCodeLength   = 12
)

var errCodeSpaceExhausted = errors.New("pickup code space exhausted")

// randomCode draws length characters independently and uniformly from the
// code alphabet. Rejection sampling avoids modulo bias.
func randomCode(length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, 1)
	// 252 is the largest multiple of 36 below 256.
	const limit = 252
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		if buf[0] >= limit {
			continue
		}
		out = append(out, codeAlphabet[int(buf[0])%len(codeAlphabet)])
	}
	return string(out), nil
}

// newPickupCode generates a code that does not collide with any live
// group's code. Generation is retried a bounded number of times per
// length, then the length grows by one; running out entirely would need
// the registry to hold most of a 36^12 space.
func newPickupCode(length int, taken map[string]bool) (string, error) {
	for l := length; l <= maxCodeLength; l++ {
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := randomCode(l)
			if err != nil {
				return "", err
			}
			if !taken[code] {
				return code, nil
			}
		}
	}
	return "", errCodeSpaceExhausted
}

// newDownloadToken mints an opaque unguessable token. Validity is defined
// by equality with the group's stored active token, so issuance replaces
// the previous token wholesale.
func newDownloadToken() string {
	return uuid.NewString()
}

// tokenEqual compares tokens in constant time.
func tokenEqual(stored, presented string) bool {
	return hmac.Equal([]byte(stored), []byte(presented))
}
