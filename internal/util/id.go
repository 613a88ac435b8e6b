// Package util provides shared utility functions.
package util

import (
	"crypto/rand"
	"math/big"
)

// identityAlphabet excludes nothing — collisions are accepted as out of
// scope, so there is no need to avoid ambiguous characters.
const identityAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewIdentity returns a random uppercase alphanumeric identity of the
// given length. It identifies this endpoint for the lifetime of the
// process and is not guaranteed globally unique.
func NewIdentity(length int) string {
	chars := make([]byte, length)
	for i := range chars {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(identityAlphabet))))
		chars[i] = identityAlphabet[n.Int64()]
	}
	return string(chars)
}
