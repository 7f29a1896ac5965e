// Package idgen generates the stable per-entry identifiers used as keys
// into the Entry State Store and the Artifact Repository's content-
// addressed layout.
package idgen

import (
	"math/big"

	"github.com/google/uuid"
)

// base62Alphabet is ordered so the encoding is monotonic-ish under byte
// comparison for debugging convenience; it has no bearing on correctness.
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// idLength is the fixed length of a generated id, per spec §3 ("22-char
// random"). A version-4 UUID carries 122 bits of randomness; base62
// needs ceil(122/log2(62)) ~= 21 digits to represent that losslessly, so
// 22 characters with left-padding always suffices.
const idLength = 22

// New returns a fresh 22-character base62 identifier derived from a
// random (version 4) UUID. Ids are opaque; callers must not parse them.
func New() string {
	return encode(uuid.New())
}

// encode converts the 128 bits of u into a fixed-width base62 string,
// left-padded with the alphabet's zero digit so all generated ids share
// idLength, which keeps the storage layout's 4-level directory fan-out
// well-formed (StorageKeyForID slices the first 8 characters).
func encode(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	base := big.NewInt(int64(len(base62Alphabet)))
	zero := big.NewInt(0)
	mod := new(big.Int)

	var digits []byte
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, base62Alphabet[mod.Int64()])
	}
	// digits were generated least-significant first; reverse into place.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	if len(digits) >= idLength {
		return string(digits[len(digits)-idLength:])
	}
	padded := make([]byte, idLength)
	pad := idLength - len(digits)
	for i := 0; i < pad; i++ {
		padded[i] = base62Alphabet[0]
	}
	copy(padded[pad:], digits)
	return string(padded)
}

// IsCordID reports whether id looks like a CORD-19 cord_uid (an 8
// character lowercase alphanumeric token) rather than a generated
// base62 id, so callers can decide whether to pass an input-provided id
// through unchanged.
func IsCordID(id string) bool {
	if len(id) != 8 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
