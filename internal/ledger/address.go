package ledger

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
)

const (
	addressLen   = 58
	publicKeyLen = 32
	checksumLen  = 4
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ValidAddress reports whether s is a well-formed account address: base32 of
// a 32-byte public key followed by the last 4 bytes of its SHA-512/256.
func ValidAddress(s string) bool {
	if len(s) != addressLen {
		return false
	}
	raw, err := addressEncoding.DecodeString(s)
	if err != nil || len(raw) != publicKeyLen+checksumLen {
		return false
	}
	sum := sha512.Sum512_256(raw[:publicKeyLen])
	return bytes.Equal(sum[len(sum)-checksumLen:], raw[publicKeyLen:])
}
