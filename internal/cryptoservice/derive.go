package cryptoservice

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfExpand derives n bytes from secret using HKDF-SHA-256 with info
// as the context string and no salt, matching the FIDO PIN-protocol
// key-derivation step in spec.md §4.8.
func hkdfExpand(secret, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
