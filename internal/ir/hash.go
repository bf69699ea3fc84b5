package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainQuery = "livekv/query/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryHash computes the content-addressed identity of a query description.
// Equal descriptions (after canonicalization) hash identically.
func QueryHash(desc Object) (string, error) {
	canonical, err := MarshalCanonical(desc)
	if err != nil {
		return "", fmt.Errorf("QueryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustQueryHash is like QueryHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustQueryHash(desc Object) string {
	h, err := QueryHash(desc)
	if err != nil {
		panic(err)
	}
	return h
}
