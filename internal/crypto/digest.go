package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestBytes returns the raw SHA-256 digest bytes.
func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return "sha256:" + DigestHex(data)
}

// CanonicalDigest canonicalizes v and returns the prefixed digest together with the canonical bytes.
func CanonicalDigest(v any) (string, []byte, error) {
	body, err := Canonicalize(v)
	if err != nil {
		return "", nil, err
	}
	return DigestWithPrefix(body), body, nil
}
