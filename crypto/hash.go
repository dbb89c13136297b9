package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EmptyRoot is the root of an empty transaction or rejection list.
var EmptyRoot = Hash([]byte("empty"))

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	return hex.EncodeToString(HashBytes(data))
}

func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// HashJSON hashes the JSON encoding of v. Struct fields encode in
// declaration order and map keys sorted, so equal values hash equally.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %T: %w", v, err)
	}
	return Hash(data), nil
}

// HashTagged hashes data under a domain tag so that hashes from different
// contexts cannot collide.
func HashTagged(tag string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
