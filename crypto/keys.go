// Package crypto holds the ed25519 identities that sign transactions and
// blocks. A player's address is the hex form of their public key.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a signature does not match its data.
var ErrBadSignature = errors.New("signature verification failed")

type (
	PrivateKey []byte
	PublicKey  []byte
)

// GenerateKeyPair creates a fresh ed25519 identity.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

func (priv PrivateKey) Hex() string { return hex.EncodeToString(priv) }

// Sign returns the hex signature of data.
func (priv PrivateKey) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Hex is the on-chain address form of the key.
func (pub PublicKey) Hex() string { return hex.EncodeToString(pub) }

// Address is a short display form: the first 20 bytes of SHA-256(pubkey).
// Ledger entries are keyed by Hex, never by Address.
func (pub PublicKey) Address() string {
	return hex.EncodeToString(HashBytes(pub)[:20])
}

// Verify checks a hex signature produced by PrivateKey.Sign.
func (pub PublicKey) Verify(data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// ParsePublicKey decodes an address back into a key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := decodeSized("public key", s, ed25519.PublicKeySize)
	return PublicKey(b), err
}

func ParsePrivateKey(s string) (PrivateKey, error) {
	b, err := decodeSized("private key", s, ed25519.PrivateKeySize)
	return PrivateKey(b), err
}

// IsAddress reports whether s is a well-formed player address.
func IsAddress(s string) bool {
	_, err := ParsePublicKey(s)
	return err == nil
}

// VerifyFrom checks that sigHex is addr's signature over data.
func VerifyFrom(addr string, data []byte, sigHex string) error {
	pub, err := ParsePublicKey(addr)
	if err != nil {
		return err
	}
	return pub.Verify(data, sigHex)
}

func decodeSized(what, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}
