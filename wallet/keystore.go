package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tolelom/pantheon/crypto"
)

const (
	keystoreVersion = 2
	kdfIterations   = 210_000
	saltSize        = 16
)

var (
	ErrWrongPassword = errors.New("wrong password or corrupted keystore")
	ErrKeyMismatch   = errors.New("keystore key does not match its address")
)

// keystoreFile is the on-disk format. The address is kept in clear so a node
// can report its validator identity before it is unlocked.
type keystoreFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"kdf_iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey seals priv under password (PBKDF2-SHA256 then AES-256-GCM) and
// writes it to path with owner-only permissions.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	if password == "" {
		return errors.New("keystore password must not be empty")
	}
	salt, err := randomBytes(saltSize)
	if err != nil {
		return err
	}
	gcm, err := sealer(password, salt, kdfIterations)
	if err != nil {
		return err
	}
	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return err
	}
	address := priv.Public().Hex()

	data, err := json.MarshalIndent(keystoreFile{
		Version:    keystoreVersion,
		Address:    address,
		Iterations: kdfIterations,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(gcm.Seal(nil, nonce, priv, []byte(address))),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKey opens the keystore at path with password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return nil, err
	}
	salt, nonce, sealed, err := ks.decode()
	if err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	gcm, err := sealer(password, salt, ks.Iterations)
	if err != nil {
		return nil, err
	}
	raw, err := gcm.Open(nil, nonce, sealed, []byte(ks.Address))
	if err != nil {
		return nil, ErrWrongPassword
	}
	priv, err := crypto.ParsePrivateKey(hex.EncodeToString(raw))
	if err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	if priv.Public().Hex() != ks.Address {
		return nil, ErrKeyMismatch
	}
	return priv, nil
}

// KeyAddress returns the address stored in a keystore without unlocking it.
func KeyAddress(path string) (string, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return "", err
	}
	return ks.Address, nil
}

func readKeystore(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("keystore %s: unsupported version %d", path, ks.Version)
	}
	if !crypto.IsAddress(ks.Address) {
		return nil, fmt.Errorf("keystore %s: malformed address", path)
	}
	return &ks, nil
}

func (ks *keystoreFile) decode() (salt, nonce, sealed []byte, err error) {
	if salt, err = hex.DecodeString(ks.Salt); err != nil {
		return nil, nil, nil, fmt.Errorf("salt: %w", err)
	}
	if nonce, err = hex.DecodeString(ks.Nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("nonce: %w", err)
	}
	if sealed, err = hex.DecodeString(ks.CipherText); err != nil {
		return nil, nil, nil, fmt.Errorf("cipher text: %w", err)
	}
	return salt, nonce, sealed, nil
}

func sealer(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("invalid kdf iteration count %d", iterations)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
