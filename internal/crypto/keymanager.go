// Package crypto manages the wallet key: password-protected key files and
// transaction signing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	DefaultIterations = 480_000
	minIterations     = 1_000
	saltLen           = 16
	aesKeyLen         = 32

	// Version 1 files predate the iterations field and always used
	// DefaultIterations.
	versionFixedIterations = 1
	currentVersion         = 2
)

// ErrWrongPassword is returned when a key file fails authentication.
var ErrWrongPassword = errors.New("crypto: decryption failed (wrong password?)")

// keyFile is the on-disk format for an encrypted private key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x prefix).
	RawPrivateKey string
	// EncryptedKeyPath is a file produced by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey encrypts a hex-encoded private key under password with
// PBKDF2-HMAC-SHA256 and AES-256-GCM, returning the key file contents.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	return EncryptKeyWithIterations(privateKeyHex, password, DefaultIterations)
}

// EncryptKeyWithIterations is EncryptKey with an explicit PBKDF2 cost.
func EncryptKeyWithIterations(privateKeyHex, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations < minIterations {
		return nil, fmt.Errorf("crypto: iterations %d below minimum %d", iterations, minIterations)
	}

	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyFile{
		Version:    currentVersion,
		Address:    signer.Address().Hex(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey decrypts a key file, returning the hex-encoded private key
// without 0x prefix.
func DecryptKey(encrypted []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(encrypted, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	iterations := stored.Iterations
	switch stored.Version {
	case versionFixedIterations:
		iterations = DefaultIterations
	case currentVersion:
		if iterations < minIterations {
			return "", fmt.Errorf("crypto: key file iterations %d below minimum", iterations)
		}
	default:
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	return hex.EncodeToString(plaintext), nil
}

// KeyFileAddress returns the address recorded in a key file without
// decrypting it. Version 1 files carry none.
func KeyFileAddress(encrypted []byte) (string, error) {
	var stored keyFile
	if err := json.Unmarshal(encrypted, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if stored.Address == "" {
		return "", errors.New("crypto: key file has no address")
	}
	return stored.Address, nil
}

// WriteKeyFile writes data readable only by the owner. An existing file is
// never overwritten.
func WriteKeyFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return f.Close()
}

// LoadKey resolves a private key from cfg. A raw key wins over a key file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(strings.TrimSpace(cfg.RawPrivateKey), "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no private key source configured (set wallet.private_key or wallet.encrypted_key_path)")
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
