package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1:"

// ErrInvalidCiphertext signals a blob that is malformed or was sealed with a
// different key.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Encryptor seals secrets at rest: provider credentials and merchant webhook
// secrets.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// KeyParams are the Argon2id parameters used to derive the sealing key.
type KeyParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// Cipher implements Encryptor with XChaCha20-Poly1305.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 256-bit key from the configured passphrase and salt.
func NewCipher(cfg config.EncryptionConfig) (*Cipher, error) {
	if strings.TrimSpace(cfg.Passphrase) == "" {
		return nil, fmt.Errorf("encryption passphrase is required")
	}
	if len(cfg.Salt) < 8 {
		return nil, fmt.Errorf("encryption salt must be at least 8 bytes")
	}

	params := paramsFromConfig(cfg)
	key := argon2.IDKey([]byte(cfg.Passphrase), []byte(cfg.Salt), params.Time, params.Memory, params.Parallelism, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns "v1:" followed by base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	nonce, body := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

func paramsFromConfig(cfg config.EncryptionConfig) KeyParams {
	threads := clampInt(cfg.ArgonParallelism, 1, 255)
	return KeyParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clampUint32(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(threads),
	}
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}
