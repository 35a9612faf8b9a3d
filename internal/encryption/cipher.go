package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotConfigured    = errors.New("encryption not configured")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyConfig carries the cipher key material. Key and IV must each be at
// least 16 characters.
type KeyConfig struct {
	Key string
	IV  string
}

// Cipher encrypts outbound payloads with AES-256-CBC and PKCS7 padding.
// The key is stretched to 32 bytes by repeating it, and the IV is taken
// verbatim from configuration, so every message under one config shares
// an IV. Both properties mirror the upstream API's expectations and
// weaken the scheme; treat it as payload obfuscation for a cooperating
// endpoint, not a security boundary.
type Cipher struct {
	mu  sync.RWMutex
	cfg *KeyConfig
}

func NewCipher() *Cipher {
	return &Cipher{}
}

// SetConfig installs key material. Both key and IV must be at least 16
// characters.
func (c *Cipher) SetConfig(cfg KeyConfig) error {
	if len(cfg.Key) < 16 || len(cfg.IV) < 16 {
		return fmt.Errorf("%w: key and IV must be at least 16 characters", ErrNotConfigured)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = &cfg
	return nil
}

// IsConfigured reports whether key material has been installed.
func (c *Cipher) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg != nil
}

// ClearConfig removes the installed key material.
func (c *Cipher) ClearConfig() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = nil
}

// Encrypt JSON-marshals v and encrypts it, returning base64 ciphertext.
// Returns ErrNotConfigured when no key material is installed.
func (c *Cipher) Encrypt(v interface{}) (string, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if cfg == nil {
		return "", ErrNotConfigured
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, err := encryptCBC(plaintext, stretchKey(cfg.Key), ivBytes(cfg.IV))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt, unmarshaling the plaintext into out.
func (c *Cipher) Decrypt(ciphertext string, out interface{}) error {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if cfg == nil {
		return ErrNotConfigured
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	plaintext, err := decryptCBC(raw, stretchKey(cfg.Key), ivBytes(cfg.IV))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return nil
}

func encryptCBC(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func decryptCBC(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length not a block multiple", ErrDecryptionFailed)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// stretchKey repeats the key until it covers 32 bytes and truncates.
func stretchKey(key string) []byte {
	if len(key) >= 32 {
		return []byte(key[:32])
	}
	return []byte(strings.Repeat(key, 32/len(key)+1)[:32])
}

// ivBytes takes the first 16 bytes of the configured IV string.
func ivBytes(iv string) []byte {
	return []byte(iv[:aes.BlockSize])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrDecryptionFailed)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptionFailed)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryptionFailed)
		}
	}
	return data[:len(data)-padding], nil
}
