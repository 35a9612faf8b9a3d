package encryption

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	sealVersion    = "v1"
	sealDataExpiry = 30 * time.Minute
)

type envelope struct {
	EncryptedData string `json:"encrypted_data"`
	IV            string `json:"iv"`
	Timestamp     int64  `json:"timestamp"`
}

type sealedPayload struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

// Sealer is the hardened variant of Cipher used for at-rest token
// storage: a fresh random IV per message, a versioned inner payload,
// and a 30-minute expiry baked into the envelope.
type Sealer struct {
	key []byte
	now func() time.Time
}

// NewSealer creates a Sealer from a key of at least 16 characters. The
// key is stretched to 32 bytes the same way Cipher stretches its key.
func NewSealer(key string) (*Sealer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("%w: key must be at least 16 characters", ErrNotConfigured)
	}
	return &Sealer{key: stretchKey(key), now: time.Now}, nil
}

// Seal encrypts v into a base64 envelope carrying the ciphertext, the
// per-message IV, and the seal time.
func (s *Sealer) Seal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	inner, err := json.Marshal(sealedPayload{
		Data:      data,
		Timestamp: s.now().UnixMilli(),
		Version:   sealVersion,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, err := encryptCBC(inner, s.key, iv)
	if err != nil {
		return "", err
	}

	env, err := json.Marshal(envelope{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		IV:            hex.EncodeToString(iv),
		Timestamp:     s.now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(env), nil
}

// Open reverses Seal. It fails when the envelope is older than 30
// minutes or the inner payload carries an unknown version.
func (s *Sealer) Open(sealed string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return fmt.Errorf("%w: invalid envelope encoding", ErrDecryptionFailed)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}

	if s.now().UnixMilli()-env.Timestamp > sealDataExpiry.Milliseconds() {
		return fmt.Errorf("%w: payload expired", ErrDecryptionFailed)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return fmt.Errorf("%w: invalid IV", ErrDecryptionFailed)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}

	plaintext, err := decryptCBC(ciphertext, s.key, iv)
	if err != nil {
		return err
	}

	var inner sealedPayload
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return fmt.Errorf("%w: invalid payload", ErrDecryptionFailed)
	}
	if inner.Version != sealVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrDecryptionFailed, inner.Version)
	}

	if err := json.Unmarshal(inner.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return nil
}
