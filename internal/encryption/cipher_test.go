package encryption

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = KeyConfig{
	Key: "unit-test-key-0123456789",
	IV:  "unit-test-iv-4567",
}

func TestEncryptNotConfigured(t *testing.T) {
	c := NewCipher()

	_, err := c.Encrypt(map[string]string{"mobile_no": "9876543210"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = c.Decrypt("whatever", &map[string]string{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSetConfigRejectsShortMaterial(t *testing.T) {
	c := NewCipher()

	assert.Error(t, c.SetConfig(KeyConfig{Key: "short", IV: testConfig.IV}))
	assert.Error(t, c.SetConfig(KeyConfig{Key: testConfig.Key, IV: "short"}))
	assert.False(t, c.IsConfigured())

	require.NoError(t, c.SetConfig(testConfig))
	assert.True(t, c.IsConfigured())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewCipher()
	require.NoError(t, c.SetConfig(testConfig))

	payload := map[string]interface{}{
		"mobile_no":          "9876543210",
		"device_id":          "web",
		"condition_accepted": true,
		"whatsaap_consent":   true,
	}

	ciphertext, err := c.Encrypt(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotContains(t, ciphertext, "9876543210")

	var decrypted map[string]interface{}
	require.NoError(t, c.Decrypt(ciphertext, &decrypted))
	assert.Equal(t, "9876543210", decrypted["mobile_no"])
	assert.Equal(t, true, decrypted["condition_accepted"])
}

func TestEncryptDeterministicUnderFixedIV(t *testing.T) {
	c := NewCipher()
	require.NoError(t, c.SetConfig(testConfig))

	a, err := c.Encrypt("payload")
	require.NoError(t, err)
	b, err := c.Encrypt("payload")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecryptGarbage(t *testing.T) {
	c := NewCipher()
	require.NoError(t, c.SetConfig(testConfig))

	var out string
	assert.ErrorIs(t, c.Decrypt("not-base64!!", &out), ErrDecryptionFailed)
	assert.ErrorIs(t, c.Decrypt("c2hvcnQ=", &out), ErrDecryptionFailed)
}

func TestDecryptWrongKey(t *testing.T) {
	c := NewCipher()
	require.NoError(t, c.SetConfig(testConfig))

	ciphertext, err := c.Encrypt("secret")
	require.NoError(t, err)

	other := NewCipher()
	require.NoError(t, other.SetConfig(KeyConfig{Key: "a-different-key-7654321", IV: testConfig.IV}))

	var out string
	err = other.Decrypt(ciphertext, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestClearConfig(t *testing.T) {
	c := NewCipher()
	require.NoError(t, c.SetConfig(testConfig))
	c.ClearConfig()

	assert.False(t, c.IsConfigured())
	_, err := c.Encrypt("x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStretchKey(t *testing.T) {
	assert.Len(t, stretchKey("short-key"), 32)
	assert.Len(t, stretchKey("0123456789abcdef0123456789abcdef0123"), 32)
	assert.Equal(t, []byte("abcabcabcabcabcabcabcabcabcabcab"), stretchKey("abc"))
}
