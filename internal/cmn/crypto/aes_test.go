package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	enc, err := NewEncryptor("master-secret")
	require.NoError(t, err)

	record, err := enc.Encrypt("sk-abc123")
	require.NoError(t, err)
	assert.Len(t, strings.Split(record, ":"), 3)

	got, err := enc.Decrypt(record)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", got)
}

func TestDecryptWrongSecret(t *testing.T) {
	t.Parallel()
	enc1, err := NewEncryptor("secret-one")
	require.NoError(t, err)
	enc2, err := NewEncryptor("secret-two")
	require.NoError(t, err)

	record, err := enc1.Encrypt("value")
	require.NoError(t, err)
	_, err = enc2.Decrypt(record)
	assert.Error(t, err)
}

func TestDecryptMalformedRecord(t *testing.T) {
	t.Parallel()
	enc, err := NewEncryptor("master")
	require.NoError(t, err)

	for _, record := range []string{"", "abc", "a:b", "zz:zz:zz"} {
		_, err := enc.Decrypt(record)
		assert.Error(t, err, record)
	}
}

func TestEmptyMasterSecretRejected(t *testing.T) {
	t.Parallel()
	_, err := NewEncryptor("")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "sk******23", Mask("sk-abc123"))
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "", Mask(""))
}
