package proxy

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func basicHeader(identity, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(identity+":"+secret))
}

func TestParseProxyAuthorization(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		identity, secret, err := parseProxyAuthorization(basicHeader("phone1", "s3cret"))
		require.NoError(t, err)
		assert.Equal(t, "phone1", identity)
		assert.Equal(t, "s3cret", secret)
	})

	t.Run("secret may contain colons", func(t *testing.T) {
		identity, secret, err := parseProxyAuthorization(basicHeader("phone1", "a:b:c"))
		require.NoError(t, err)
		assert.Equal(t, "phone1", identity)
		assert.Equal(t, "a:b:c", secret)
	})

	t.Run("missing header", func(t *testing.T) {
		_, _, err := parseProxyAuthorization("")
		assert.ErrorIs(t, err, ErrAuthMissing)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, _, err := parseProxyAuthorization("Bearer abcdef")
		assert.ErrorIs(t, err, ErrAuthInvalid)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, _, err := parseProxyAuthorization("Basic not-base64!!!")
		assert.ErrorIs(t, err, ErrAuthInvalid)
	})

	t.Run("no separator", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("no-colon-here"))
		_, _, err := parseProxyAuthorization("Basic " + encoded)
		assert.ErrorIs(t, err, ErrAuthInvalid)
	})
}

func TestVerifySecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, verifySecret(string(hash), "hunter2"))
	assert.False(t, verifySecret(string(hash), "hunter3"))

	assert.True(t, verifySecret("plaintext", "plaintext"))
	assert.False(t, verifySecret("plaintext", "plaintexT"))
	assert.False(t, verifySecret("plaintext", "plain"))
}
