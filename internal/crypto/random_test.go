package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(rand.Reader, 16)
	require.NoError(t, err)
	assert.Len(t, token, 22)
	assert.NotContains(t, token, "=")

	// Each call generates a unique token
	token2, err := GenerateSecureToken(rand.Reader, 16)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestGenerateSecureTokenReaderFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	_, err := GenerateSecureToken(iotest.ErrReader(boom), 16)
	assert.ErrorIs(t, err, boom)
}

func TestRandomString(t *testing.T) {
	const alphabet = "abc"

	t.Run("only alphabet characters", func(t *testing.T) {
		s, err := RandomString(rand.Reader, 200, alphabet)
		require.NoError(t, err)
		assert.Len(t, s, 200)
		for _, c := range s {
			assert.True(t, strings.ContainsRune(alphabet, c))
		}
	})

	t.Run("biased bytes are rejected", func(t *testing.T) {
		// 255 is above the largest multiple of 3 below 256 and must be skipped.
		src := bytes.NewReader([]byte{255, 0, 255, 1, 2, 255, 255, 255})
		s, err := RandomString(src, 3, alphabet)
		require.NoError(t, err)
		assert.Equal(t, "abc", s)
	})

	t.Run("invalid alphabet", func(t *testing.T) {
		_, err := RandomString(rand.Reader, 4, "")
		assert.Error(t, err)
	})

	t.Run("short reader", func(t *testing.T) {
		_, err := RandomString(bytes.NewReader([]byte{1}), 4, alphabet)
		assert.Error(t, err)
	})
}
