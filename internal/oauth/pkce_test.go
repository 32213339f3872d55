package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPKCE(t *testing.T) {
	t.Run("valid verifier", func(t *testing.T) {
		verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		h := sha256.Sum256([]byte(verifier))
		challenge := base64.RawURLEncoding.EncodeToString(h[:])
		assert.True(t, VerifyPKCE(verifier, challenge))
	})

	t.Run("invalid verifier", func(t *testing.T) {
		verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		h := sha256.Sum256([]byte(verifier))
		challenge := base64.RawURLEncoding.EncodeToString(h[:])
		assert.False(t, VerifyPKCE("wrong-verifier", challenge))
	})

	t.Run("RFC 7636 Appendix B test vector", func(t *testing.T) {
		verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
		assert.True(t, VerifyPKCE(verifier, challenge))
	})
}

func TestGeneratePKCE(t *testing.T) {
	pair, err := GeneratePKCE()
	require.NoError(t, err)

	assert.Len(t, pair.Verifier, VerifierLength)
	for _, c := range pair.Verifier {
		assert.True(t, strings.ContainsRune(unreserved, c), "unexpected character %q", c)
	}
	assert.Len(t, pair.Challenge, 43)
	assert.NotContains(t, pair.Challenge, "=")
	assert.True(t, VerifyPKCE(pair.Verifier, pair.Challenge))

	other, err := GeneratePKCE()
	require.NoError(t, err)
	assert.NotEqual(t, pair.Verifier, other.Verifier)
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	require.NoError(t, err)
	b, err := GenerateState()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestBrokenEntropy(t *testing.T) {
	saved := entropy
	entropy = iotest.ErrReader(errors.New("no entropy"))
	t.Cleanup(func() { entropy = saved })

	_, err := GeneratePKCE()
	assert.ErrorIs(t, err, ErrCryptoUnavailable)

	_, err = GenerateState()
	assert.ErrorIs(t, err, ErrCryptoUnavailable)
}

func TestErrors(t *testing.T) {
	err := MissingParameter("identidadv1", "clientSecret")
	assert.ErrorIs(t, err, ErrMissingProviderParameter)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "clientSecret")

	httpErr := &ProviderHTTPError{Op: "token exchange", StatusCode: 400, Body: "bad code"}
	assert.Equal(t, "token exchange: unexpected status 400: bad code", httpErr.Error())

	malformed := &ProviderHTTPError{Op: "userinfo", Body: "missing email"}
	assert.Equal(t, "userinfo: malformed response: missing email", malformed.Error())

	provErr := &ProviderError{Code: "access_denied", Description: "user cancelled"}
	assert.Equal(t, "access_denied: user cancelled", provErr.Error())
	assert.Equal(t, "access_denied", (&ProviderError{Code: "access_denied"}).Error())
}
