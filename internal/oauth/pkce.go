package oauth

import (
	"crypto"
	"crypto/rand"
	_ "crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	authcrypto "github.com/dgellow/authsession/internal/crypto"
)

const (
	// VerifierLength is the PKCE verifier length, the RFC 7636 maximum.
	VerifierLength = 128

	// ChallengeMethod is the only challenge method the providers accept.
	ChallengeMethod = "S256"

	stateBytes = 16

	unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// entropy is swapped in tests to simulate a broken random source.
var entropy io.Reader = rand.Reader

// PKCE is a verifier/challenge pair for one login attempt.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GenerateVerifier returns a random 128-character verifier drawn from the
// unreserved URL alphabet.
func GenerateVerifier() (string, error) {
	v, err := authcrypto.RandomString(entropy, VerifierLength, unreserved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return v, nil
}

// ChallengeFor derives the S256 challenge for verifier.
func ChallengeFor(verifier string) (string, error) {
	if !crypto.SHA256.Available() {
		return "", fmt.Errorf("%w: sha256 not linked", ErrCryptoUnavailable)
	}
	h := crypto.SHA256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// GeneratePKCE creates a fresh verifier and its challenge.
func GeneratePKCE() (PKCE, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return PKCE{}, err
	}
	challenge, err := ChallengeFor(verifier)
	if err != nil {
		return PKCE{}, err
	}
	return PKCE{Verifier: verifier, Challenge: challenge}, nil
}

// GenerateState returns a random anti-CSRF state token.
func GenerateState() (string, error) {
	s, err := authcrypto.GenerateSecureToken(entropy, stateBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return s, nil
}

func VerifyPKCE(verifier, challenge string) bool {
	computed, err := ChallengeFor(verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
