package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// GenerateSecureToken reads n random bytes from r and returns them
// base64url-encoded without padding. Suitable for OAuth state parameters.
func GenerateSecureToken(r io.Reader, n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomString returns n characters drawn uniformly from alphabet.
// Bytes that would bias the distribution are rejected and redrawn.
func RandomString(r io.Reader, n int, alphabet string) (string, error) {
	size := len(alphabet)
	if size == 0 || size > 256 {
		return "", errors.New("alphabet must have between 1 and 256 characters")
	}
	limit := 256 - 256%size

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%size])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
