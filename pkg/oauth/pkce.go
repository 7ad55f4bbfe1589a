package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// unreserved is the RFC 3986 unreserved character set allowed in a
	// code verifier.
	unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	verifierLength = 128
	stateLength    = 32

	// ChallengeMethod is the only PKCE method the gateway issues.
	ChallengeMethod = "S256"
)

// PKCE is the verifier, challenge and state generated for one authorization.
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
}

// GeneratePKCE returns a fresh PKCE triple.
func GeneratePKCE() (PKCE, error) {
	verifier, err := randomString(verifierLength)
	if err != nil {
		return PKCE{}, fmt.Errorf("generating code verifier: %w", err)
	}

	state, err := randomString(stateLength)
	if err != nil {
		return PKCE{}, fmt.Errorf("generating state: %w", err)
	}

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		State:     state,
	}, nil
}

// Challenge returns the S256 code challenge for verifier: the unpadded
// base64url encoding of its SHA-256 digest.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString draws n characters uniformly from the unreserved alphabet.
// Bytes at or above the largest multiple of the alphabet size are rejected
// so the modulo does not bias the distribution.
func randomString(n int) (string, error) {
	const limit = 256 - (256 % len(unreserved))

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, unreserved[int(b)%len(unreserved)])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}
