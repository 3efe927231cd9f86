package proxy

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// parseProxyAuthorization extracts identity and secret from a
// `Basic base64(identity:secret)` header value. Falls back to the plain
// Authorization header the way some mobile proxy stacks send it.
func parseProxyAuthorization(header string) (string, string, error) {
	if header == "" {
		return "", "", ErrAuthMissing
	}
	const prefix = "Basic "
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(prefix)) {
		return "", "", fmt.Errorf("%w: unsupported scheme", ErrAuthInvalid)
	}
	encoded := strings.TrimSpace(header[len(prefix):])
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad base64", ErrAuthInvalid)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: missing separator", ErrAuthInvalid)
	}
	return parts[0], parts[1], nil
}

func credentialHeader(r *http.Request) string {
	if h := r.Header.Get("Proxy-Authorization"); h != "" {
		return h
	}
	return r.Header.Get("Authorization")
}

// authenticate resolves the identity carried by a tunnel-establishment or
// plain proxy request. Returns ErrAuthMissing when no credential is present
// and ErrAuthInvalid when the identity is unknown or the secret mismatches.
func (s *server) authenticate(r *http.Request) (string, error) {
	identity, secret, err := parseProxyAuthorization(credentialHeader(r))
	if err != nil {
		return "", err
	}
	record, ok := s.identities[identity]
	if !ok {
		return "", fmt.Errorf("%w: unknown identity", ErrAuthInvalid)
	}
	if !verifySecret(record.Secret, secret) {
		return "", fmt.Errorf("%w: secret mismatch", ErrAuthInvalid)
	}
	return identity, nil
}

// verifySecret accepts bcrypt hashes and, for legacy directory entries,
// plaintext compared in constant time.
func verifySecret(stored, presented string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	if len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
