package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
)

// HeaderName carries the project credential on public submissions.
const HeaderName = "X-Formiq-Key"

const keyBits = 2048

// Normalize removes line breaks and surrounding whitespace. Stored keys are
// single-line PEM, but copies pasted into site builders often are not.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.TrimSpace(s)
}

// Verify reports whether the presented credential matches the stored one.
func Verify(presented, stored string) bool {
	p := Normalize(presented)
	s := Normalize(stored)
	if p == "" || s == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p), []byte(s)) == 1
}

// Extract returns the credential presented on r: the dedicated header, then a
// bearer token, then the value decoded from the body.
func Extract(r *http.Request, bodyKey string) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return bodyKey
}

// KeyPair holds a project's credential pair. PublicKey is what sites embed.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// GenerateKeyPair creates an RSA key pair with both halves PEM encoded and
// flattened onto one line.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("encoding public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("encoding private key: %w", err)
	}

	return KeyPair{
		PublicKey:  flatten(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKey: flatten(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}, nil
}

func flatten(b []byte) string {
	return Normalize(string(b))
}
