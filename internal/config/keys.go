package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}

// SigningKey returns the ES256 key for session tokens. An empty JWTPrivateKey
// yields a fresh key, so tokens do not survive a restart.
func (c *Config) SigningKey() (*ecdsa.PrivateKey, bool, error) {
	if strings.TrimSpace(c.JWTPrivateKey) == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		return key, true, err
	}
	key, err := ParseECPrivateKey(c.JWTPrivateKey)
	return key, false, err
}

// ParseECPrivateKey parses a PEM-encoded P-256 private key. s may be inline PEM or a file path.
func ParseECPrivateKey(s string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ec, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		key = ec
	default:
		return nil, ErrInvalidKey
	}

	if key.Curve != elliptic.P256() {
		return nil, ErrInvalidKey
	}
	return key, nil
}
