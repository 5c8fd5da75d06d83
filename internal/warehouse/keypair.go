package warehouse

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var ErrNotRSAKey = errors.New("private key is not an RSA key")

// ParsePrivateKey decodes an unencrypted PEM private key as stored in the
// secret store. PKCS8 is expected; PKCS1 is accepted. Escaped newlines from
// single-line secrets are restored first.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	pemText = strings.TrimSpace(strings.ReplaceAll(pemText, `\n`, "\n"))

	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 private key: %w", err)
		}
		return key, nil
	case "ENCRYPTED PRIVATE KEY":
		return nil, errors.New("encrypted private keys are not supported")
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
}
