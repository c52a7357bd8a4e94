// ABOUTME: Signs and verifies the two-part external auth token string
// ABOUTME: RSA PKCS#1 v1.5 over a SHA-256 digest of the base64 payload

package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signature errors. ErrKeyLoad is a server configuration fault, distinct
// from a client presenting a bad token.
var (
	ErrInvalidSignature = errors.New("auth token signature mismatch")
	ErrKeyLoad          = errors.New("cannot load signing key")
)

// Sign produces the external auth token for the given payload:
// base64(payload)-base64(signature), where the signature covers a SHA-256
// digest of the base64 payload bytes.
func Sign(privateKeyPath, payload string) (string, error) {
	key, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		return "", err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	digest := sha256.Sum256([]byte(encoded))

	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing auth token: %w", err)
	}

	return encoded + "-" + base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks the signature of an external auth token and returns the
// decoded payload. The token splits on the first hyphen; both halves are
// base64. Returns ErrMalformedToken for a structurally bad token,
// ErrInvalidSignature for a signature that does not match, and ErrKeyLoad
// when the public key file cannot be read or parsed.
func Verify(publicKeyPath, authToken string) (string, error) {
	encoded, sigPart, ok := strings.Cut(authToken, "-")
	if !ok {
		return "", fmt.Errorf("%w: missing signature separator", ErrMalformedToken)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}

	signature, err := base64.StdEncoding.DecodeString(sigPart)
	if err != nil {
		return "", fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	key, err := loadPublicKey(publicKeyPath)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(encoded))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return "", ErrInvalidSignature
	}

	return string(payload), nil
}

// loadPrivateKey reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrKeyLoad, path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrKeyLoad, path)
	}
	return key, nil
}

// loadPublicKey reads a PEM-encoded RSA public key (PKIX or PKCS#1).
func loadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrKeyLoad, path)
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrKeyLoad, path, err)
	}
	return key, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrKeyLoad, path)
	}
	return block, nil
}
