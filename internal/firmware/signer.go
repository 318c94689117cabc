package firmware

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/EternisAI/iot-shield/internal/fleet"
)

const rsaKeyBits = 4096

// Signer produces detached signatures over a SHA-256 digest.
type Signer interface {
	Algorithm() fleet.SignatureType
	Sign(digest []byte) ([]byte, error)
	Verify(digest, signature []byte) error
}

type RSASigner struct {
	key *rsa.PrivateKey
}

func NewRSASigner(key *rsa.PrivateKey) (*RSASigner, error) {
	if key.N.BitLen() != rsaKeyBits {
		return nil, fmt.Errorf("RSA signing key must be %d bits, got %d", rsaKeyBits, key.N.BitLen())
	}
	return &RSASigner{key: key}, nil
}

func (s *RSASigner) Algorithm() fleet.SignatureType { return fleet.SignatureRSA4096 }

func (s *RSASigner) Sign(digest []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest)
}

func (s *RSASigner) Verify(digest, signature []byte) error {
	return rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest, signature)
}

type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) (*ECDSASigner, error) {
	if key.Curve != elliptic.P256() {
		return nil, errors.New("ECDSA signing key must use P-256")
	}
	return &ECDSASigner{key: key}, nil
}

func (s *ECDSASigner) Algorithm() fleet.SignatureType { return fleet.SignatureECCP256 }

func (s *ECDSASigner) Sign(digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.key, digest)
}

func (s *ECDSASigner) Verify(digest, signature []byte) error {
	if !ecdsa.VerifyASN1(&s.key.PublicKey, digest, signature) {
		return errors.New("ecdsa: verification error")
	}
	return nil
}

// LoadOrGenerateSigner reads a PKCS#8 PEM key from keyPath, creating one
// for the requested algorithm when the file does not exist. An empty
// keyPath yields an ephemeral key.
func LoadOrGenerateSigner(algorithm fleet.SignatureType, keyPath string) (Signer, error) {
	if keyPath != "" && fileExists(keyPath) {
		key, err := loadKey(keyPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded firmware signing key", "path", keyPath)
		return signerForKey(algorithm, key)
	}

	key, err := generateKey(algorithm)
	if err != nil {
		return nil, err
	}

	if keyPath != "" {
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := writeKey(key, keyPath); err != nil {
			return nil, err
		}
		slog.Info("Generated firmware signing key", "path", keyPath, "algorithm", algorithm)
	} else {
		slog.Warn("No signing key path configured, using an ephemeral key", "algorithm", algorithm)
	}

	return signerForKey(algorithm, key)
}

func generateKey(algorithm fleet.SignatureType) (crypto.Signer, error) {
	switch algorithm {
	case fleet.SignatureRSA4096:
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		return key, nil
	case fleet.SignatureECCP256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("unsupported signature algorithm %q", algorithm)
}

func signerForKey(algorithm fleet.SignatureType, key crypto.Signer) (Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		if algorithm != fleet.SignatureRSA4096 {
			return nil, fmt.Errorf("key is RSA but %s was requested", algorithm)
		}
		return NewRSASigner(k)
	case *ecdsa.PrivateKey:
		if algorithm != fleet.SignatureECCP256 {
			return nil, fmt.Errorf("key is ECDSA but %s was requested", algorithm)
		}
		return NewECDSASigner(k)
	}
	return nil, fmt.Errorf("unsupported key type %T", key)
}

func loadKey(path string) (crypto.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode signing key PEM")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("signing key of type %T cannot sign", key)
	}
	return signer, nil
}

func writeKey(key crypto.Signer, path string) error {
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	keyFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer keyFile.Close()

	if err := pem.Encode(keyFile, &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	}); err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
