// Package roaming implements the server side of Nymi roaming authentication:
// P-256 keys, raw R||S signatures and the certificate a roaming service
// publishes its key with.
package roaming

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const coordinateSize = 32

var ErrNoPrivateKey = fmt.Errorf("no EC private key in PEM data")
var ErrNotP256 = fmt.Errorf("key is not on the P-256 curve")
var ErrInvalidSignature = fmt.Errorf("invalid DER signature")

// Signer signs with a P-256 private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key.Curve != elliptic.P256() {
		return nil, ErrNotP256
	}
	return &Signer{key: key}, nil
}

// LoadSigner reads the first private key block of a PEM bundle. Bundles that
// also carry EC PARAMETERS or CERTIFICATE blocks are accepted.
func LoadSigner(data []byte) (*Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPrivateKey
		}
		switch block.Type {
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing EC private key: %w", err)
			}
			return NewSigner(key)
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
			}
			key, ok := parsed.(*ecdsa.PrivateKey)
			if !ok {
				return nil, ErrNoPrivateKey
			}
			return NewSigner(key)
		}
	}
}

func LoadSignerFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSigner(data)
}

// PublicKeyHex returns the raw X||Y coordinates of the public key as hex.
func (s *Signer) PublicKeyHex() string {
	return publicKeyHex(&s.key.PublicKey)
}

// Sign hashes message with SHA-256 and returns the raw R||S signature as hex.
func (s *Signer) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	der, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", err
	}
	raw, err := derToRaw(der)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Verify checks a raw R||S signature over the hex encoded message against a
// raw X||Y public key. Malformed input verifies as false.
func Verify(messageHex, signatureHex, publicKeyHex string) bool {
	message, err := hex.DecodeString(messageHex)
	if err != nil {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != 2*coordinateSize {
		return false
	}
	key, err := parsePublicKeyHex(publicKeyHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	r := new(big.Int).SetBytes(signature[:coordinateSize])
	s := new(big.Int).SetBytes(signature[coordinateSize:])
	return ecdsa.Verify(key, digest[:], r, s)
}

// PublicKeyFromCertificate returns the raw X||Y public key of the first
// certificate in a PEM bundle.
func PublicKeyFromCertificate(data []byte) (string, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return "", fmt.Errorf("no certificate in PEM data")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("parsing certificate: %w", err)
		}
		key, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok || key.Curve != elliptic.P256() {
			return "", ErrNotP256
		}
		return publicKeyHex(key), nil
	}
}

func publicKeyHex(key *ecdsa.PublicKey) string {
	ecdhKey, err := key.ECDH()
	if err != nil {
		return ""
	}
	// Uncompressed point: 0x04 || X || Y.
	return hex.EncodeToString(ecdhKey.Bytes()[1:])
}

func parsePublicKeyHex(publicKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, err
	}
	if len(raw) != 2*coordinateSize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", 2*coordinateSize, len(raw))
	}
	point := append([]byte{0x04}, raw...)
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[:coordinateSize]),
		Y:     new(big.Int).SetBytes(raw[coordinateSize:]),
	}, nil
}

// derToRaw converts an ASN.1 ECDSA-Sig-Value into fixed width R||S.
func derToRaw(der []byte) ([]byte, error) {
	var r, s big.Int
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(&r) ||
		!inner.ReadASN1Integer(&s) ||
		!inner.Empty() {
		return nil, ErrInvalidSignature
	}
	raw := make([]byte, 2*coordinateSize)
	r.FillBytes(raw[:coordinateSize])
	s.FillBytes(raw[coordinateSize:])
	return raw, nil
}
