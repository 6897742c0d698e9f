package roaming

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// latestExpiry keeps certificates inside the 32-bit time range NAPI accepts.
var latestExpiry = time.Date(2038, time.January, 18, 0, 0, 0, 0, time.UTC)

var ErrEmptySubject = fmt.Errorf("certificate subject needs at least one of CN, C, ST, L, O, OU or emailAddress")

// CertificateRequest describes a self-signed roaming service certificate.
// Days <= 0 means valid until the latest supported expiry.
type CertificateRequest struct {
	CommonName         string
	Country            string
	State              string
	Locality           string
	Organization       string
	OrganizationalUnit string
	EmailAddress       string
	Days               int
}

func (r CertificateRequest) subject() pkix.Name {
	var name pkix.Name
	name.CommonName = r.CommonName
	if r.Country != "" {
		name.Country = []string{r.Country}
	}
	if r.State != "" {
		name.Province = []string{r.State}
	}
	if r.Locality != "" {
		name.Locality = []string{r.Locality}
	}
	if r.Organization != "" {
		name.Organization = []string{r.Organization}
	}
	if r.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{r.OrganizationalUnit}
	}
	if r.EmailAddress != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  []int{1, 2, 840, 113549, 1, 9, 1},
			Value: r.EmailAddress,
		})
	}
	return name
}

func (r CertificateRequest) empty() bool {
	return r.CommonName == "" && r.Country == "" && r.State == "" && r.Locality == "" &&
		r.Organization == "" && r.OrganizationalUnit == "" && r.EmailAddress == ""
}

// GenerateCertificate creates a P-256 key and a self-signed certificate for
// it. The result is one PEM bundle holding the private key followed by the
// certificate, loadable by LoadSigner and PublicKeyFromCertificate.
func GenerateCertificate(req CertificateRequest, now time.Time) ([]byte, error) {
	if req.empty() {
		return nil, ErrEmptySubject
	}
	maxDays := int(latestExpiry.Sub(now) / (24 * time.Hour))
	days := req.Days
	if days <= 0 {
		days = maxDays
	}
	if days <= 0 || days > maxDays {
		return nil, fmt.Errorf("certificate validity must be 1..%d days, got %d", maxDays, days)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.subject(),
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, days),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := pem.Encode(&out, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}); err != nil {
		return nil, err
	}
	if err := pem.Encode(&out, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
