package model

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// CertificateAuthority includes the MITM CA certificate and private key
type CertificateAuthority struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// Parse decodes the PEM pair back into a certificate and key for signing.
func (ca CertificateAuthority) Parse() (*x509.Certificate, *rsa.PrivateKey, error) {
	cb, _ := pem.Decode([]byte(ca.Cert))
	if cb == nil || cb.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("failed to decode CA certificate")
	}
	cert, err := x509.ParseCertificate(cb.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	kb, _ := pem.Decode([]byte(ca.Key))
	if kb == nil {
		return nil, nil, fmt.Errorf("failed to decode CA key")
	}
	key, err := x509.ParsePKCS1PrivateKey(kb.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA key: %w", err)
	}
	return cert, key, nil
}
