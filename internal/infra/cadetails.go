package infra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
)

const (
	keySize        = 2048
	keyExpiryYears = 2
	serialBits     = 128
)

var CertSubject = pkix.Name{
	CommonName:         "Dependabot Internal CA",
	OrganizationalUnit: []string{"Dependabot"},
	Organization:       []string{"GitHub inc."},
	Locality:           []string{"San Francisco"},
	Province:           []string{"California"},
	Country:            []string{"US"},
}

// CertProfile selects which X.509 extensions the CA certificate carries.
type CertProfile int

const (
	// MinimalProfile carries only basicConstraints (cA=true) and uses the default digest.
	MinimalProfile CertProfile = iota
	// ExtendedProfile adds a critical keyUsage, subject and authority key identifiers and signs with SHA-256.
	ExtendedProfile
)

// ProfileFor maps the use_extended_cert_profile setting to a profile.
func ProfileFor(extended bool) CertProfile {
	if extended {
		return ExtendedProfile
	}
	return MinimalProfile
}

func (p CertProfile) String() string {
	if p == ExtendedProfile {
		return "extended"
	}
	return "minimal"
}

var oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

// GenerateCertificateAuthority generates a new proxy keypair CA
func GenerateCertificateAuthority(profile CertProfile) (model.CertificateAuthority, error) {
	key, pemKey, err := generateKey()
	if err != nil {
		return model.CertificateAuthority{}, fmt.Errorf("failed to generate key: %w", err)
	}

	pemCert, err := generateCert(key, profile)
	if err != nil {
		return model.CertificateAuthority{}, fmt.Errorf("failed to generate cert: %w", err)
	}

	return model.CertificateAuthority{
		Cert: pemCert,
		Key:  pemKey,
	}, nil
}

func generateKey() (*rsa.PrivateKey, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, "", err
	}
	kb := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return key, string(pem.EncodeToMemory(kb)), nil
}

func generateCert(key *rsa.PrivateKey, profile CertProfile) (string, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), serialBits))
	if err != nil {
		return "", err
	}
	notBefore := time.Now()
	notAfter := notBefore.AddDate(keyExpiryYears, 0, 0)

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      CertSubject,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	switch profile {
	case ExtendedProfile:
		keyID := sha1.Sum(x509.MarshalPKCS1PublicKey(&key.PublicKey))
		template.BasicConstraintsValid = true
		template.IsCA = true
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
		template.SubjectKeyId = keyID[:]
		template.AuthorityKeyId = keyID[:]
		template.SignatureAlgorithm = x509.SHA256WithRSA
	default:
		// The standard library adds a subject key identifier to any template marked IsCA, so the
		// single basicConstraints extension is encoded by hand.
		bc, err := asn1.Marshal(struct {
			IsCA       bool `asn1:"optional"`
			MaxPathLen int  `asn1:"optional,default:-1"`
		}{true, -1})
		if err != nil {
			return "", err
		}
		template.ExtraExtensions = []pkix.Extension{{Id: oidBasicConstraints, Critical: true, Value: bc}}
	}

	cert, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return "", err
	}
	cb := &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert,
	}
	return string(pem.EncodeToMemory(cb)), nil
}
