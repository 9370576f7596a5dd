package proxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
	"golang.org/x/sync/singleflight"
)

const (
	leafKeySize  = 2048
	leafValidity = 365 * 24 * time.Hour
	leafBackdate = time.Hour
)

// CertCache mints leaf certificates for intercepted hosts, signed by the proxy CA. Each host is
// minted at most once; concurrent first requests for a host share one minting.
type CertCache struct {
	ca  *x509.Certificate
	key *rsa.PrivateKey

	mu    sync.RWMutex
	certs map[string]*tls.Certificate
	group singleflight.Group

	now func() time.Time
}

// NewCertCache parses the CA and returns an empty cache.
func NewCertCache(ca model.CertificateAuthority) (*CertCache, error) {
	cert, key, err := ca.Parse()
	if err != nil {
		return nil, err
	}
	return &CertCache{
		ca:    cert,
		key:   key,
		certs: map[string]*tls.Certificate{},
		now:   time.Now,
	}, nil
}

// Get returns the leaf certificate for host, minting it on first use.
func (c *CertCache) Get(host string) (*tls.Certificate, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return nil, fmt.Errorf("no host to issue a certificate for")
	}

	c.mu.RLock()
	cert, ok := c.certs[host]
	c.mu.RUnlock()
	if ok {
		return cert, nil
	}

	v, err, _ := c.group.Do(host, func() (any, error) {
		c.mu.RLock()
		cert, ok := c.certs[host]
		c.mu.RUnlock()
		if ok {
			return cert, nil
		}
		cert, err := c.mint(host)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.certs[host] = cert
		c.mu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate for %s: %w", host, err)
	}
	return v.(*tls.Certificate), nil
}

// Len is the number of cached certificates.
func (c *CertCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.certs)
}

func (c *CertCache) mint(host string) (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, err
	}

	now := c.now()
	notAfter := now.Add(leafValidity)
	if notAfter.After(c.ca.NotAfter) {
		notAfter = c.ca.NotAfter
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-leafBackdate),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.ca, &key.PublicKey, c.key)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{der, c.ca.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
