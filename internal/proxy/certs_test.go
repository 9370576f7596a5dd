package proxy_test

import (
	"crypto/tls"
	"crypto/x509"
	"sync"
	"testing"
	"time"

	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/dependabot/registry-proxy/internal/proxy"
)

func TestCertCache(t *testing.T) {
	ca, err := infra.GenerateCertificateAuthority(infra.ExtendedProfile)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := proxy.NewCertCache(ca)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	certs := make([]*tls.Certificate, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			certs[i], _ = cache.Get("Registry.Example.com")
		}(i)
	}
	wg.Wait()

	for i, c := range certs {
		if c == nil || c != certs[0] {
			t.Fatalf("expected every caller to share one certificate, %d differs", i)
		}
	}
	if cache.Len() != 1 {
		t.Errorf("expected one cached certificate, got %d", cache.Len())
	}

	caCert, _, _ := ca.Parse()
	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	leaf := certs[0].Leaf
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "registry.example.com", Roots: roots}); err != nil {
		t.Errorf("leaf does not verify: %v", err)
	}
	if leaf.NotAfter.After(caCert.NotAfter) {
		t.Error("leaf outlives the CA")
	}
	if !leaf.NotBefore.Before(time.Now().Add(-30 * time.Minute)) {
		t.Errorf("expected the leaf to be backdated, NotBefore %v", leaf.NotBefore)
	}

	ip, err := cache.Get("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ip.Leaf.IPAddresses) != 1 || len(ip.Leaf.DNSNames) != 0 {
		t.Errorf("expected an IP SAN, got %v %v", ip.Leaf.IPAddresses, ip.Leaf.DNSNames)
	}
	if cache.Len() != 2 {
		t.Errorf("expected two cached certificates, got %d", cache.Len())
	}
}
