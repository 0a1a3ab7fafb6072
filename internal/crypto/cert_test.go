package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"testing"

	"github.com/gluk-w/claworc/keyvault/internal/database"
)

func parseCertPEM(t *testing.T, certPEM string) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("failed to decode cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

func TestGenerateServerCertPair(t *testing.T) {
	certPEM, keyPEM, err := GenerateServerCertPair([]string{"vault.internal", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateServerCertPair() error = %v", err)
	}

	cert := parseCertPEM(t, certPEM)
	if cert.Subject.CommonName != "vault.internal" {
		t.Errorf("CommonName = %q", cert.Subject.CommonName)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "vault.internal" {
		t.Errorf("DNSNames = %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 1 || !cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("IPAddresses = %v", cert.IPAddresses)
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageServerAuth {
		t.Errorf("ExtKeyUsage = %v, want ServerAuth", cert.ExtKeyUsage)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool, DNSName: "vault.internal"}); err != nil {
		t.Errorf("self-signed verification failed: %v", err)
	}

	if _, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM)); err != nil {
		t.Errorf("key does not match certificate: %v", err)
	}
}

func TestGenerateServerCertPair_NoHosts(t *testing.T) {
	if _, _, err := GenerateServerCertPair(nil); err == nil {
		t.Fatal("expected error without hosts")
	}
}

func TestLoadOrGenerateServerCert(t *testing.T) {
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer database.Close(db)
	codec := newTestCodec(t)

	first, err := LoadOrGenerateServerCert(db, codec, []string{"localhost"})
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrGenerateServerCert(db, codec, []string{"localhost"})
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Error("second call generated a new certificate instead of loading the stored one")
	}

	stored, err := database.GetSetting(db, settingServerCertKey)
	if err != nil {
		t.Fatalf("read stored key: %v", err)
	}
	if block, _ := pem.Decode([]byte(stored)); block != nil {
		t.Error("server key stored in clear")
	}

	// A different master key cannot open the stored key, so a new pair is made.
	third, err := LoadOrGenerateServerCert(db, newTestCodec(t), []string{"localhost"})
	if err != nil {
		t.Fatalf("call with new master key error = %v", err)
	}
	if string(third.Certificate[0]) == string(first.Certificate[0]) {
		t.Error("expected a regenerated certificate after master key change")
	}
}

func TestLoadOrGenerateServerCert_HostsChanged(t *testing.T) {
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer database.Close(db)
	codec := newTestCodec(t)

	first, err := LoadOrGenerateServerCert(db, codec, []string{"localhost", "10.0.0.5"})
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}

	reordered, err := LoadOrGenerateServerCert(db, codec, []string{"10.0.0.5", "LOCALHOST"})
	if err != nil {
		t.Fatalf("reordered call error = %v", err)
	}
	if string(reordered.Certificate[0]) != string(first.Certificate[0]) {
		t.Error("the same hosts in another order should reuse the stored certificate")
	}

	added, err := LoadOrGenerateServerCert(db, codec, []string{"localhost", "10.0.0.5", "vault.internal"})
	if err != nil {
		t.Fatalf("call with added host error = %v", err)
	}
	if string(added.Certificate[0]) == string(first.Certificate[0]) {
		t.Fatal("expected a regenerated certificate after adding a host")
	}
	leaf, err := x509.ParseCertificate(added.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("vault.internal"); err != nil {
		t.Errorf("regenerated cert does not cover the new host: %v", err)
	}

	removed, err := LoadOrGenerateServerCert(db, codec, []string{"localhost"})
	if err != nil {
		t.Fatalf("call with removed host error = %v", err)
	}
	leaf, err = x509.ParseCertificate(removed.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("10.0.0.5"); err == nil {
		t.Error("a host dropped from the list is still covered")
	}
}
