package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/claworc/keyvault/internal/database"
)

const (
	settingServerCert    = "server_tls_cert"
	settingServerCertKey = "server_tls_cert_key"
)

// GenerateServerCertPair creates a self-signed ECDSA P-256 server
// certificate valid for hosts, which may be DNS names or IP addresses.
func GenerateServerCertPair(hosts []string) (certPEM, keyPEM string, err error) {
	if len(hosts) == 0 {
		return "", "", errors.New("generate server cert: no hosts")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: hosts[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(2 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEMBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEMBytes), string(keyPEMBytes), nil
}

// LoadOrGenerateServerCert returns the persisted self-signed server
// certificate, creating and storing one when none exists or the stored one
// cannot be used (expired, issued for other hosts, or sealed under a
// different master key). The private key is stored encrypted with codec.
func LoadOrGenerateServerCert(db *gorm.DB, codec *Codec, hosts []string) (*tls.Certificate, error) {
	if cert, err := loadServerCert(db, codec, hosts); err == nil {
		return cert, nil
	}

	certPEM, keyPEM, err := GenerateServerCertPair(hosts)
	if err != nil {
		return nil, fmt.Errorf("generate server cert: %w", err)
	}

	encKeyPEM, err := codec.Encrypt(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypt server key: %w", err)
	}

	if err := database.SetSetting(db, settingServerCert, certPEM); err != nil {
		return nil, fmt.Errorf("save server cert: %w", err)
	}
	if err := database.SetSetting(db, settingServerCertKey, encKeyPEM); err != nil {
		return nil, fmt.Errorf("save server key: %w", err)
	}

	parsed, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse server cert: %w", err)
	}
	return &parsed, nil
}

func loadServerCert(db *gorm.DB, codec *Codec, hosts []string) (*tls.Certificate, error) {
	certPEM, err := database.GetSetting(db, settingServerCert)
	if err != nil {
		return nil, err
	}
	encKeyPEM, err := database.GetSetting(db, settingServerCertKey)
	if err != nil {
		return nil, err
	}
	keyPEM, err := codec.Decrypt(encKeyPEM)
	if err != nil {
		return nil, err
	}
	parsed, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(parsed.Certificate[0])
	if err != nil {
		return nil, err
	}
	if time.Now().After(leaf.NotAfter) {
		return nil, errors.New("server cert expired")
	}
	if !coversExactly(leaf, hosts) {
		return nil, errors.New("server cert hosts changed")
	}
	return &parsed, nil
}

// coversExactly reports whether the SANs of cert are exactly hosts, in any
// order.
func coversExactly(cert *x509.Certificate, hosts []string) bool {
	want := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			want["ip:"+ip.String()] = true
		} else {
			want["dns:"+strings.ToLower(h)] = true
		}
	}
	have := make(map[string]bool, len(cert.DNSNames)+len(cert.IPAddresses))
	for _, name := range cert.DNSNames {
		have["dns:"+strings.ToLower(name)] = true
	}
	for _, ip := range cert.IPAddresses {
		have["ip:"+ip.String()] = true
	}
	if len(want) != len(have) {
		return false
	}
	for k := range want {
		if !have[k] {
			return false
		}
	}
	return true
}
