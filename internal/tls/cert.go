// Package tls provides the self-signed certificate the editor bridge uses
// when it serves wss:// instead of ws://.
//
// The certificate and key live in the project state directory and are
// generated on first use. Editors pin the SHA-256 fingerprint, which is
// printed at startup and advertised over mDNS.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File names inside the certificate directory.
const (
	CertFileName = "bridge.crt"
	KeyFileName  = "bridge.key"
)

// DefaultValidity is the lifetime of a generated certificate.
const DefaultValidity = 365 * 24 * time.Hour

// Certificate is a loaded or generated bridge certificate.
type Certificate struct {
	CertPath    string
	KeyPath     string
	Fingerprint string // colon-separated uppercase hex of the SHA-256 digest
	NotAfter    time.Time
	Generated   bool

	pair tls.Certificate
}

// Ensure loads the certificate in dir, or generates one valid for hosts
// when none exists or the existing one has expired. Empty hosts default to
// localhost and 127.0.0.1.
func Ensure(dir string, hosts []string) (*Certificate, error) {
	certPath := filepath.Join(dir, CertFileName)
	keyPath := filepath.Join(dir, KeyFileName)

	c, err := Load(certPath, keyPath)
	switch {
	case err == nil && time.Now().Before(c.NotAfter):
		return c, nil
	case err == nil, errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := Generate(certPath, keyPath, hosts, DefaultValidity); err != nil {
		return nil, err
	}
	c, err = Load(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	c.Generated = true
	return c, nil
}

// Load reads a PEM certificate and key pair.
func Load(certPath, keyPath string) (*Certificate, error) {
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Certificate{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: Fingerprint(leaf),
		NotAfter:    leaf.NotAfter,
		pair:        pair,
	}, nil
}

// Generate writes a new self-signed ECDSA P-256 certificate and key.
func Generate(certPath, keyPath string, hosts []string, validity time.Duration) error {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"fixdeck"}, CommonName: "fixdeck bridge"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0700); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

// Fingerprint returns the SHA-256 digest of cert as "AA:BB:...".
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// ServerConfig returns a TLS 1.2+ server configuration for c.
func (c *Certificate) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.pair},
		MinVersion:   tls.VersionTLS12,
	}
}
