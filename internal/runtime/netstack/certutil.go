package netstack

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
	"os"
	"time"
)

// ConsoleIdentity is the certificate a console server presents, held as
// PEM so it can be saved and handed to later runs.
type ConsoleIdentity struct {
	CertPEM []byte
	KeyPEM  []byte
}

// NewConsoleIdentity creates a self-signed P-256 console certificate for
// hosts. Entries that parse as IP addresses become IP SANs.
func NewConsoleIdentity(hosts []string, validFor time.Duration) (*ConsoleIdentity, error) {
	if validFor <= 0 {
		validFor = 24 * time.Hour
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "mordax console"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &ConsoleIdentity{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// LoadConsoleIdentity reads a PEM certificate and key and checks that
// they belong together.
func LoadConsoleIdentity(certPath, keyPath string) (*ConsoleIdentity, error) {
	if certPath == "" || keyPath == "" {
		return nil, errors.New("console identity needs both a certificate and a key file")
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	id := &ConsoleIdentity{CertPEM: certPEM, KeyPEM: keyPEM}
	if _, err := id.pair(); err != nil {
		return nil, fmt.Errorf("%s and %s: %w", certPath, keyPath, err)
	}
	return id, nil
}

// Save writes the certificate and key. The key file is private to the
// owner.
func (id *ConsoleIdentity) Save(certPath, keyPath string) error {
	if len(id.CertPEM) == 0 || len(id.KeyPEM) == 0 {
		return os.ErrInvalid
	}
	if err := os.WriteFile(certPath, id.CertPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, id.KeyPEM, 0o600)
}

// ServerTLS returns the config a ConsoleServer listens with.
func (id *ConsoleIdentity) ServerTLS() (*tls.Config, error) {
	pair, err := id.pair()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ConsoleProtocol},
	}, nil
}

func (id *ConsoleIdentity) pair() (tls.Certificate, error) {
	return tls.X509KeyPair(id.CertPEM, id.KeyPEM)
}
