package netstack

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleIdentity(t *testing.T) {
	id, err := NewConsoleIdentity([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)
	cfg, err := id.ServerTLS()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, []string{ConsoleProtocol}, cfg.NextProtos)
	require.Len(t, cfg.Certificates, 1)

	cert, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "mordax console", cert.Subject.CommonName)
	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.True(t, cert.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)))
	assert.WithinDuration(t, time.Now().Add(time.Hour), cert.NotAfter, time.Minute)
}

func TestConsoleIdentitySaveAndLoad(t *testing.T) {
	id, err := NewConsoleIdentity([]string{"localhost"}, time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, id.Save(certPath, keyPath))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConsoleIdentity(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, id.CertPEM, loaded.CertPEM)
	_, err = loaded.ServerTLS()
	assert.NoError(t, err)
}

func TestConsoleIdentityErrors(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorIs(t, (&ConsoleIdentity{}).Save(filepath.Join(dir, "c"), filepath.Join(dir, "k")), os.ErrInvalid)

	_, err := LoadConsoleIdentity(filepath.Join(dir, "c"), "")
	assert.Error(t, err)

	// A key that does not match the certificate is rejected on load.
	a, err := NewConsoleIdentity([]string{"localhost"}, time.Hour)
	require.NoError(t, err)
	b, err := NewConsoleIdentity([]string{"localhost"}, time.Hour)
	require.NoError(t, err)
	certPath, keyPath := filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.key")
	require.NoError(t, os.WriteFile(certPath, a.CertPEM, 0o644))
	require.NoError(t, os.WriteFile(keyPath, b.KeyPEM, 0o600))
	_, err = LoadConsoleIdentity(certPath, keyPath)
	assert.Error(t, err)
}
