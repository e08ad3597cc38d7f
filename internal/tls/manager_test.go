package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/config"
)

func leafOf(t *testing.T, cert *tls.Certificate) *x509.Certificate {
	t.Helper()
	require.NotEmpty(t, cert.Certificate)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf
}

func TestDevCertIsReusedWhileValid(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.Equal(t, leafOf(t, &first).SerialNumber, leafOf(t, &second).SerialNumber)

	leaf := leafOf(t, &first)
	assert.Contains(t, leaf.DNSNames, "localhost")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
}

func TestDevCertIsRegeneratedForNewHostOrNearExpiry(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	widened, err := gen.GenerateCert([]string{"localhost", "api.local"})
	require.NoError(t, err)
	assert.NotEqual(t, leafOf(t, &first).SerialNumber, leafOf(t, &widened).SerialNumber)
	assert.Contains(t, leafOf(t, &widened).DNSNames, "api.local")

	gen.now = func() time.Time { return time.Now().Add(devCertLifetime - 24*time.Hour) }
	renewed, err := gen.GenerateCert([]string{"localhost", "api.local"})
	require.NoError(t, err)
	assert.NotEqual(t, leafOf(t, &widened).SerialNumber, leafOf(t, &renewed).SerialNumber)
}

func TestManagerFallsBackToSelfSignedOutsideProduction(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "social.local",
		AutoCertDir: t.TempDir(),
	}, config.EnvDevelopment)
	assert.Nil(t, m.GetAutocertManager())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "social.local"})
	require.NoError(t, err)
	assert.Contains(t, leafOf(t, cert).DNSNames, "social.local")

	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "social.local"})
	require.NoError(t, err)
	assert.Same(t, cert, again)

	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestManagerRefusesSelfSignedInProduction(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "social.example.com",
		AutoCertDir: t.TempDir(),
	}, config.EnvProduction)

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "social.example.com"})
	assert.Error(t, err)
}
