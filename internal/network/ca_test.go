package network

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/humshakals/internal/config"
)

func TestNewCA(t *testing.T) {
	ca, err := NewCA()
	require.NoError(t, err)
	require.NotNil(t, ca.Cert)

	assert.True(t, ca.Cert.IsCA)
	assert.Contains(t, ca.Cert.Subject.Organization, "Humshakals")
	assert.NoError(t, ca.Cert.CheckSignature(ca.Cert.SignatureAlgorithm, ca.Cert.RawTBSCertificate, ca.Cert.Signature))

	// A leaf signed by the CA verifies against its pool.
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "preview.local"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"preview.local"},
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca.Cert, &leafKey.PublicKey, ca.PrivateKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	chains, err := leaf.Verify(x509.VerifyOptions{Roots: ca.CertPool, DNSName: "preview.local"})
	require.NoError(t, err)
	assert.Len(t, chains, 1)

	certPEM, keyPEM := ca.PEM()
	_, err = tls.X509KeyPair(certPEM, keyPEM)
	assert.NoError(t, err, "the PEM pair loads as a TLS key pair")
}

func TestEnsureCA(t *testing.T) {
	t.Run("configured pair is kept", func(t *testing.T) {
		in := config.ProxyConfig{CACert: "/etc/ca.pem", CAKey: "/etc/ca.key", CADir: t.TempDir()}
		out, err := EnsureCA(in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("generated once and reused", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "ca")
		first, err := EnsureCA(config.ProxyConfig{CADir: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, caCertFile), first.CACert)
		assert.Equal(t, filepath.Join(dir, caKeyFile), first.CAKey)

		info, err := os.Stat(first.CAKey)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		before, err := os.ReadFile(first.CACert)
		require.NoError(t, err)

		second, err := EnsureCA(config.ProxyConfig{CADir: dir})
		require.NoError(t, err)
		after, err := os.ReadFile(second.CACert)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		certPEM, keyPEM, err := readCAPair(second.CACert, second.CAKey)
		require.NoError(t, err)
		_, err = tls.X509KeyPair(certPEM, keyPEM)
		assert.NoError(t, err)
	})

	t.Run("no directory leaves the bundled CA in charge", func(t *testing.T) {
		out, err := EnsureCA(config.ProxyConfig{Address: "127.0.0.1:0"})
		require.NoError(t, err)
		assert.Empty(t, out.CACert)
	})
}
