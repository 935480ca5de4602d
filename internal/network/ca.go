// internal/network/ca.go
package network

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/humshakals/internal/config"
)

const (
	caCertFile = "humshakals-ca.pem"
	caKeyFile  = "humshakals-ca-key.pem"
	caValidity = 5 * 365 * 24 * time.Hour
)

// CA is a self-signed certificate authority used to sign the leaf
// certificates of intercepted TLS connections.
type CA struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	CertPool   *x509.CertPool
}

// NewCA generates a fresh CA.
func NewCA() (*CA, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Humshakals"},
			CommonName:   "Humshakals Local Proxy CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	// Self-signed: the template is its own parent.
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &CA{Cert: cert, PrivateKey: privateKey, CertPool: pool}, nil
}

// PEM encodes the certificate and the PKCS#1 private key.
func (ca *CA) PEM() (certPEM, keyPEM []byte) {
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(ca.PrivateKey)})
	return certPEM, keyPEM
}

// EnsureCA returns cfg with a CA pair filled in. A configured pair is kept;
// otherwise the pair stored in cfg.CADir is used, generated on first use, so
// the certificate can be trusted once and survives restarts.
func EnsureCA(cfg config.ProxyConfig) (config.ProxyConfig, error) {
	if cfg.CACert != "" || cfg.CAKey != "" || cfg.CADir == "" {
		return cfg, nil
	}
	dir, err := homedir.Expand(cfg.CADir)
	if err != nil {
		return cfg, fmt.Errorf("failed to resolve CA directory: %w", err)
	}
	certPath, keyPath := filepath.Join(dir, caCertFile), filepath.Join(dir, caKeyFile)

	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	switch {
	case certErr == nil && keyErr == nil:
	case errors.Is(certErr, os.ErrNotExist) || errors.Is(keyErr, os.ErrNotExist):
		if err := writeCA(dir, certPath, keyPath); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("failed to stat CA files: %w", errors.Join(certErr, keyErr))
	}

	cfg.CACert, cfg.CAKey = certPath, keyPath
	return cfg, nil
}

func writeCA(dir, certPath, keyPath string) error {
	ca, err := NewCA()
	if err != nil {
		return fmt.Errorf("failed to generate CA: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	certPEM, keyPEM := ca.PEM()
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return nil
}
