// Package certprovider implements interfaces.CertificateProvider: the
// device's self-signed identity certificate, generated once and cached on
// disk. No example repo in the retrieval pack handles TLS certificate
// material, so this stays on crypto/x509 and crypto/ecdsa — see DESIGN.md.
package certprovider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/weave-iot/libweave/internal/common"
)

const certFileName = "device_identity.pem"

// Provider loads (or, on first run, generates) the device's self-signed
// certificate and serves its SHA-256 fingerprint.
type Provider struct {
	fingerprint []byte
}

// Load reads the certificate cached under dir, generating and persisting a
// fresh one if none exists yet.
func Load(dir string, logger *common.Logger) (*Provider, error) {
	path := filepath.Join(dir, certFileName)

	der, err := readCertDER(path)
	if err != nil {
		return nil, err
	}
	if der == nil {
		der, err = generateAndPersist(path)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info().Str("path", path).Msg("generated device identity certificate")
		}
	}

	sum := sha256.Sum256(der)
	return &Provider{fingerprint: sum[:]}, nil
}

// CertificateFingerprint returns the SHA-256 digest of the device's
// certificate, satisfying interfaces.CertificateProvider.
func (p *Provider) CertificateFingerprint() []byte {
	return p.fingerprint
}

func readCertDER(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certprovider: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certprovider: %s does not contain a PEM certificate", path)
	}
	return block.Bytes, nil
}

func generateAndPersist(path string) ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certprovider: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certprovider: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "libweave-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certprovider: create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("certprovider: create dir: %w", err)
	}

	pemBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pemBlock, 0o600); err != nil {
		return nil, fmt.Errorf("certprovider: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("certprovider: rename %s: %w", tmp, err)
	}

	return der, nil
}
