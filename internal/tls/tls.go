// Package tls loads the server TLS configuration, generating a throwaway
// self-signed certificate when no file pair is configured (development
// only).
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Config holds TLS configuration.
type Config struct {
	CertFile string
	KeyFile  string
}

// LoadTLSConfig builds a *tls.Config from the given file pair, or from a
// generated self-signed certificate when no files are set.
func LoadTLSConfig(cfg Config) (*stdtls.Config, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := stdtls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
		return &stdtls.Config{
			Certificates: []stdtls.Certificate{cert},
			MinVersion:   stdtls.VersionTLS12,
		}, nil
	}

	cert, err := selfSignedCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &stdtls.Config{
		Certificates: []stdtls.Certificate{cert},
		MinVersion:   stdtls.VersionTLS12,
	}, nil
}

// selfSignedCertificate creates a short-lived localhost certificate.
func selfSignedCertificate() (stdtls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return stdtls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return stdtls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"merchant-actions-api dev"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return stdtls.Certificate{}, err
	}

	return stdtls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
