// Package transport owns the server's single QUIC listener: ALPN
// negotiation, TLS certificate provisioning, and acceptance of the
// two-bidirectional-stream session model from spec.md §6.
package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// ALPN is the protocol name clients and the server negotiate over QUIC.
const ALPN = "chatty-v1"

// LoadTLSConfig loads a certificate/key pair from disk, or — if both paths
// are empty — generates a self-signed one for local/dev use, the same way
// the teacher's generateTLSConfig does for its HTTPS listener
// (_examples/rustyguts-bken/server/tls.go). Returns the fingerprint for
// the caller to log.
func LoadTLSConfig(certPath, keyPath, hostname string) (*tls.Config, string, error) {
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, "", fmt.Errorf("load tls key pair: %w", err)
		}
		fp := ""
		if len(cert.Certificate) > 0 {
			sum := sha256.Sum256(cert.Certificate[0])
			fp = hex.EncodeToString(sum[:])
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{ALPN}}, fp, nil
	}
	return generateSelfSigned(24*time.Hour, hostname)
}

// generateSelfSigned creates a self-signed ECDSA P256 certificate, mirroring
// the teacher's tls.go almost verbatim (same curve, same SAN handling);
// adapted here to also set NextProtos for QUIC's ALPN requirement.
func generateSelfSigned(validity time.Duration, hostname string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("generate serial: %w", err)
	}

	cn := "chattyd"
	if hostname != "" {
		cn = hostname
	}
	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ALPN},
	}, hex.EncodeToString(fp[:]), nil
}
