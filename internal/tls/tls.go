// Package tls builds client TLS configurations for the relay's outbound
// connections to the database and the mail server.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig returns a TLS configuration for connecting to serverName.
//
// In strict mode the server certificate is verified against the system roots,
// or against caFile when one is given, and TLS 1.2 is the minimum version.
// Otherwise verification is skipped, which suits development databases and
// mail relays with self-signed certificates.
func ClientConfig(serverName string, strict bool, caFile string) (*tls.Config, error) {
	if !strict {
		return &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: true,
		}, nil
	}

	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if caFile != "" {
		pool, err := LoadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// LoadCertPool reads PEM certificates from path into a new pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("CA file not found: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in CA file %s", path)
	}
	return pool, nil
}
