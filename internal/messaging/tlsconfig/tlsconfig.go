// Package tlsconfig builds *tls.Config values for the messaging transport
// from internal/common/config.TLSConfig, for both the server's listener
// (mutual TLS: client certs verified against CAFile) and the agent/commander
// dialer (server cert verified against CAFile, client cert presented from
// CertFile/KeyFile).
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/ankaios/ankaios/internal/common/config"
)

// Server builds the *tls.Config for the server's listener. It requires and
// verifies a client certificate against CAFile, so only agents/commanders
// holding a certificate signed by the configured CA can complete the
// handshake. Returns nil, nil when cfg.Insecure is set.
func Server(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.Insecure {
		return nil, nil
	}
	pool, err := loadCA(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: failed to load server certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// Client builds the *tls.Config an agent or commander dials the server
// with: the server's certificate is verified against CAFile, and the
// client's own certificate is presented for the server's mTLS check.
// Returns nil, nil when cfg.Insecure is set.
func Client(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.Insecure {
		return nil, nil
	}
	pool, err := loadCA(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: failed to load client certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func loadCA(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlsconfig: failed to parse CA certificate")
	}
	return pool, nil
}
