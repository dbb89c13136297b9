package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Enabled reports whether any TLS path is set.
func (c TLSConfig) Enabled() bool {
	return c.CACert != "" || c.NodeCert != "" || c.NodeKey != ""
}

// LoadTLSConfig builds the mutual TLS config peers use. It returns
// (nil, nil) when cfg is nil or disabled, meaning plain TCP. Setting only
// some of the paths is an error.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, nil
	}
	if cfg.CACert == "" || cfg.NodeCert == "" || cfg.NodeKey == "" {
		return nil, errors.New("tls: ca_cert, node_cert and node_key must all be set")
	}

	cert, err := tls.LoadX509KeyPair(cfg.NodeCert, cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load node cert/key: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
