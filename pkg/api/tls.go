package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var ErrTLSConfig = errors.New("invalid tls config")

// TLSFiles names the PEM files of a listener. ClientCA switches on mutual TLS,
// which is how peers that do not use bearer tokens authenticate.
type TLSFiles struct {
	Cert     string
	Key      string
	ClientCA string
}

func (f TLSFiles) Enabled() bool { return f.Cert != "" || f.Key != "" }

// ServerTLSConfig loads f. It returns nil when TLS is not configured.
func ServerTLSConfig(f TLSFiles) (*tls.Config, error) {
	if !f.Enabled() {
		if f.ClientCA != "" {
			return nil, fmt.Errorf("%w: client ca without certificate", ErrTLSConfig)
		}
		return nil, nil
	}
	if f.Cert == "" || f.Key == "" {
		return nil, fmt.Errorf("%w: both certificate and key are required", ErrTLSConfig)
	}
	cert, err := tls.LoadX509KeyPair(f.Cert, f.Key)
	if err != nil {
		return nil, fmt.Errorf("load cert/key: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if f.ClientCA == "" {
		return cfg, nil
	}
	caData, err := os.ReadFile(f.ClientCA)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, f.ClientCA)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}
