// Package tls builds the TLS configuration for the API listener from
// either manual PEM certificates or ACME (Let's Encrypt) autocert.
package tls

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/acme/autocert"

	"github.com/dkarpov/certmail/internal/config"
)

// Provider supplies the listener's TLS configuration. With manual
// certificates CertFile/KeyFile are non-empty and Config carries only
// the minimum version; with ACME the config resolves certificates on
// demand and the file paths stay empty.
type Provider struct {
	cfg      *tls.Config
	certFile string
	keyFile  string
}

// NewProvider creates a provider from the listener's TLS settings.
// Returns nil when TLS is not configured.
func NewProvider(c config.TLSConfig) (*Provider, error) {
	if c.ACME.Enabled {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      c.ACME.Email,
			HostPolicy: autocert.HostWhitelist(c.ACME.Domains...),
			Cache:      autocert.DirCache(c.ACME.CacheDir),
		}
		cfg := m.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		return &Provider{cfg: cfg}, nil
	}

	if c.CertFile != "" && c.KeyFile != "" {
		// Load eagerly so a bad certificate fails startup, not the
		// first connection.
		if _, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile); err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		return &Provider{
			cfg:      &tls.Config{MinVersion: tls.VersionTLS12},
			certFile: c.CertFile,
			keyFile:  c.KeyFile,
		}, nil
	}

	return nil, nil
}

// Config returns the TLS configuration for the listener
func (p *Provider) Config() *tls.Config {
	return p.cfg
}

// CertFile returns the manual certificate path, empty for ACME
func (p *Provider) CertFile() string {
	return p.certFile
}

// KeyFile returns the manual key path, empty for ACME
func (p *Provider) KeyFile() string {
	return p.keyFile
}
