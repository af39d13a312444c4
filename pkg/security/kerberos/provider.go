// Package kerberos implements a security backend that admits clients
// presenting a Kerberos AP-REQ for the member's service principal.
//
// The keytab is loaded at startup and polled for changes so that key rotation
// does not need a restart.
package kerberos

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/clustergate/internal/logger"
)

// Config holds Kerberos backend configuration.
type Config struct {
	KeytabPath       string
	ServicePrincipal string
	MaxClockSkew     time.Duration
}

// Provider holds the keytab and service principal used to verify AP-REQs.
//
// Thread Safety: All methods are safe for concurrent use. The keytab can be
// hot-reloaded at runtime via ReloadKeytab.
type Provider struct {
	keytab           *keytab.Keytab
	servicePrincipal string
	maxClockSkew     time.Duration
	keytabPath       string
	keytabManager    *KeytabManager
	mu               sync.RWMutex
}

// NewProvider loads the keytab and starts polling it for changes.
//
// CLUSTERGATE_KERBEROS_KEYTAB and CLUSTERGATE_KERBEROS_PRINCIPAL override the
// configured keytab path and service principal.
func NewProvider(cfg Config) (*Provider, error) {
	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set keytab_path or CLUSTERGATE_KERBEROS_KEYTAB)")
	}

	servicePrincipal := resolveServicePrincipal(cfg.ServicePrincipal)
	if servicePrincipal == "" {
		return nil, fmt.Errorf("kerberos service principal not configured (set service_principal or CLUSTERGATE_KERBEROS_PRINCIPAL)")
	}

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}

	skew := cfg.MaxClockSkew
	if skew == 0 {
		skew = 5 * time.Minute
	}

	p := &Provider{
		keytab:           kt,
		servicePrincipal: servicePrincipal,
		maxClockSkew:     skew,
		keytabPath:       keytabPath,
	}

	km := NewKeytabManager(keytabPath, p)
	if err := km.Start(); err != nil {
		// hot reload is optional; the loaded keytab stays usable
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			logger.KeyPath, keytabPath, logger.KeyError, err)
	}
	p.keytabManager = km

	return p, nil
}

// Keytab returns the current keytab.
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServicePrincipal returns the service principal name.
func (p *Provider) ServicePrincipal() string {
	return p.servicePrincipal
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// ReloadKeytab re-reads the keytab file and swaps it in. On failure the old
// keytab stays active.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()
	return nil
}

// Close stops keytab polling. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}

func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("CLUSTERGATE_KERBEROS_KEYTAB"); envPath != "" {
		return envPath
	}
	return configPath
}

func resolveServicePrincipal(configPrincipal string) string {
	if envSPN := os.Getenv("CLUSTERGATE_KERBEROS_PRINCIPAL"); envSPN != "" {
		return envSPN
	}
	return configPrincipal
}
