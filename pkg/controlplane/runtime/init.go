package runtime

import (
	"errors"
	"fmt"
	"slices"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/controlplane/store"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
	"github.com/marmos91/clustergate/pkg/security/kerberos"
	"github.com/marmos91/clustergate/pkg/security/password"
	"github.com/marmos91/clustergate/pkg/security/token"
)

// securityComponents are the backends built from the security section.
type securityComponents struct {
	// backend is nil when the group comparison is used.
	backend  security.Backend
	tokens   *token.Backend
	kerberos *kerberos.Provider
}

// NeedsStore reports whether cfg requires the control plane database.
func NeedsStore(cfg *config.Config) bool {
	return cfg.Audit.Enabled || usesBackend(cfg.Security, config.BackendPassword)
}

func usesBackend(sec config.SecurityConfig, name string) bool {
	if sec.Backend == name {
		return true
	}
	return sec.Backend == config.BackendChain && slices.Contains(sec.Chain, name)
}

// NewTokenBackend builds the JWT backend from cfg. It is also used to issue
// member and admin tokens.
func NewTokenBackend(cfg *config.Config) (*token.Backend, error) {
	return token.New(token.Config{
		Secret:  cfg.Security.Token.Secret,
		Issuer:  cfg.Security.Token.Issuer,
		Cluster: cfg.Group.Name,
		TTL:     cfg.Security.Token.TTL,
	})
}

// initSecurity builds the configured backend. st may be nil unless the
// password backend is in use.
func initSecurity(cfg *config.Config, st *store.GORMStore) (*securityComponents, error) {
	sec := &securityComponents{}

	if cfg.Security.Token.Secret != "" {
		tokens, err := NewTokenBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("token backend: %w", err)
		}
		sec.tokens = tokens
	}

	build := func(name string) (security.Backend, error) {
		switch name {
		case config.BackendToken:
			if sec.tokens == nil {
				return nil, errors.New("token backend requires security.token.secret")
			}
			return sec.tokens, nil
		case config.BackendKerberos:
			if sec.kerberos == nil {
				provider, err := kerberos.NewProvider(kerberos.Config{
					KeytabPath:       cfg.Security.Kerberos.KeytabPath,
					ServicePrincipal: cfg.Security.Kerberos.ServicePrincipal,
					MaxClockSkew:     cfg.Security.Kerberos.MaxClockSkew,
				})
				if err != nil {
					return nil, fmt.Errorf("kerberos backend: %w", err)
				}
				sec.kerberos = provider
			}
			return kerberos.New(kerberos.NewKrb5Verifier(sec.kerberos)), nil
		case config.BackendPassword:
			if st == nil {
				return nil, errors.New("password backend requires the control plane database")
			}
			return password.New(st), nil
		default:
			return nil, fmt.Errorf("unknown security backend %q", name)
		}
	}

	var err error
	switch cfg.Security.Backend {
	case config.BackendNone, "":
		logger.Info("No security backend configured, using group credentials", "group", cfg.Group.Name)
		return sec, nil

	case config.BackendChain:
		chain := security.NewChain()
		for _, name := range cfg.Security.Chain {
			b, berr := build(name)
			if berr != nil {
				sec.close()
				return nil, berr
			}
			chain.Register(chainMechanism(name), b)
		}
		sec.backend = chain

	default:
		sec.backend, err = build(cfg.Security.Backend)
		if err != nil {
			sec.close()
			return nil, err
		}
	}

	logger.Info("Security backend configured", "backend", sec.backend.Name())
	return sec, nil
}

// chainMechanism maps a backend name to the credential mechanism it serves.
func chainMechanism(backend string) string {
	switch backend {
	case config.BackendToken:
		return credential.MechanismJWT
	case config.BackendKerberos:
		return credential.MechanismKerberos
	default:
		return credential.MechanismPlaintext
	}
}

func (s *securityComponents) close() {
	if s.kerberos != nil {
		if err := s.kerberos.Close(); err != nil {
			logger.Debug("Error closing kerberos provider", logger.KeyError, err)
		}
		s.kerberos = nil
	}
}
