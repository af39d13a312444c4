// Package token implements a security backend that admits clients presenting
// an HS256 signed JWT issued for the cluster.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

// Common errors for token operations.
var (
	ErrInvalidSecretLength = errors.New("token secret must be at least 32 characters")
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrWrongCluster        = errors.New("token issued for another cluster")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
)

// Config holds configuration for token verification and issuance.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "clustergate"
	Issuer string

	// Cluster is the cluster name tokens must be issued for.
	Cluster string

	// TTL is the lifetime of issued tokens. Default: 1 hour.
	TTL time.Duration
}

// Claims are the JWT claims carried by a member token.
type Claims struct {
	jwt.RegisteredClaims

	// Cluster is the cluster group name the token admits to.
	Cluster string `json:"cluster"`
}

// Backend verifies JWT credentials.
type Backend struct {
	config Config
	now    func() time.Time
}

var _ security.Backend = (*Backend)(nil)

// New creates a token backend, applying defaults.
func New(config Config) (*Backend, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "clustergate"
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	return &Backend{config: config, now: time.Now}, nil
}

// Name returns "token".
func (b *Backend) Name() string {
	return "token"
}

// Issue signs a token for subject. A zero ttl uses the configured TTL.
func (b *Backend) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = b.config.TTL
	}
	now := b.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    b.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Cluster: b.config.Cluster,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.config.Secret))
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and checks its signature, issuer, expiry and
// cluster claim.
func (b *Backend) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(b.config.Secret), nil
	},
		jwt.WithIssuer(b.config.Issuer),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if b.config.Cluster != "" && claims.Cluster != b.config.Cluster {
		return nil, ErrWrongCluster
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CreateSession accepts opaque credentials with the jwt mechanism.
func (b *Backend) CreateSession(_ context.Context, cred *credential.Credential) (security.Session, error) {
	if cred == nil || cred.Kind != credential.KindOpaque || cred.Mechanism != credential.MechanismJWT {
		return nil, fmt.Errorf("%w: token backend needs a %s credential", security.ErrUnsupportedMechanism, credential.MechanismJWT)
	}
	return &session{backend: b, raw: string(cred.Token), origin: cred.Origin}, nil
}

type session struct {
	backend *Backend
	raw     string
	origin  string

	mu        sync.Mutex
	principal string
	loggedIn  bool
}

func (s *session) Login(_ context.Context) error {
	claims, err := s.backend.Validate(s.raw)
	if err != nil {
		return fmt.Errorf("%w: %v", security.ErrAuthenticationRejected, err)
	}

	s.mu.Lock()
	s.principal = claims.Subject
	s.loggedIn = true
	s.mu.Unlock()
	return nil
}

func (s *session) Logout(_ context.Context) error {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
	return nil
}

func (s *session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return ""
	}
	return s.principal
}
