// Package password implements a security backend that admits plaintext
// credentials matching a per-user bcrypt hash in the control plane store.
package password

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

// UserStore is the subset of the control plane store the backend needs.
type UserStore interface {
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error
}

// Backend verifies plaintext credentials against stored users.
type Backend struct {
	users UserStore
}

var _ security.Backend = (*Backend)(nil)

// New creates a password backend.
func New(users UserStore) *Backend {
	return &Backend{users: users}
}

// Name returns "password".
func (b *Backend) Name() string {
	return "password"
}

// CreateSession accepts plaintext credentials.
func (b *Backend) CreateSession(_ context.Context, cred *credential.Credential) (security.Session, error) {
	if !cred.IsPlaintext() {
		return nil, fmt.Errorf("%w: password backend needs a plaintext credential", security.ErrUnsupportedMechanism)
	}
	return &session{users: b.users, username: cred.Username, password: cred.Password}, nil
}

type session struct {
	users    UserStore
	username string
	password string

	mu        sync.Mutex
	principal string
}

func (s *session) Login(ctx context.Context) error {
	s.mu.Lock()
	password := s.password
	s.password = ""
	s.mu.Unlock()

	user, err := s.users.ValidateCredentials(ctx, s.username, password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) || errors.Is(err, models.ErrUserDisabled) {
			return fmt.Errorf("%w: %v", security.ErrAuthenticationRejected, err)
		}
		return fmt.Errorf("validate credentials: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.Username, time.Now()); err != nil {
		logger.Debug("Failed to update last login", "username", user.Username, logger.KeyError, err)
	}

	s.mu.Lock()
	s.principal = user.Username
	s.mu.Unlock()
	return nil
}

func (s *session) Logout(_ context.Context) error {
	s.mu.Lock()
	s.principal = ""
	s.mu.Unlock()
	return nil
}

func (s *session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}
