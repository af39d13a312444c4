// Package security defines the pluggable authentication backend used during
// client admission.
//
// A Backend turns a presented credential into a Session. The admission layer
// calls Session.Login to perform the actual check and keeps the session on the
// client endpoint so it can be logged out when the endpoint is torn down.
//
// Sub-packages:
//   - token/: HS256 JWT backend
//   - kerberos/: Kerberos AP-REQ backend with keytab hot reload
//   - password/: per-user bcrypt backend backed by pkg/store
package security

import (
	"context"
	"errors"

	"github.com/marmos91/clustergate/pkg/credential"
)

// Backend creates login sessions from credentials.
//
// Thread safety: implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend name for logging and diagnostics.
	Name() string

	// CreateSession prepares a login session for cred. It must not perform
	// blocking network I/O; that belongs in Session.Login.
	CreateSession(ctx context.Context, cred *credential.Credential) (Session, error)
}

// Session is a login context for a single client endpoint.
type Session interface {
	// Login authenticates the session. A rejection wraps
	// ErrAuthenticationRejected.
	Login(ctx context.Context) error

	// Logout releases the session. Safe to call more than once.
	Logout(ctx context.Context) error

	// Principal is the authenticated identity. Empty before a successful Login.
	Principal() string
}

var (
	// ErrAuthenticationRejected indicates the backend refused the credential.
	ErrAuthenticationRejected = errors.New("security: authentication rejected")

	// ErrUnsupportedMechanism indicates no backend handles the credential's
	// mechanism.
	ErrUnsupportedMechanism = errors.New("security: unsupported mechanism")
)
