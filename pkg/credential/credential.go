// Package credential defines the identity material a client presents when it
// asks to join a cluster member, and its wire encoding.
//
// A Credential is a tagged union: either a plaintext username/password pair
// (the cluster group name and password when no security backend is
// configured) or an opaque token produced by an external mechanism such as a
// signed JWT or a Kerberos AP-REQ.
package credential

import (
	"errors"
	"fmt"
)

// Kind discriminates the Credential variants.
type Kind uint32

const (
	// KindPlaintext carries Username and Password.
	KindPlaintext Kind = 1

	// KindOpaque carries Mechanism and Token.
	KindOpaque Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindPlaintext:
		return "plaintext"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Mechanism names used in opaque credentials.
const (
	MechanismJWT      = "jwt"
	MechanismKerberos = "krb5"

	// MechanismPlaintext is reported for plaintext credentials.
	MechanismPlaintext = "plaintext"
)

var (
	// ErrInvalid is returned by Validate when a credential does not carry
	// exactly one populated variant.
	ErrInvalid = errors.New("credential: invalid")
)

// Credential is the identity a client presents during admission.
type Credential struct {
	Kind Kind

	// Plaintext variant
	Username string
	Password string

	// Opaque variant
	Mechanism string
	Token     []byte

	// Origin is the remote peer host. It is filled in by the server after
	// extraction and never travels on the wire.
	Origin string
}

// NewPlaintext returns a plaintext credential.
func NewPlaintext(username, password string) *Credential {
	return &Credential{Kind: KindPlaintext, Username: username, Password: password}
}

// NewOpaque returns an opaque credential for mechanism.
func NewOpaque(mechanism string, token []byte) *Credential {
	return &Credential{Kind: KindOpaque, Mechanism: mechanism, Token: token}
}

// IsPlaintext reports whether c is a plaintext credential.
func (c *Credential) IsPlaintext() bool {
	return c != nil && c.Kind == KindPlaintext
}

// MechanismName returns the mechanism used for logging and metrics labels.
func (c *Credential) MechanismName() string {
	switch {
	case c == nil:
		return "none"
	case c.Kind == KindPlaintext:
		return MechanismPlaintext
	case c.Mechanism != "":
		return c.Mechanism
	default:
		return "unknown"
	}
}

// Validate checks that exactly one variant is populated.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil credential", ErrInvalid)
	}

	plainSet := c.Username != "" || c.Password != ""
	opaqueSet := c.Mechanism != "" || len(c.Token) > 0

	switch c.Kind {
	case KindPlaintext:
		if opaqueSet {
			return fmt.Errorf("%w: plaintext credential carries a token", ErrInvalid)
		}
		if c.Username == "" {
			return fmt.Errorf("%w: empty username", ErrInvalid)
		}
	case KindOpaque:
		if plainSet {
			return fmt.Errorf("%w: opaque credential carries a password", ErrInvalid)
		}
		if c.Mechanism == "" || len(c.Token) == 0 {
			return fmt.Errorf("%w: opaque credential needs mechanism and token", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalid, c.Kind)
	}
	return nil
}

// String never includes secret material.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Kind == KindPlaintext {
		return fmt.Sprintf("plaintext(user=%s)", c.Username)
	}
	return fmt.Sprintf("opaque(mechanism=%s, %d bytes)", c.Mechanism, len(c.Token))
}
