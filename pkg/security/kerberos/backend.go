package kerberos

import (
	"context"
	"fmt"
	"sync"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

// Verifier checks a Kerberos token and returns the client principal
// ("name@REALM").
type Verifier interface {
	VerifyToken(token []byte) (string, error)
}

// Krb5Verifier verifies AP-REQs with gokrb5 against the provider's keytab.
type Krb5Verifier struct {
	provider *Provider
}

// NewKrb5Verifier creates the production verifier.
func NewKrb5Verifier(provider *Provider) *Krb5Verifier {
	return &Krb5Verifier{provider: provider}
}

// VerifyToken accepts a raw AP-REQ or one wrapped in a GSS-API initial
// context token.
func (v *Krb5Verifier) VerifyToken(token []byte) (string, error) {
	apReqBytes, err := extractAPReq(token)
	if err != nil {
		return "", fmt.Errorf("extract AP-REQ: %w", err)
	}

	var apReq messages.APReq
	if err := apReq.Unmarshal(apReqBytes); err != nil {
		return "", fmt.Errorf("unmarshal AP-REQ: %w", err)
	}

	settings := service.NewSettings(
		v.provider.Keytab(),
		service.MaxClockSkew(v.provider.MaxClockSkew()),
		service.DecodePAC(false),
		service.KeytabPrincipal(v.provider.ServicePrincipal()),
	)

	ok, _, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return "", fmt.Errorf("verify AP-REQ: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("AP-REQ verification failed")
	}

	// The client identity lives in the decrypted ticket.
	enc := apReq.Ticket.DecryptedEncPart
	return enc.CName.PrincipalNameString() + "@" + enc.CRealm, nil
}

// Backend admits opaque krb5 credentials.
type Backend struct {
	verifier Verifier
}

var _ security.Backend = (*Backend)(nil)

// New creates a backend using verifier.
func New(verifier Verifier) *Backend {
	return &Backend{verifier: verifier}
}

// Name returns "kerberos".
func (b *Backend) Name() string {
	return "kerberos"
}

// CreateSession accepts opaque credentials with the krb5 mechanism.
func (b *Backend) CreateSession(_ context.Context, cred *credential.Credential) (security.Session, error) {
	if cred == nil || cred.Kind != credential.KindOpaque || cred.Mechanism != credential.MechanismKerberos {
		return nil, fmt.Errorf("%w: kerberos backend needs a %s credential", security.ErrUnsupportedMechanism, credential.MechanismKerberos)
	}
	return &session{verifier: b.verifier, token: cred.Token, origin: cred.Origin}, nil
}

type session struct {
	verifier Verifier
	token    []byte
	origin   string

	mu        sync.Mutex
	principal string
}

func (s *session) Login(_ context.Context) error {
	principal, err := s.verifier.VerifyToken(s.token)
	if err != nil {
		logger.Debug("Kerberos verification failed", logger.KeyClientIP, s.origin, logger.KeyError, err)
		return fmt.Errorf("%w: %v", security.ErrAuthenticationRejected, err)
	}

	s.mu.Lock()
	s.principal = principal
	s.mu.Unlock()
	return nil
}

func (s *session) Logout(_ context.Context) error {
	s.mu.Lock()
	s.principal = ""
	s.token = nil
	s.mu.Unlock()
	return nil
}

func (s *session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// extractAPReq strips an optional GSS-API initial context token wrapper:
// 0x60 [length] 0x06 [oid-length] OID AP-REQ.
func extractAPReq(token []byte) ([]byte, error) {
	if len(token) < 2 {
		return nil, fmt.Errorf("token too short: %d bytes", len(token))
	}
	if token[0] != 0x60 {
		return token, nil
	}

	offset := 1
	length, n, err := parseASN1Length(token[offset:])
	if err != nil {
		return nil, fmt.Errorf("parse GSS token length: %w", err)
	}
	offset += n

	if offset+length > len(token) {
		return nil, fmt.Errorf("GSS token truncated: expected %d bytes, have %d", offset+length, len(token))
	}
	if offset >= len(token) || token[offset] != 0x06 {
		return nil, fmt.Errorf("expected OID tag at offset %d", offset)
	}
	offset++
	if offset >= len(token) {
		return nil, fmt.Errorf("truncated OID length")
	}
	offset += 1 + int(token[offset])

	if offset+2 >= len(token) {
		return nil, fmt.Errorf("truncated after OID")
	}
	// 2-byte krb5 token id, 0x0100 for AP-REQ
	if tokenID := uint16(token[offset])<<8 | uint16(token[offset+1]); tokenID != 0x0100 {
		return nil, fmt.Errorf("unexpected krb5 token ID: 0x%04x", tokenID)
	}
	return token[offset+2:], nil
}

// parseASN1Length decodes a DER length and returns it with the number of
// bytes consumed.
func parseASN1Length(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty length")
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}

	numBytes := int(b[0] & 0x7f)
	if numBytes == 0 || numBytes > 4 || len(b) < 1+numBytes {
		return 0, 0, fmt.Errorf("invalid long-form length")
	}
	length := 0
	for i := 1; i <= numBytes; i++ {
		length = length<<8 | int(b[i])
	}
	return length, 1 + numBytes, nil
}
