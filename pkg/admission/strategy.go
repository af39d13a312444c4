package admission

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

// verdict is the result of deciding one credential.
type verdict struct {
	outcome   string
	session   security.Session
	principal string
	err       error
}

// strategy is the decision path fixed at Handler construction.
type strategy interface {
	name() string
	extract(req Request) (*credential.Credential, error)
	decide(ctx context.Context, cred *credential.Credential, conn cluster.Connection) verdict
}

// backendStrategy delegates to a pluggable security backend.
type backendStrategy struct {
	backend security.Backend
}

func (s *backendStrategy) name() string {
	return "backend:" + s.backend.Name()
}

func (s *backendStrategy) extract(req Request) (*credential.Credential, error) {
	cred, err := credential.Decode(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cred, nil
}

func (s *backendStrategy) decide(ctx context.Context, cred *credential.Credential, conn cluster.Connection) verdict {
	cred.Origin = conn.RemoteAddr().Host

	ctx, span := telemetry.StartLoginSpan(ctx, s.backend.Name())
	defer span.End()

	sess, err := s.backend.CreateSession(ctx, cred)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return verdict{outcome: OutcomeRejected, err: err}
	}
	if err := sess.Login(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		_ = sess.Logout(ctx)
		return verdict{outcome: OutcomeRejected, err: err}
	}
	return verdict{outcome: OutcomeAuthenticated, session: sess, principal: sess.Principal()}
}

// groupStrategy compares a plaintext credential with the cluster group.
type groupStrategy struct {
	groupName     []byte
	groupPassword []byte
}

func (s *groupStrategy) name() string {
	return "group"
}

func (s *groupStrategy) extract(req Request) (*credential.Credential, error) {
	if len(req.Args) < 2 {
		return nil, fmt.Errorf("%w: expected group name and password, got %d argument(s)", ErrMalformedRequest, len(req.Args))
	}
	return credential.NewPlaintext(req.Args[0], req.Args[1]), nil
}

func (s *groupStrategy) decide(_ context.Context, cred *credential.Credential, _ cluster.Connection) verdict {
	if !cred.IsPlaintext() {
		return verdict{
			outcome: OutcomeInconsistent,
			err:     fmt.Errorf("no security backend configured but received %s credential", cred.MechanismName()),
		}
	}

	// Both comparisons always run.
	nameOK := subtle.ConstantTimeCompare([]byte(cred.Username), s.groupName)
	passOK := subtle.ConstantTimeCompare([]byte(cred.Password), s.groupPassword)
	if nameOK&passOK != 1 {
		return verdict{outcome: OutcomeRejected, err: security.ErrAuthenticationRejected}
	}
	return verdict{outcome: OutcomeAuthenticated, principal: cred.Username}
}
