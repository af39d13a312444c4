package security_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

type stubBackend struct {
	name string
	got  *credential.Credential
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) CreateSession(_ context.Context, cred *credential.Credential) (security.Session, error) {
	b.got = cred
	return nil, nil
}

func TestChain_Routing(t *testing.T) {
	ctx := context.Background()
	jwt := &stubBackend{name: "token"}
	plain := &stubBackend{name: "password"}

	c := security.NewChain().
		Register(credential.MechanismJWT, jwt).
		Register(credential.MechanismPlaintext, plain)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "chain(jwt=token,plaintext=password)", c.Name())

	_, err := c.CreateSession(ctx, credential.NewOpaque(credential.MechanismJWT, []byte("t")))
	require.NoError(t, err)
	assert.NotNil(t, jwt.got)
	assert.Nil(t, plain.got)

	_, err = c.CreateSession(ctx, credential.NewPlaintext("u", "p"))
	require.NoError(t, err)
	assert.NotNil(t, plain.got)

	_, err = c.CreateSession(ctx, credential.NewOpaque(credential.MechanismKerberos, []byte("t")))
	assert.ErrorIs(t, err, security.ErrUnsupportedMechanism)
}
