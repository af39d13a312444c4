package token

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBackend(t *testing.T, cluster string) *Backend {
	t.Helper()
	b, err := New(Config{Secret: testSecret, Cluster: cluster})
	require.NoError(t, err)
	return b
}

func TestNew_ShortSecret(t *testing.T) {
	_, err := New(Config{Secret: "short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestIssueAndValidate(t *testing.T) {
	b := newTestBackend(t, "dev")

	tok, exp, err := b.Issue("member-a", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := b.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "member-a", claims.Subject)
	assert.Equal(t, "dev", claims.Cluster)
	assert.NotEmpty(t, claims.ID)
}

func TestValidate_Failures(t *testing.T) {
	b := newTestBackend(t, "dev")

	t.Run("Expired", func(t *testing.T) {
		b.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, _, err := b.Issue("m", time.Minute)
		b.now = time.Now
		require.NoError(t, err)

		_, err = b.Validate(tok)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("WrongCluster", func(t *testing.T) {
		other := newTestBackend(t, "prod")
		tok, _, err := other.Issue("m", 0)
		require.NoError(t, err)

		_, err = b.Validate(tok)
		assert.ErrorIs(t, err, ErrWrongCluster)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := New(Config{Secret: "ffffffffffffffffffffffffffffffff", Cluster: "dev"})
		require.NoError(t, err)
		tok, _, err := other.Issue("m", 0)
		require.NoError(t, err)

		_, err = b.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("NoneAlgorithm", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "clustergate", Subject: "m"}, Cluster: "dev"}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = b.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := b.Validate("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, "dev")

	t.Run("LoginLogout", func(t *testing.T) {
		tok, _, err := b.Issue("member-a", 0)
		require.NoError(t, err)

		sess, err := b.CreateSession(ctx, credential.NewOpaque(credential.MechanismJWT, []byte(tok)))
		require.NoError(t, err)
		assert.Empty(t, sess.Principal())

		require.NoError(t, sess.Login(ctx))
		assert.Equal(t, "member-a", sess.Principal())

		require.NoError(t, sess.Logout(ctx))
		require.NoError(t, sess.Logout(ctx))
		assert.Empty(t, sess.Principal())
	})

	t.Run("Rejected", func(t *testing.T) {
		sess, err := b.CreateSession(ctx, credential.NewOpaque(credential.MechanismJWT, []byte("bogus")))
		require.NoError(t, err)

		err = sess.Login(ctx)
		assert.ErrorIs(t, err, security.ErrAuthenticationRejected)
		assert.Empty(t, sess.Principal())
	})

	t.Run("WrongMechanism", func(t *testing.T) {
		_, err := b.CreateSession(ctx, credential.NewPlaintext("dev", "pw"))
		assert.ErrorIs(t, err, security.ErrUnsupportedMechanism)
	})
}
