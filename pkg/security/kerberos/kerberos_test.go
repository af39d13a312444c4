package kerberos

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/clustergate/pkg/credential"
	"github.com/marmos91/clustergate/pkg/security"
)

func writeTestKeytab(t *testing.T, path string, kvno uint8) {
	t.Helper()

	kt := keytab.New()
	require.NoError(t, kt.AddEntry("clustergate/member.example.com", "EXAMPLE.COM", "test-password", time.Now(), kvno, 17))
	data, err := kt.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

type fakeVerifier struct {
	principal string
	err       error
	calls     int
}

func (f *fakeVerifier) VerifyToken(_ []byte) (string, error) {
	f.calls++
	return f.principal, f.err
}

func TestResolveOverrides(t *testing.T) {
	t.Setenv("CLUSTERGATE_KERBEROS_KEYTAB", "/env/keytab")
	t.Setenv("CLUSTERGATE_KERBEROS_PRINCIPAL", "")

	assert.Equal(t, "/env/keytab", resolveKeytabPath("/config/keytab"))
	assert.Equal(t, "svc@EXAMPLE.COM", resolveServicePrincipal("svc@EXAMPLE.COM"))
}

func TestNewProvider(t *testing.T) {
	t.Setenv("CLUSTERGATE_KERBEROS_KEYTAB", "")
	t.Setenv("CLUSTERGATE_KERBEROS_PRINCIPAL", "")

	t.Run("MissingPath", func(t *testing.T) {
		_, err := NewProvider(Config{ServicePrincipal: "svc"})
		assert.Error(t, err)
	})

	t.Run("MissingPrincipal", func(t *testing.T) {
		_, err := NewProvider(Config{KeytabPath: "/tmp/x"})
		assert.Error(t, err)
	})

	t.Run("Valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "member.keytab")
		writeTestKeytab(t, path, 1)

		p, err := NewProvider(Config{KeytabPath: path, ServicePrincipal: "clustergate/member.example.com"})
		require.NoError(t, err)
		defer p.Close()

		assert.NotNil(t, p.Keytab())
		assert.Equal(t, 5*time.Minute, p.MaxClockSkew())
		assert.NoError(t, p.Close(), "double close")
	})
}

func TestKeytabManager_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "member.keytab")
	writeTestKeytab(t, path, 1)

	kt, err := loadKeytab(path)
	require.NoError(t, err)
	p := &Provider{keytab: kt, keytabPath: path}

	km := NewKeytabManager(path, p)
	km.interval = time.Hour
	require.NoError(t, km.Start())
	defer km.Stop()

	assert.False(t, km.checkAndReload(), "unchanged file")

	writeTestKeytab(t, path, 2)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	old := p.Keytab()
	assert.True(t, km.checkAndReload())
	assert.NotSame(t, old, p.Keytab())

	// broken file keeps the previous keytab
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	current := p.Keytab()
	assert.False(t, km.checkAndReload())
	assert.Same(t, current, p.Keytab())
}

func TestKeytabManager_StartFailsForMissingFile(t *testing.T) {
	km := NewKeytabManager("/nonexistent", &Provider{})
	assert.Error(t, km.Start())
	km.Stop()
	km.Stop()
}

func TestBackend_Session(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepted", func(t *testing.T) {
		v := &fakeVerifier{principal: "alice@EXAMPLE.COM"}
		b := New(v)

		sess, err := b.CreateSession(ctx, credential.NewOpaque(credential.MechanismKerberos, []byte{0x6e, 0x01}))
		require.NoError(t, err)
		require.NoError(t, sess.Login(ctx))
		assert.Equal(t, "alice@EXAMPLE.COM", sess.Principal())
		assert.Equal(t, 1, v.calls)

		require.NoError(t, sess.Logout(ctx))
		assert.Empty(t, sess.Principal())
	})

	t.Run("Rejected", func(t *testing.T) {
		b := New(&fakeVerifier{err: errors.New("ticket expired")})

		sess, err := b.CreateSession(ctx, credential.NewOpaque(credential.MechanismKerberos, []byte{0x6e, 0x01}))
		require.NoError(t, err)
		assert.ErrorIs(t, sess.Login(ctx), security.ErrAuthenticationRejected)
	})

	t.Run("WrongMechanism", func(t *testing.T) {
		b := New(&fakeVerifier{})
		_, err := b.CreateSession(ctx, credential.NewOpaque(credential.MechanismJWT, []byte("t")))
		assert.ErrorIs(t, err, security.ErrUnsupportedMechanism)
	})
}

func TestExtractAPReq(t *testing.T) {
	raw := []byte{0x6e, 0x03, 0xaa, 0xbb, 0xcc}

	t.Run("Raw", func(t *testing.T) {
		got, err := extractAPReq(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("Wrapped", func(t *testing.T) {
		oid := []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}
		inner := append([]byte{0x06, byte(len(oid))}, oid...)
		inner = append(inner, 0x01, 0x00)
		inner = append(inner, raw...)
		wrapped := append([]byte{0x60, byte(len(inner))}, inner...)

		got, err := extractAPReq(wrapped)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("WrongTokenID", func(t *testing.T) {
		inner := []byte{0x06, 0x01, 0x2a, 0x02, 0x00, 0x6e}
		_, err := extractAPReq(append([]byte{0x60, byte(len(inner))}, inner...))
		assert.Error(t, err)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := extractAPReq([]byte{0x60})
		assert.Error(t, err)
	})
}

func TestParseASN1Length(t *testing.T) {
	n, used, err := parseASN1Length([]byte{0x05})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 1, used)

	n, used, err = parseASN1Length([]byte{0x82, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 256, n)
	assert.Equal(t, 3, used)

	_, _, err = parseASN1Length([]byte{0x85, 1, 2, 3, 4, 5})
	assert.Error(t, err)
}
