package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vaulttest"
)

func TestNewSessionIgnoresEnvironmentToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "s.from-env")

	sess, err := NewSession("http://127.0.0.1:8200/")
	require.NoError(t, err)
	assert.Equal(t, "", sess.Token())
	assert.False(t, sess.Authenticated())
	assert.Equal(t, "http://127.0.0.1:8200", sess.Client().Address())
}

func TestSessionsDoNotShareState(t *testing.T) {
	a, err := NewSession("http://127.0.0.1:8200/")
	require.NoError(t, err)
	b, err := NewSession("http://127.0.0.1:8200/")
	require.NoError(t, err)

	a.SetToken("s.a")
	a.MarkAuthenticated()

	assert.NotSame(t, a.Client(), b.Client())
	assert.NotSame(t, a.Metrics().Registry(), b.Metrics().Registry())
	assert.Equal(t, "", b.Token())
	assert.False(t, b.Authenticated())
}

func TestSetTokenClearsAuthenticated(t *testing.T) {
	sess, err := NewSession("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, sess.URI)

	sess.MarkAuthenticated()
	sess.SetToken("s.other")
	assert.False(t, sess.Authenticated())
	assert.Equal(t, "s.other", sess.Token())
}

func TestMetricsCountRequests(t *testing.T) {
	srv := vaulttest.New(t)
	sess, err := NewSession(srv.URL)
	require.NoError(t, err)

	require.NoError(t, sess.CheckSeal(context.Background(), ""))
	require.NoError(t, sess.CheckSeal(context.Background(), ""))

	assert.Equal(t, float64(2), testutil.ToFloat64(sess.Metrics().Requests().WithLabelValues("get", "200")))
	assert.Contains(t, sess.Metrics().Summary(), "GET 200: 2")
}

func TestStatusCodeAndErrorText(t *testing.T) {
	srv := vaulttest.New(t)
	sess, err := NewSession(srv.URL)
	require.NoError(t, err)
	sess.SetToken("s.bogus")

	_, err = sess.Client().Auth().Token().LookupSelfWithContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, 403, StatusCode(err))
	assert.True(t, HasErrorText(err, "permission denied"))

	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.False(t, HasErrorText(errors.New("permission denied"), "permission denied"))
}

func TestCheckSeal(t *testing.T) {
	ctx := context.Background()

	t.Run("unsealed is a no-op", func(t *testing.T) {
		srv := vaulttest.New(t)
		sess, err := NewSession(srv.URL)
		require.NoError(t, err)
		require.NoError(t, sess.CheckSeal(ctx, ""))
		assert.Equal(t, 0, srv.CountRequests("PUT /v1/sys/unseal"))
	})

	t.Run("sealed with correct shard", func(t *testing.T) {
		srv := vaulttest.New(t, vaulttest.Sealed("c2hhcmQ="))
		sess, err := NewSession(srv.URL)
		require.NoError(t, err)
		require.NoError(t, sess.CheckSeal(ctx, "c2hhcmQ="))
		assert.False(t, srv.Sealed())
	})

	t.Run("sealed without shard", func(t *testing.T) {
		srv := vaulttest.New(t, vaulttest.Sealed("c2hhcmQ="))
		sess, err := NewSession(srv.URL)
		require.NoError(t, err)

		err = sess.CheckSeal(ctx, "")
		var se vperrors.SealError
		require.True(t, errors.As(err, &se))
		assert.Contains(t, se.Error(), "no unseal shard")
	})

	t.Run("sealed with wrong shard is not retried", func(t *testing.T) {
		srv := vaulttest.New(t, vaulttest.Sealed("c2hhcmQ="))
		sess, err := NewSession(srv.URL)
		require.NoError(t, err)

		err = sess.CheckSeal(ctx, "d3Jvbmc=")
		var se vperrors.SealError
		require.True(t, errors.As(err, &se))
		assert.True(t, srv.Sealed())
		assert.Equal(t, 1, srv.CountRequests("PUT /v1/sys/unseal"))
	})

	t.Run("uninitialized", func(t *testing.T) {
		srv := vaulttest.New(t, vaulttest.Uninitialized())
		sess, err := NewSession(srv.URL)
		require.NoError(t, err)

		err = sess.CheckSeal(ctx, "")
		var se vperrors.SealError
		require.True(t, errors.As(err, &se))
		assert.Contains(t, se.Error(), "not initialized")
	})
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	srv := vaulttest.New(t, vaulttest.Uninitialized())
	sess, err := NewSession(srv.URL)
	require.NoError(t, err)

	ok, err := sess.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := sess.Initialize(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RootToken)
	assert.NotEmpty(t, res.Shard)
	assert.True(t, srv.Sealed())

	require.NoError(t, sess.CheckSeal(ctx, res.Shard))
	assert.False(t, srv.Sealed())

	_, err = sess.Initialize(ctx)
	var ue vperrors.UserError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Backend is already initialized", ue.Message)
}
