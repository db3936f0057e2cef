package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
	"github.com/johnnybubonic/vaultpass/internal/prompt"
	"github.com/johnnybubonic/vaultpass/internal/vault"
	"github.com/johnnybubonic/vaultpass/internal/vaulttest"
)

// recordingConfirmer answers every question the same way and keeps them
type recordingConfirmer struct {
	answer    bool
	questions []string
}

func (r *recordingConfirmer) Confirm(q string) (bool, error) {
	r.questions = append(r.questions, q)
	return r.answer, nil
}

func newStore(t *testing.T, srv *vaulttest.Server, confirm prompt.Confirmer) *Store {
	t.Helper()
	sess, err := vault.NewSession(srv.URL)
	require.NoError(t, err)
	sess.SetToken(vaulttest.RootToken)
	return New(sess, mounts.NewRegistry(sess, nil, nil), confirm, nil)
}

func newServer(t *testing.T) *vaulttest.Server {
	return vaulttest.New(t, vaulttest.WithMount("kv1", "kv", "1"))
}

func TestDispatchTableComplete(t *testing.T) {
	for _, v := range mounts.Variants {
		for _, op := range Ops {
			assert.True(t, Supports(v, op), "%s %s", v, op)
		}
	}
	assert.Len(t, dispatch, len(mounts.Variants)*len(Ops))

	_, err := handlerFor(mounts.Descriptor{Name: "x", Variant: mounts.Variant(42)}, OpRead)
	var me vperrors.MountError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, vperrors.UnsupportedOperation, me.Kind)
	assert.Equal(t, "read", me.Operation)
}

func TestSecretPath(t *testing.T) {
	p := NewPath("/secret/", "/app/db/pass/")
	assert.Equal(t, "secret:app/db/pass", p.String())

	parent, key := p.Split()
	assert.Equal(t, NewPath("secret", "app/db"), parent)
	assert.Equal(t, "pass", key)

	parent, key = NewPath("secret", "top").Split()
	assert.Equal(t, "", parent.Path)
	assert.Equal(t, "top", key)

	assert.Equal(t, "app", NewPath("secret", "").Child("app/").Path)
	assert.Equal(t, "app/db", NewPath("secret", "app").Child("db").Path)
}

func TestRoundTripAllVariants(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	s := newStore(t, srv, nil)
	data := map[string]interface{}{"user": "a", "pass": "b"}

	for _, m := range []string{"secret", "kv1", "cubbyhole"} {
		t.Run(m, func(t *testing.T) {
			p := NewPath(m, "app/db")
			require.NoError(t, s.Write(ctx, p, data, WriteOptions{}))

			got, err := s.Read(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, data, got.Data)
			assert.Empty(t, got.Key)

			names, err := s.List(ctx, NewPath(m, "app"))
			require.NoError(t, err)
			assert.Equal(t, []string{"db"}, names)

			names, err = s.List(ctx, NewPath(m, ""))
			require.NoError(t, err)
			assert.Equal(t, []string{"app/"}, names)

			require.NoError(t, s.Delete(ctx, p, DeleteOptions{Force: true}))
			_, err = s.Read(ctx, p)
			assert.True(t, vperrors.IsNotFound(err), "%v", err)
		})
	}
}

func TestWriteIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	s := newStore(t, srv, nil)
	data := map[string]interface{}{"user": "a", "pass": "b"}

	for _, m := range []string{"secret", "kv1"} {
		p := NewPath(m, "app/db")
		require.NoError(t, s.Write(ctx, p, data, WriteOptions{Force: true}))
		require.NoError(t, s.Write(ctx, p, data, WriteOptions{Force: true}))
		assert.Equal(t, data, srv.Stored(m, "app/db"), m)
	}
	assert.Equal(t, 1, srv.Versions("secret", "app/db"))

	p := NewPath("cubbyhole", "app/db")
	require.NoError(t, s.Write(ctx, p, data, WriteOptions{Force: true}))
	require.NoError(t, s.Write(ctx, p, data, WriteOptions{Force: true}))
	got, err := s.Read(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
}

func TestWriteConflicts(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a", "pass": "old"})
	p := NewPath("secret", "app/db")

	t.Run("declined", func(t *testing.T) {
		confirm := &recordingConfirmer{}
		err := newStore(t, srv, confirm).Write(ctx, p, map[string]interface{}{"pass": "new"}, WriteOptions{})

		var pe vperrors.PathError
		require.True(t, errors.As(err, &pe), "%v", err)
		assert.Equal(t, vperrors.AlreadyExists, pe.Kind)
		assert.Equal(t, "pass", pe.Key)
		require.Len(t, confirm.questions, 1)
		assert.Contains(t, confirm.questions[0], "secret:app/db (pass) already exists")
		assert.Equal(t, "old", srv.Stored("secret", "app/db")["pass"])
	})

	t.Run("new key merges without asking", func(t *testing.T) {
		confirm := &recordingConfirmer{}
		err := newStore(t, srv, confirm).Write(ctx, p, map[string]interface{}{"host": "db1"}, WriteOptions{})
		require.NoError(t, err)
		assert.Empty(t, confirm.questions)
		assert.Equal(t, map[string]interface{}{"user": "a", "pass": "old", "host": "db1"}, srv.Stored("secret", "app/db"))
	})

	t.Run("confirmed", func(t *testing.T) {
		err := newStore(t, srv, prompt.Always{}).Write(ctx, p, map[string]interface{}{"pass": "new"}, WriteOptions{})
		require.NoError(t, err)
		assert.Equal(t, "new", srv.Stored("secret", "app/db")["pass"])
		assert.Equal(t, "a", srv.Stored("secret", "app/db")["user"])
	})

	t.Run("replace", func(t *testing.T) {
		err := newStore(t, srv, nil).Write(ctx, p, map[string]interface{}{"token": "t"}, WriteOptions{Force: true, Replace: true})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"token": "t"}, srv.Stored("secret", "app/db"))
	})

	t.Run("mount root", func(t *testing.T) {
		err := newStore(t, srv, nil).Write(ctx, NewPath("secret", ""), map[string]interface{}{"k": "v"}, WriteOptions{Force: true})
		var pe vperrors.PathError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, vperrors.IsDirectory, pe.Kind)
	})
}

func TestReadKeyReference(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
	s := newStore(t, srv, nil)

	got, err := s.Read(ctx, NewPath("secret", "app/db/pass"))
	require.NoError(t, err)
	assert.Equal(t, "pass", got.Key)
	assert.Equal(t, NewPath("secret", "app/db"), got.Path)
	assert.Equal(t, "b", got.Value())

	_, err = s.Read(ctx, NewPath("secret", "app/db/nope"))
	assert.True(t, vperrors.IsNotFound(err))

	_, err = s.Read(ctx, NewPath("secret", "app"))
	var pe vperrors.PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, vperrors.IsDirectory, pe.Kind)
}

func TestReadUnknownMount(t *testing.T) {
	s := newStore(t, newServer(t), nil)
	_, err := s.Read(context.Background(), NewPath("nope", "a"))

	var me vperrors.MountError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, vperrors.UnknownMount, me.Kind)
}

func TestBackendErrorCarriesContext(t *testing.T) {
	srv := newServer(t)
	s := newStore(t, srv, nil)
	require.NoError(t, s.mounts.(*mounts.Registry).Discover(context.Background()))
	s.sess.SetToken("s.revoked")

	_, err := s.Read(context.Background(), NewPath("kv1", "app"))
	var be vperrors.BackendError
	require.True(t, errors.As(err, &be), "%v", err)
	assert.Equal(t, "read", be.Op)
	assert.Equal(t, "kv1", be.Mount)
	assert.Equal(t, "kv1", be.Variant)
	assert.Equal(t, 403, vault.StatusCode(err))
}

func TestClassifyAndExists(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "app", map[string]interface{}{"note": "x"})
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
	s := newStore(t, srv, nil)

	tests := []struct {
		path string
		want Kind
	}{
		{"", KindDirectory},
		{"app", KindDirectory},
		{"app/db", KindLeaf},
		{"app/db/pass", KindKey},
		{"app/db/nope", KindNone},
		{"nope", KindNone},
	}
	for _, tt := range tests {
		got, err := s.Classify(ctx, NewPath("secret", tt.path))
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	ok, err := s.Exists(ctx, NewPath("secret", "app/db"), false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, NewPath("secret", "app/db/pass"), false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, NewPath("secret", "app/db/pass"), true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, NewPath("secret", "app/db"), true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteConfirmations(t *testing.T) {
	ctx := context.Background()
	seed := func(srv *vaulttest.Server) {
		srv.Seed("kv1", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
		srv.Seed("kv1", "app/web", map[string]interface{}{"key": "k"})
	}

	t.Run("leaf declined", func(t *testing.T) {
		srv := newServer(t)
		seed(srv)
		confirm := &recordingConfirmer{}
		err := newStore(t, srv, confirm).Delete(ctx, NewPath("kv1", "app/db"), DeleteOptions{})
		assert.ErrorIs(t, err, vperrors.ErrConfirmationDeclined)
		assert.Equal(t, []string{"Really delete kv1:app/db? (y/N) "}, confirm.questions)
		assert.NotNil(t, srv.Stored("kv1", "app/db"))
	})

	t.Run("non-interactive declines", func(t *testing.T) {
		srv := newServer(t)
		seed(srv)
		err := newStore(t, srv, prompt.Never{}).Delete(ctx, NewPath("kv1", "app"), DeleteOptions{Recursive: true})
		assert.ErrorIs(t, err, vperrors.ErrConfirmationDeclined)
		assert.NotNil(t, srv.Stored("kv1", "app/web"))
	})

	t.Run("directory asks to recurse", func(t *testing.T) {
		srv := newServer(t)
		seed(srv)
		confirm := &recordingConfirmer{answer: true}
		require.NoError(t, newStore(t, srv, confirm).Delete(ctx, NewPath("kv1", "app"), DeleteOptions{}))
		require.Len(t, confirm.questions, 1)
		assert.Contains(t, confirm.questions[0], "is a path, delete recursively?")
		assert.Nil(t, srv.Stored("kv1", "app/db"))
		assert.Nil(t, srv.Stored("kv1", "app/web"))
	})

	t.Run("explicit recursion asks differently", func(t *testing.T) {
		srv := newServer(t)
		seed(srv)
		confirm := &recordingConfirmer{answer: true}
		require.NoError(t, newStore(t, srv, confirm).Delete(ctx, NewPath("kv1", "app"), DeleteOptions{Recursive: true}))
		require.Len(t, confirm.questions, 1)
		assert.Contains(t, confirm.questions[0], "and everything under it?")
	})

	t.Run("force skips questions", func(t *testing.T) {
		srv := newServer(t)
		seed(srv)
		confirm := &recordingConfirmer{}
		require.NoError(t, newStore(t, srv, confirm).Delete(ctx, NewPath("kv1", "app/db"), DeleteOptions{Force: true}))
		assert.Empty(t, confirm.questions)
		assert.Nil(t, srv.Stored("kv1", "app/db"))
	})

	t.Run("missing", func(t *testing.T) {
		srv := newServer(t)
		err := newStore(t, srv, prompt.Always{}).Delete(ctx, NewPath("kv1", "gone"), DeleteOptions{})
		assert.True(t, vperrors.IsNotFound(err))
	})
}

func TestDeleteKey(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
	s := newStore(t, srv, prompt.Always{})

	require.NoError(t, s.Delete(ctx, NewPath("secret", "app/db/pass"), DeleteOptions{}))
	assert.Equal(t, map[string]interface{}{"user": "a"}, srv.Stored("secret", "app/db"))

	// removing the last key removes the leaf
	require.NoError(t, s.Delete(ctx, NewPath("secret", "app/db/user"), DeleteOptions{}))
	assert.Nil(t, srv.Stored("secret", "app/db"))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a"})
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
	s := newStore(t, srv, nil)

	require.Equal(t, 2, srv.Versions("secret", "app/db"))
	require.NoError(t, s.Destroy(ctx, NewPath("secret", "app/db/pass"), DeleteOptions{Force: true}))
	assert.Equal(t, 1, srv.Versions("secret", "app/db"))
	assert.Equal(t, map[string]interface{}{"user": "a"}, srv.Stored("secret", "app/db"))

	require.NoError(t, s.Destroy(ctx, NewPath("secret", "app/db"), DeleteOptions{Force: true}))
	assert.Equal(t, 0, srv.Versions("secret", "app/db"))

	// soft delete keeps the history
	srv.Seed("secret", "app/web", map[string]interface{}{"k": "v"})
	require.NoError(t, s.Delete(ctx, NewPath("secret", "app/web"), DeleteOptions{Force: true}))
	assert.Equal(t, 1, srv.Versions("secret", "app/web"))
	assert.Nil(t, srv.Stored("secret", "app/web"))
}

func TestCopyAndMove(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("kv1", "app/db", map[string]interface{}{"user": "a", "pass": "b"})
	s := newStore(t, srv, nil)

	require.NoError(t, s.Copy(ctx, NewPath("kv1", "app/db"), NewPath("secret", "copied/db"), WriteOptions{}))
	assert.Equal(t, map[string]interface{}{"user": "a", "pass": "b"}, srv.Stored("secret", "copied/db"))
	assert.NotNil(t, srv.Stored("kv1", "app/db"))

	require.NoError(t, s.Move(ctx, NewPath("kv1", "app/db/pass"), NewPath("cubbyhole", "moved"), WriteOptions{}))
	assert.Equal(t, map[string]interface{}{"user": "a"}, srv.Stored("kv1", "app/db"))
	got, err := s.Read(ctx, NewPath("cubbyhole", "moved"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"pass": "b"}, got.Data)

	require.NoError(t, s.Move(ctx, NewPath("kv1", "app/db"), NewPath("kv1", "other/db"), WriteOptions{}))
	assert.Nil(t, srv.Stored("kv1", "app/db"))
	assert.Equal(t, map[string]interface{}{"user": "a"}, srv.Stored("kv1", "other/db"))

	err = s.Copy(ctx, NewPath("kv1", "other"), NewPath("kv1", "x"), WriteOptions{})
	var pe vperrors.PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, vperrors.IsDirectory, pe.Kind)
}

func TestMoveOntoItself(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	data := map[string]interface{}{"user": "a", "pass": "b"}
	srv.Seed("secret", "app/db", data)
	s := newStore(t, srv, nil)
	db := NewPath("secret", "app/db")

	tests := []struct {
		name string
		src  SecretPath
	}{
		{"leaf", db},
		{"key into its own leaf", NewPath("secret", "app/db/pass")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Move(ctx, tt.src, db, WriteOptions{Force: true})
			var ue vperrors.UserError
			require.True(t, errors.As(err, &ue), "%v", err)

			got, err := s.Read(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, data, got.Data)
		})
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	s := newStore(t, srv, prompt.Always{})
	db := NewPath("secret", "app/db")

	require.NoError(t, s.Write(ctx, db, map[string]interface{}{"user": "a", "pass": "b"}, WriteOptions{}))

	got, err := s.Read(ctx, NewPath("secret", "app/db/pass"))
	require.NoError(t, err)
	assert.Equal(t, "b", FormatValue(got.Value()))

	names, err := s.List(ctx, NewPath("secret", "app"))
	require.NoError(t, err)
	assert.Contains(t, names, "db")

	require.NoError(t, s.Delete(ctx, db, DeleteOptions{}))
	_, err = s.Read(ctx, db)
	assert.True(t, vperrors.IsNotFound(err), "%v", err)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{[]byte("b"), "b"},
		{42, "42"},
		{1.5, "1.5"},
		{true, "true"},
		{map[string]interface{}{"a": "b"}, `{"a":"b"}`},
		{[]interface{}{"x", "y"}, `["x","y"]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	srv.Seed("secret", "web/login", map[string]interface{}{"user": "alice", "pass": "hunter2"})
	srv.Seed("secret", "db/admin", map[string]interface{}{"pass": "s3cret"})
	srv.Seed("kv1", "mail/login", map[string]interface{}{"pass": "hunter22"})
	s := newStore(t, srv, nil)

	names, err := s.SearchNames(ctx, regexp.MustCompile(`^log`), "secret", "kv1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kv1/mail/login", "secret/web/login"}, names)

	matches, err := s.SearchValues(ctx, regexp.MustCompile(`hunter`), "secret", "kv1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, NewPath("kv1", "mail/login"), matches[0].Path)
	assert.Equal(t, "pass", matches[0].Key)
	assert.Equal(t, "hunter22", matches[0].Value)
	assert.Equal(t, NewPath("secret", "web/login"), matches[1].Path)
	assert.True(t, strings.HasPrefix(matches[1].Value, "hunter"))
}
