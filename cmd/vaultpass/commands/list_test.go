package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vaulttest"
)

func seededServer(t *testing.T) *vaulttest.Server {
	t.Helper()
	srv := vaulttest.New(t, vaulttest.WithMount("legacy", "kv", "1"))
	srv.Seed("secret", "app/db", map[string]interface{}{"user": "alice", "pass": "hunter2"})
	srv.Seed("secret", "app/web", map[string]interface{}{"key": "k"})
	srv.Seed("secret", "top", map[string]interface{}{"x": "y"})
	srv.Seed("legacy", "mail/login", map[string]interface{}{"pass": "hunter22"})
	return srv
}

func TestListCommandTree(t *testing.T) {
	srv := seededServer(t)

	out, err := execute(t, NewListCommand(testConfig(t, srv, rootToken())), "")
	require.NoError(t, err)
	assert.Contains(t, out, "secret/")
	assert.Contains(t, out, "app/")
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "top")
	assert.NotContains(t, out, "mail")

	out, err = execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "app")
	require.NoError(t, err)
	assert.Contains(t, out, "secret:app/")
	assert.NotContains(t, out, "top")
}

func TestListCommandStructuredOutput(t *testing.T) {
	srv := seededServer(t)

	out, err := execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "-o", "json")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]interface{}{
		"app": map[string]interface{}{
			"db":  []interface{}{"pass", "user"},
			"web": []interface{}{"key"},
		},
		"top": []interface{}{"x"},
	}, got)

	out, err = execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "--all", "-o", "yaml")
	require.NoError(t, err)
	var all map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &all))
	assert.Contains(t, all, "secret")
	assert.Contains(t, all, "legacy")
	assert.Contains(t, all, "cubbyhole")
}

func TestListCommandErrors(t *testing.T) {
	srv := seededServer(t)

	_, err := execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "-o", "xml")
	var ue vperrors.UserError
	require.ErrorAs(t, err, &ue)

	_, err = execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "-m", "nope")
	var me vperrors.MountError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, vperrors.UnknownMount, me.Kind)
}

func TestListCommandLeafAndMissingPath(t *testing.T) {
	srv := seededServer(t)

	out, err := execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "app/db")
	require.NoError(t, err)
	assert.Contains(t, out, "secret:app/db")
	assert.NotContains(t, out, "secret:app/db/")
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "user")

	_, err = execute(t, NewListCommand(testConfig(t, srv, rootToken())), "", "does/not/exist")
	var pe vperrors.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, vperrors.NotFound, pe.Kind)
}
