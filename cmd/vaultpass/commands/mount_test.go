package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vaulttest"
)

func TestMountListCommand(t *testing.T) {
	srv := vaulttest.New(t, vaulttest.WithMount("legacy", "kv", "1"))

	out, err := execute(t, NewMountCommand(testConfig(t, srv, rootToken())), "", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "MOUNT")
	assert.Regexp(t, `^cubbyhole\s+cubbyhole\s+false\s+server$`, lines[1])
	assert.Regexp(t, `^legacy\s+kv1\s+false\s+server$`, lines[2])
	assert.Regexp(t, `^secret\s+kv2\s+true\s+server$`, lines[3])
}

func TestMountListLeastPrivilege(t *testing.T) {
	srv := vaulttest.New(t, vaulttest.DenyMountListing())

	out, err := execute(t, NewMountCommand(testConfig(t, srv, rootToken())), "", "list")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^legacy\s+kv1\s+false\s+declared$`, out)
	assert.Regexp(t, `(?m)^secret\s+kv2\s+true\s+declared$`, out)
}

func TestMountCreateCommand(t *testing.T) {
	srv := vaulttest.New(t)

	_, err := execute(t, NewMountCommand(testConfig(t, srv, rootToken())), "", "create", "--type", "kv1", "team")
	require.NoError(t, err)
	assert.True(t, srv.HasMount("team"))

	_, err = execute(t, NewMountCommand(testConfig(t, srv, rootToken())), "", "create", "--type", "transit", "x")
	var ue vperrors.UserError
	require.ErrorAs(t, err, &ue)

	_, err = execute(t, NewMountCommand(testConfig(t, srv, rootToken())), "", "create", "--type", "cubbyhole", "x")
	var me vperrors.MountError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, vperrors.UnsupportedOperation, me.Kind)
}
