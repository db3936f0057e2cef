package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := Expand("~/.vault-token")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".vault-token"), got)

	got, err = Expand("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = Expand("/etc/../etc/vaultpass.xml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/vaultpass.xml", got)

	got, err = Expand("relative.xml")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
