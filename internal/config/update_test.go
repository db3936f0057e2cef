package config

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
)

func TestUpdateAuthLocalWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultpass.xml")
	original := `<vaultpass xmlns="https://git.square-r00t.net/VaultPass/">
  <server><uri>http://localhost:8200/</uri></server>
  <auth><appRole><role>r</role><secret>s</secret></appRole></auth>
</vaultpass>`
	require.NoError(t, os.WriteFile(path, []byte(original), 0600))

	l := NewLoader(nil, nil)
	doc, err := l.Load(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, doc.UpdateAuth(context.Background(), "bmV3c2hhcmQ=", "s.root"))

	assert.Equal(t, "bmV3c2hhcmQ=", doc.UnsealShard())
	assert.Equal(t, "s.root", doc.Text("auth/token"))
	assert.Nil(t, doc.Find("auth/appRole"))

	backups, err := filepath.Glob(path + ".bak_*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	prior, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, original, string(prior))

	// The rewritten file loads back to the same credentials.
	reloaded, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "s.root", reloaded.Text("auth/token"))
	assert.Equal(t, "bmV3c2hhcmQ=", reloaded.UnsealShard())
}

func TestUpdateAuthInlineDoesNotWrite(t *testing.T) {
	doc, err := NewLoader(nil, nil).Load(context.Background(),
		`<vaultpass xmlns="https://git.square-r00t.net/VaultPass/"><auth><token source="env:NOPE"/></auth></vaultpass>`)
	require.NoError(t, err)

	require.NoError(t, doc.UpdateAuth(context.Background(), "c2hhcmQ=", "s.root"))
	assert.Equal(t, "s.root", doc.Text("auth/token"))
	assert.Nil(t, doc.Find("auth/token").SelectAttr("source"))
	assert.Equal(t, "c2hhcmQ=", doc.UnsealShard())
	assert.Equal(t, "server", doc.Root().ChildElements()[0].Tag)

	// Both views still agree.
	ns := doc.NamespacedRoot().ChildElements()
	st := doc.Root().ChildElements()
	require.Len(t, st, len(ns))
	for i := range ns {
		assert.Equal(t, ns[i].Tag, st[i].Tag)
	}
}

func TestUpdateAuthRevalidates(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "no-unseal.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object","properties":{"vaultpass":{"type":"object","properties":{"server":{"type":"array","items":{"type":"object","not":{"required":["unseal"]}}}}}}}`), 0600))

	path := filepath.Join(dir, "vaultpass.xml")
	original := `<vaultpass xmlns="https://git.square-r00t.net/VaultPass/">
  <server><uri>http://localhost:8200/</uri></server>
  <auth><token>s.old</token></auth>
</vaultpass>`
	require.NoError(t, os.WriteFile(path, []byte(original), 0600))

	l := NewLoader(nil, nil)
	l.SchemaPath = schemaPath
	doc, err := l.Load(context.Background(), path)
	require.NoError(t, err)

	err = doc.UpdateAuth(context.Background(), "c2hhcmQ=", "s.root")
	var sv vperrors.SchemaViolation
	require.True(t, errors.As(err, &sv), "%v", err)

	backups, err := filepath.Glob(path + ".bak_*")
	require.NoError(t, err)
	assert.Empty(t, backups)
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(current))
}

func TestConfigLoadDecryptsWithGPG(t *testing.T) {
	entity, err := openpgp.NewEntity("VaultPass Test", "", "test@example.invalid", &packet.Config{DefaultHash: crypto.SHA256})
	require.NoError(t, err)
	for _, id := range entity.Identities {
		id.SelfSignature.PreferredHash = []uint8{8}
	}

	home := t.TempDir()
	var ring bytes.Buffer
	require.NoError(t, entity.SerializePrivate(&ring, nil))
	require.NoError(t, os.WriteFile(filepath.Join(home, "secring.gpg"), ring.Bytes(), 0600))

	const plainToken = "s.Zq8x-plaintext"
	fragment := "<auth><token>" + plainToken + "</token></auth>"
	var cipher bytes.Buffer
	w, err := openpgp.Encrypt(&cipher, []*openpgp.Entity{entity}, nil, nil, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte(fragment))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cipherPath := filepath.Join(t.TempDir(), "auth.xml.gpg")
	require.NoError(t, os.WriteFile(cipherPath, cipher.Bytes(), 0600))

	cfgPath := filepath.Join(t.TempDir(), "vaultpass.xml")
	xml := `<vaultpass xmlns="https://git.square-r00t.net/VaultPass/">
  <server><uri>http://localhost:8200/</uri></server>
  <authGpg gpgHome="` + home + `">` + cipherPath + `</authGpg>
</vaultpass>`
	require.NoError(t, os.WriteFile(cfgPath, []byte(xml), 0600))

	cfg := &Config{Path: cfgPath}
	require.NoError(t, cfg.Load(context.Background()))

	doc, err := cfg.MustDocument()
	require.NoError(t, err)
	assert.Equal(t, plainToken, doc.Find("auth/token").Text())
	assert.Equal(t, "auth", doc.Root().ChildElements()[1].Tag)

	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(out), "authGpg"))
}

func TestConfigMustDocumentBeforeLoad(t *testing.T) {
	_, err := (&Config{}).MustDocument()
	assert.Error(t, err)
}
