// Package gpg decrypts OpenPGP-protected configuration fragments.
//
// A keyring home is a directory holding an exported secret keyring, either
// binary (secring.gpg) or ASCII-armored (secring.asc), or a GnuPG 2.1+ home
// whose secret keys live in private-keys-v1.d. The latter is decrypted by
// the installed gpg binary since the agent's key store has no stable
// format. The home comes from a fragment's gpgHome attribute, falling back
// to GNUPGHOME and then ~/.gnupg.
package gpg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/pathutil"
	"github.com/johnnybubonic/vaultpass/internal/prompt"
	"github.com/johnnybubonic/vaultpass/internal/secure"
)

const (
	// DefaultHome is used when neither the fragment nor GNUPGHOME names one
	DefaultHome = "~/.gnupg"
	// PassphraseEnv supplies the passphrase for protected secret keys
	PassphraseEnv = "VAULTPASS_GPG_PASSPHRASE"
)

// KeyringFiles are looked up, in order, inside a keyring home
var KeyringFiles = []string{"secring.gpg", "secring.asc"}

// AgentKeyDir holds secret keys in GnuPG 2.1 and later
const AgentKeyDir = "private-keys-v1.d"

var (
	errNoKeyring       = errors.New("no secret keyring found")
	errWrongPassphrase = errors.New("passphrase does not unlock any matching key")
	armorPrefix        = []byte("-----BEGIN PGP")
)

// PassphraseFunc returns the passphrase for a protected key
type PassphraseFunc func(keyID string) ([]byte, error)

// Decrypter resolves keyrings and decrypts ciphertext files
type Decrypter struct {
	home       string
	passphrase PassphraseFunc
	executor   Executor
	logger     *logging.Logger
}

// Option configures a Decrypter
type Option func(*Decrypter)

// WithDefaultHome overrides the process default keyring home
func WithDefaultHome(home string) Option {
	return func(d *Decrypter) { d.home = home }
}

// WithPassphrase overrides how protected keys are unlocked
func WithPassphrase(fn PassphraseFunc) Option {
	return func(d *Decrypter) { d.passphrase = fn }
}

// WithExecutor overrides how the gpg binary is run
func WithExecutor(e Executor) Option {
	return func(d *Decrypter) { d.executor = e }
}

// NewDecrypter creates a Decrypter whose default home is GNUPGHOME or
// ~/.gnupg.
func NewDecrypter(logger *logging.Logger, opts ...Option) *Decrypter {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Decrypter{
		home:       DefaultHome,
		passphrase: defaultPassphrase,
		executor:   DefaultExecutor(),
		logger:     logger,
	}
	if h := os.Getenv("GNUPGHOME"); h != "" {
		d.home = h
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ResolveHome picks home if set, else the Decrypter default, and checks
// that it is an existing directory.
func (d *Decrypter) ResolveHome(home string) (string, error) {
	if home == "" {
		home = d.home
	}
	resolved, err := pathutil.Expand(home)
	if err != nil {
		return "", vperrors.CryptoError{Home: home, Message: "cannot resolve keyring home", Err: err}
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", vperrors.CryptoError{Home: resolved, Message: "keyring home does not exist"}
	}
	return resolved, nil
}

// Decrypt decrypts the ciphertext file at path with the keyring found in
// home (or the default home) and returns the plaintext in a secure buffer.
func (d *Decrypter) Decrypt(ctx context.Context, path, home string) (*secure.SecureBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolvedHome, err := d.ResolveHome(home)
	if err != nil {
		return nil, err
	}
	cipherPath, err := pathutil.Expand(path)
	if err != nil {
		return nil, vperrors.CryptoError{Path: path, Home: resolvedHome, Err: err}
	}

	var plaintext []byte
	keyring, err := LoadKeyring(resolvedHome)
	switch {
	case err == nil:
		raw, rerr := os.ReadFile(cipherPath)
		if rerr != nil {
			return nil, vperrors.CryptoError{Path: cipherPath, Home: resolvedHome, Message: "cannot read ciphertext", Err: rerr}
		}
		d.logger.Debug("Decrypting %s with keyring home %s", cipherPath, resolvedHome)
		plaintext, err = d.decrypt(raw, keyring)
	case errors.Is(err, errNoKeyring) && hasAgentKeys(resolvedHome):
		d.logger.Debug("Decrypting %s with gpg --homedir %s", cipherPath, resolvedHome)
		plaintext, err = d.decryptWithGPG(ctx, resolvedHome, cipherPath)
	default:
		return nil, err
	}
	if err != nil {
		var ce vperrors.CryptoError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, vperrors.CryptoError{Path: cipherPath, Home: resolvedHome, Err: err}
	}

	buf, err := secure.NewSecureBuffer(plaintext)
	if err != nil {
		return nil, vperrors.CryptoError{Path: cipherPath, Home: resolvedHome, Message: "decrypted payload is empty", Err: err}
	}
	return buf, nil
}

func (d *Decrypter) decrypt(raw []byte, keyring openpgp.EntityList) ([]byte, error) {
	var r io.Reader = bytes.NewReader(raw)
	if bytes.HasPrefix(bytes.TrimSpace(raw), armorPrefix) {
		block, err := armor.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("corrupt armored ciphertext: %w", err)
		}
		r = block.Body
	}

	prompted := false
	promptFn := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if symmetric || prompted || len(keys) == 0 {
			return nil, errWrongPassphrase
		}
		prompted = true
		pass, err := d.passphrase(keys[0].PublicKey.KeyIdShortString())
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if k.PrivateKey == nil || !k.PrivateKey.Encrypted {
				continue
			}
			if k.PrivateKey.Decrypt(pass) == nil {
				return nil, nil
			}
		}
		return nil, errWrongPassphrase
	}

	md, err := openpgp.ReadMessage(r, keyring, promptFn, nil)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("corrupt ciphertext: %w", err)
	}
	return plaintext, nil
}

// LoadKeyring reads every keyring file present in home
func LoadKeyring(home string) (openpgp.EntityList, error) {
	var keyring openpgp.EntityList
	for _, name := range KeyringFiles {
		p := filepath.Join(home, name)
		raw, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, vperrors.CryptoError{Home: home, Path: p, Err: err}
		}

		var entities openpgp.EntityList
		if bytes.HasPrefix(bytes.TrimSpace(raw), armorPrefix) {
			entities, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
		} else {
			entities, err = openpgp.ReadKeyRing(bufio.NewReader(bytes.NewReader(raw)))
		}
		if err != nil {
			return nil, vperrors.CryptoError{Home: home, Path: p, Message: "unreadable keyring", Err: err}
		}
		keyring = append(keyring, entities...)
	}
	if len(keyring) == 0 {
		return nil, vperrors.CryptoError{Home: home, Err: errNoKeyring}
	}
	return keyring, nil
}

func defaultPassphrase(keyID string) ([]byte, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return []byte(p), nil
	}
	if !prompt.IsTerminal(os.Stdin) {
		return nil, fmt.Errorf("key %s is passphrase-protected; set %s", keyID, PassphraseEnv)
	}
	return prompt.ReadSecret(fmt.Sprintf("Passphrase for key %s: ", keyID))
}
