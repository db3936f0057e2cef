package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/zalando/go-keyring"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/pathutil"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

const (
	// TokenEnv is consulted when <token> has neither text nor source
	TokenEnv = "VAULT_TOKEN"
	// TokenFile is consulted after TokenEnv
	TokenFile = "~/.vault-token"
)

type tokenStrategy struct {
	logger *logging.Logger
}

func (t *tokenStrategy) Login(_ context.Context, sess *vault.Session, el *etree.Element) error {
	token, err := t.resolve(el)
	if err != nil {
		return err
	}
	sess.SetToken(token)
	return nil
}

// resolve applies the precedence: inline text, then the source attribute,
// then VAULT_TOKEN, then ~/.vault-token.
func (t *tokenStrategy) resolve(el *etree.Element) (string, error) {
	if text := strings.TrimSpace(el.Text()); text != "" {
		t.logger.Debug("Using inline token")
		return text, nil
	}

	if source := el.SelectAttrValue("source", ""); source != "" {
		return t.fromSource(source)
	}

	if env := os.Getenv(TokenEnv); env != "" {
		t.logger.Debug("Using token from %s", TokenEnv)
		return env, nil
	}
	if token, err := readTokenFile(TokenFile); err == nil && token != "" {
		t.logger.Debug("Using token from %s", TokenFile)
		return token, nil
	}
	return "", errNoToken
}

// fromSource reads "env:NAME", "keyring:service/user" or a file path
func (t *tokenStrategy) fromSource(source string) (string, error) {
	switch {
	case strings.HasPrefix(source, "env:"):
		name := strings.TrimPrefix(source, "env:")
		value := os.Getenv(name)
		if value == "" {
			return "", vperrors.AuthError{
				Method:  "token",
				Message: fmt.Sprintf("environment variable %s is specified as the token source but is empty", name),
			}
		}
		t.logger.Debug("Using token from %s", name)
		return value, nil

	case strings.HasPrefix(source, "keyring:"):
		ref := strings.TrimPrefix(source, "keyring:")
		service, account, ok := strings.Cut(ref, "/")
		if !ok || service == "" || account == "" {
			return "", vperrors.AuthError{
				Method:  "token",
				Message: fmt.Sprintf("keyring source %q must look like keyring:<service>/<user>", source),
			}
		}
		secret, err := keyring.Get(service, account)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", vperrors.AuthError{
					Method:  "token",
					Message: fmt.Sprintf("no keyring entry for service %q and user %q", service, account),
				}
			}
			return "", vperrors.AuthError{Method: "token", Message: "keyring lookup failed", Err: err}
		}
		t.logger.Debug("Using token from keyring service %s", service)
		return strings.TrimSpace(secret), nil

	default:
		token, err := readTokenFile(source)
		if err != nil {
			return "", vperrors.AuthError{Method: "token", Message: "cannot read token file", Err: err}
		}
		if token == "" {
			return "", vperrors.AuthError{Method: "token", Message: fmt.Sprintf("token file %s is empty", source)}
		}
		return token, nil
	}
}

func readTokenFile(path string) (string, error) {
	p, err := pathutil.Expand(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
