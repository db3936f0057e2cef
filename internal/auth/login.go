package auth

import (
	"context"
	"fmt"

	"github.com/beevik/etree"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

type appRoleStrategy struct{}

func (appRoleStrategy) Login(ctx context.Context, sess *vault.Session, el *etree.Element) error {
	role, secret := childText(el, "role"), childText(el, "secret")
	if role == "" || secret == "" {
		return vperrors.AuthError{Method: "appRole", Message: "<appRole> needs both <role> and <secret>"}
	}
	return login(ctx, sess, "appRole", "auth/approle/login", map[string]interface{}{
		"role_id":   role,
		"secret_id": secret,
	})
}

// bindStrategy covers the username/password methods, which differ only in
// their default login mount.
type bindStrategy struct {
	method       string
	defaultMount string
}

func (b bindStrategy) Login(ctx context.Context, sess *vault.Session, el *etree.Element) error {
	username, password := childText(el, "username"), childText(el, "password")
	if username == "" || password == "" {
		return vperrors.AuthError{
			Method:  b.method,
			Message: fmt.Sprintf("<%s> needs both <username> and <password>", b.method),
		}
	}
	mount := childText(el, "mountPoint")
	if mount == "" {
		mount = b.defaultMount
	}

	path := fmt.Sprintf("auth/%s/login/%s", mount, username)
	return login(ctx, sess, b.method, path, map[string]interface{}{"password": password})
}

func login(ctx context.Context, sess *vault.Session, method, path string, body map[string]interface{}) error {
	secret, err := sess.Client().Logical().WriteWithContext(ctx, path, body)
	if err != nil {
		return vperrors.AuthError{Method: method, Message: "login rejected", Err: err}
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return vperrors.AuthError{Method: method, Message: "login returned no token"}
	}
	sess.SetToken(secret.Auth.ClientToken)
	return nil
}
