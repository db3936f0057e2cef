// Package auth turns the <auth> element of a configuration into an
// authenticated session. The element must hold exactly one method tag; the
// tag selects the strategy and there is no fallback between strategies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

// Strategy logs a session in using one method's configuration element
type Strategy interface {
	Login(ctx context.Context, sess *vault.Session, el *etree.Element) error
}

// errNoToken marks a token strategy that found no credential anywhere
var errNoToken = errors.New("no token found inline, in the source attribute, in VAULT_TOKEN or in ~/.vault-token")

// strategies maps each method tag to its constructor
var strategies = map[string]func(opts Options) Strategy{
	"token":    func(opts Options) Strategy { return &tokenStrategy{logger: opts.logger()} },
	"appRole":  func(Options) Strategy { return appRoleStrategy{} },
	"userpass": func(Options) Strategy { return bindStrategy{method: "userpass", defaultMount: "userpass"} },
	"ldap":     func(Options) Strategy { return bindStrategy{method: "ldap", defaultMount: "ldap"} },
}

// Methods returns the supported method tags, sorted
func Methods() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options controls resolution
type Options struct {
	// Initializing tolerates a missing token during first-time setup
	Initializing bool
	Logger       *logging.Logger
	// SessionOptions are passed to vault.NewSession
	SessionOptions []vault.Option
	// Prepare runs on the new session before login. Seal handling goes
	// here since a sealed server cannot verify a credential.
	Prepare func(ctx context.Context, sess *vault.Session) error
}

func (o Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.Discard()
	}
	return o.Logger
}

// Resolve creates a fresh session for uri and logs it in with the single
// method declared in authEl.
func Resolve(ctx context.Context, uri string, authEl *etree.Element, opts Options) (*vault.Session, error) {
	method, el, err := selectMethod(authEl)
	if err != nil {
		return nil, err
	}

	sessOpts := append([]vault.Option{vault.WithLogger(opts.logger())}, opts.SessionOptions...)
	sess, err := vault.NewSession(uri, sessOpts...)
	if err != nil {
		return nil, err
	}

	if opts.Prepare != nil {
		if err := opts.Prepare(ctx, sess); err != nil {
			return nil, err
		}
	}

	opts.logger().Debug("Authenticating to %s using %s", uri, method)
	if err := strategies[method](opts).Login(ctx, sess, el); err != nil {
		if errors.Is(err, errNoToken) && opts.Initializing {
			opts.logger().Debug("No token configured; continuing unauthenticated for initialization")
			return sess, nil
		}
		return nil, asAuthError(method, err)
	}

	if err := AssertAuthenticated(ctx, sess); err != nil {
		// A sealed server cannot verify anything before initialization.
		if opts.Initializing && vault.StatusCode(err) == 503 {
			return sess, nil
		}
		return nil, asAuthError(method, err)
	}
	return sess, nil
}

func selectMethod(authEl *etree.Element) (string, *etree.Element, error) {
	if authEl == nil {
		return "", nil, vperrors.AuthError{Message: "configuration has no <auth> element"}
	}
	children := authEl.ChildElements()
	switch len(children) {
	case 0:
		return "", nil, vperrors.AuthError{Message: "<auth> declares no method"}
	case 1:
	default:
		tags := make([]string, 0, len(children))
		for _, c := range children {
			tags = append(tags, "<"+c.Tag+">")
		}
		return "", nil, vperrors.AuthError{
			Message: fmt.Sprintf("<auth> must declare exactly one method, found %s", strings.Join(tags, ", ")),
		}
	}

	el := children[0]
	if _, ok := strategies[el.Tag]; !ok {
		return "", nil, vperrors.AuthError{
			Method:  el.Tag,
			Message: fmt.Sprintf("unknown authentication method; expected one of %s", strings.Join(Methods(), ", ")),
		}
	}
	return el.Tag, el, nil
}

// AssertAuthenticated verifies the session credential against the server
// and marks the session authenticated.
func AssertAuthenticated(ctx context.Context, sess *vault.Session) error {
	if sess.Token() == "" {
		return vperrors.AuthError{Message: "no credential to verify"}
	}
	if _, err := sess.Client().Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return vperrors.AuthError{Message: "could not authenticate", Err: err}
	}
	sess.MarkAuthenticated()
	return nil
}

func asAuthError(method string, err error) error {
	var ae vperrors.AuthError
	if errors.As(err, &ae) {
		if ae.Method == "" {
			ae.Method = method
		}
		return ae
	}
	return vperrors.AuthError{Method: method, Err: err}
}

// childText returns the trimmed text of the named child, or ""
func childText(el *etree.Element, tag string) string {
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}
