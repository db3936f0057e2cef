// Package vault owns the connection to the secret-storage server: one
// Session per process invocation, its seal/initialization state machine and
// per-session request metrics.
package vault

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
)

const (
	// DefaultAddr is used when no server URI is configured
	DefaultAddr    = "http://localhost:8200/"
	DefaultTimeout = 30 * time.Second
)

// Session is an authenticated handle to one server. It is never shared:
// every Session owns its own client and credential.
type Session struct {
	URI string

	client        *api.Client
	authenticated bool
	metrics       *Metrics
	logger        *logging.Logger
}

// Option configures a Session
type Option func(*sessionOptions)

type sessionOptions struct {
	logger    *logging.Logger
	timeout   time.Duration
	transport http.RoundTripper
}

// WithLogger sets the session logger
func WithLogger(l *logging.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *sessionOptions) { o.timeout = d }
}

// WithTransport replaces the base HTTP transport (before instrumentation)
func WithTransport(rt http.RoundTripper) Option {
	return func(o *sessionOptions) { o.transport = rt }
}

// NewSession creates an unauthenticated session for uri with a fresh client.
// The client does not retry failed requests and does not pick up VAULT_TOKEN
// on its own; credentials are set by the auth resolver.
func NewSession(uri string, opts ...Option) (*Session, error) {
	o := sessionOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if uri == "" {
		uri = DefaultAddr
	}

	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, vperrors.ConfigError{Field: "server", Message: "invalid client environment", Err: cfg.Error}
	}
	cfg.Address = strings.TrimSuffix(uri, "/")
	cfg.MaxRetries = 0
	cfg.Timeout = o.timeout

	metrics := NewMetrics()
	base := cfg.HttpClient.Transport
	if o.transport != nil {
		base = o.transport
	}
	if base == nil {
		base = http.DefaultTransport
	}
	cfg.HttpClient.Transport = metrics.Instrument(base)

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, vperrors.ConfigError{Field: "server", Value: uri, Message: "cannot create client", Err: err}
	}
	client.ClearToken()

	o.logger.Debug("Created session for %s", uri)
	return &Session{
		URI:     uri,
		client:  client,
		metrics: metrics,
		logger:  o.logger,
	}, nil
}

// Client returns the session's API client
func (s *Session) Client() *api.Client { return s.client }

// Logger returns the session's logger
func (s *Session) Logger() *logging.Logger { return s.logger }

// Metrics returns the session's request metrics
func (s *Session) Metrics() *Metrics { return s.metrics }

// SetToken sets the bearer credential and clears the authenticated flag
// until it is verified again.
func (s *Session) SetToken(token string) {
	s.client.SetToken(token)
	s.authenticated = false
}

// Token returns the current bearer credential
func (s *Session) Token() string { return s.client.Token() }

// Authenticated reports whether the credential has been verified
func (s *Session) Authenticated() bool { return s.authenticated }

// MarkAuthenticated records a successful verification
func (s *Session) MarkAuthenticated() { s.authenticated = true }

// StatusCode returns the HTTP status of a server error response, or 0
func StatusCode(err error) int {
	var re *api.ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// HasErrorText reports whether a server error response carries a message
// containing text.
func HasErrorText(err error, text string) bool {
	var re *api.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	for _, e := range re.Errors {
		if strings.Contains(e, text) {
			return true
		}
	}
	return false
}

var errIncompleteInit = errors.New("server returned no unseal key or root token")
