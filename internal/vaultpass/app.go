// Package vaultpass wires a loaded configuration to an authenticated
// session, its mount registry and the secret store.
package vaultpass

import (
	"context"
	"fmt"
	"time"

	"github.com/johnnybubonic/vaultpass/internal/auth"
	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
	"github.com/johnnybubonic/vaultpass/internal/prompt"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

// App is one configured, authenticated instance
type App struct {
	Config  *config.Config
	Session *vault.Session
	Mounts  *mounts.Registry
	Store   *store.Store
	// Confirm answers the questions of destructive operations
	Confirm prompt.Confirmer

	logger *logging.Logger
}

// Options overrides collaborators, mostly for tests
type Options struct {
	// Confirm answers destructive-operation questions. Defaults to the
	// terminal, or to declining everything in non-interactive mode.
	Confirm prompt.Confirmer
	// SessionOptions are passed to every session created
	SessionOptions []vault.Option
	// MountCreateDelay replaces mounts.DefaultCreateDelay when non-zero;
	// negative disables the wait
	MountCreateDelay time.Duration
}

func (o Options) confirmer(cfg *config.Config) prompt.Confirmer {
	switch {
	case o.Confirm != nil:
		return o.Confirm
	case cfg.NonInteractive:
		return prompt.Never{}
	default:
		return prompt.NewTerminal()
	}
}

// Declarations converts the configured mounts to registry declarations
func Declarations(doc *config.Document) ([]mounts.Declaration, error) {
	decls := doc.Mounts()
	out := make([]mounts.Declaration, 0, len(decls))
	for _, d := range decls {
		v, err := mounts.ParseVariant(d.Type)
		if err != nil {
			return nil, vperrors.ConfigError{
				Field:      "mounts/mount/@type",
				Value:      d.Type,
				Message:    fmt.Sprintf("unknown engine type for mount %q", d.Name),
				Suggestion: "Use one of kv1, kv2 or cubbyhole",
				Err:        err,
			}
		}
		out = append(out, mounts.Declaration{Name: d.Name, Variant: v})
	}
	return out, nil
}

func logger(cfg *config.Config) *logging.Logger {
	if cfg.Logger == nil {
		return logging.Discard()
	}
	return cfg.Logger
}

// New loads the configuration, unseals the server if needed using the
// configured shard, and authenticates.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Load(ctx); err != nil {
		return nil, err
	}
	doc := cfg.Document
	log := logger(cfg)

	decls, err := Declarations(doc)
	if err != nil {
		return nil, err
	}

	sess, err := auth.Resolve(ctx, doc.ServerURI(), doc.Auth(), auth.Options{
		Logger:         log,
		SessionOptions: opts.SessionOptions,
		Prepare: func(ctx context.Context, s *vault.Session) error {
			return s.CheckSeal(ctx, doc.UnsealShard())
		},
	})
	if err != nil {
		return nil, err
	}

	return assemble(cfg, sess, decls, opts, log), nil
}

func assemble(cfg *config.Config, sess *vault.Session, decls []mounts.Declaration, opts Options, log *logging.Logger) *App {
	reg := mounts.NewRegistry(sess, decls, log)
	if opts.MountCreateDelay != 0 {
		reg.CreateDelay = opts.MountCreateDelay
	}
	confirm := opts.confirmer(cfg)
	return &App{
		Config:  cfg,
		Session: sess,
		Mounts:  reg,
		Store:   store.New(sess, reg, confirm, log),
		Confirm: confirm,
		logger:  log,
	}
}

// Init performs first-time setup: initialize the server with a single
// shard, record the root token and shard in the configuration, unseal, and
// create every declared mount except cubbyholes.
func Init(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Load(ctx); err != nil {
		return nil, err
	}
	doc := cfg.Document
	log := logger(cfg)

	decls, err := Declarations(doc)
	if err != nil {
		return nil, err
	}

	sess, err := auth.Resolve(ctx, doc.ServerURI(), doc.Auth(), auth.Options{
		Initializing:   true,
		Logger:         log,
		SessionOptions: opts.SessionOptions,
	})
	if err != nil {
		return nil, err
	}

	res, err := sess.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Backend initialized")
	log.Debug("Root token %s, unseal shard %s", logging.Secret(res.RootToken), logging.Secret(res.Shard))

	if err := doc.UpdateAuth(ctx, res.Shard, res.RootToken); err != nil {
		return nil, err
	}
	if doc.Source().Kind == config.SourceLocal {
		log.Info("Wrote root token and unseal shard to %s", doc.Source().Ref)
	}

	if err := sess.CheckSeal(ctx, res.Shard); err != nil {
		return nil, err
	}
	sess.SetToken(res.RootToken)
	if err := auth.AssertAuthenticated(ctx, sess); err != nil {
		return nil, err
	}

	app := assemble(cfg, sess, decls, opts, log)
	for _, d := range decls {
		if d.Variant == mounts.Cubbyhole {
			log.Debug("Skipping %s: cubbyhole mounts cannot be created", d.Name)
			continue
		}
		if _, err := app.Mounts.Create(ctx, d.Name, d.Variant); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// AllMounts returns the names of every secret mount, sorted
func (a *App) AllMounts(ctx context.Context) ([]string, error) {
	return a.Mounts.Names(ctx)
}
