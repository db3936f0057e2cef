package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

// DefaultMount is used for paths without a mount prefix or --mount
const DefaultMount = "secret"

// appOptions is overridden by tests
var appOptions = vaultpass.Options{}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withApp opens an authenticated App, runs fn and, in debug mode, logs the
// backend request counts.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, app *vaultpass.App) error) error {
	ctx := commandContext(cmd)
	app, err := vaultpass.New(ctx, cfg, appOptions)
	if err != nil {
		return err
	}
	defer reportRequests(cfg, app)
	return fn(ctx, app)
}

func reportRequests(cfg *config.Config, app *vaultpass.App) {
	if cfg.Logger == nil || !cfg.Logger.DebugEnabled() {
		return
	}
	if summary := app.Session.Metrics().Summary(); summary != "" {
		cfg.Logger.Debug("Backend requests:\n%s", summary)
	}
}

// parsePath accepts "mount:path" or a bare path on mount
func parsePath(arg, mount string) (store.SecretPath, error) {
	if i := strings.Index(arg, ":"); i >= 0 {
		mount, arg = arg[:i], arg[i+1:]
	}
	if mount == "" {
		mount = DefaultMount
	}
	p := store.NewPath(mount, arg)
	if p.Mount == "" {
		return p, vperrors.UserError{
			Message:    "Empty mount name",
			Suggestion: "Use mount:path or --mount",
		}
	}
	return p, nil
}
