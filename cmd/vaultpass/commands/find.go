package commands

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewFindCommand(cfg *config.Config) *cobra.Command {
	var mountNames []string

	cmd := &cobra.Command{
		Use:   "find PATTERN",
		Short: "Find secrets and directories by name",
		Long: `Print every path whose last segment matches the regular expression
PATTERN. All mounts are searched unless --mount is given.

Examples:
  vaultpass find '^db'
  vaultpass find -m secret -m legacy 'login'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			re, err := compilePattern(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				names, err := searchMounts(ctx, app, mountNames)
				if err != nil {
					return err
				}
				found, err := app.Store.SearchNames(ctx, re, names...)
				if err != nil {
					return err
				}
				for _, p := range found {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				if len(found) == 0 {
					cfg.Logger.Info("No paths match %q", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&mountNames, "mount", "m", nil, "Mount to search (repeatable; default all)")

	return cmd
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, vperrors.UserError{
			Message:    fmt.Sprintf("Invalid pattern %q", pattern),
			Suggestion: "Patterns are Go regular expressions (RE2 syntax)",
			Err:        err,
		}
	}
	return re, nil
}

func searchMounts(ctx context.Context, app *vaultpass.App, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	return app.AllMounts(ctx)
}
