package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewCopyCommand(cfg *config.Config) *cobra.Command {
	return newTransferCommand(cfg, "cp", "Copy a secret or key", false)
}

func NewMoveCommand(cfg *config.Config) *cobra.Command {
	return newTransferCommand(cfg, "mv", "Move a secret or key", true)
}

// newTransferCommand builds cp and mv, which differ only in removing the
// source afterwards.
func newTransferCommand(cfg *config.Config, use, short string, move bool) *cobra.Command {
	var (
		mount string
		force bool
	)

	cmd := &cobra.Command{
		Use:   use + " SOURCE DEST",
		Short: short,
		Long: short + ` to DEST, merging into an existing secret there. Either
path may carry its own mount as mount:path.

Examples:
  vaultpass ` + use + ` app/db app/db-old
  vaultpass ` + use + ` legacy:app/db/password secret:app/db`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parsePath(args[0], mount)
			if err != nil {
				return err
			}
			dst, err := parsePath(args[1], mount)
			if err != nil {
				return err
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				opts := store.WriteOptions{Force: force}
				if move {
					err = app.Store.Move(ctx, src, dst, opts)
				} else {
					err = app.Store.Copy(ctx, src, dst, opts)
				}
				if err != nil {
					return err
				}
				cfg.Logger.Info("%s -> %s", src, dst)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mount, "mount", "m", "", "Mount for paths without one (default \"secret\")")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing keys at DEST without asking")

	return cmd
}
