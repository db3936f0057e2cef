package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewRemoveCommand(cfg *config.Config) *cobra.Command {
	var (
		mount     string
		force     bool
		recursive bool
		destroy   bool
	)

	cmd := &cobra.Command{
		Use:     "rm PATH",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a secret, a key of a secret, or a directory",
		Long: `Delete what PATH names:

  a secret        the whole secret
  a key           only that key; the rest of the secret is kept
  a directory     every secret under it

On versioned (kv2) mounts a delete only hides the latest version; --destroy
purges every version and the metadata. Deletes are confirmed unless --force
is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0], mount)
			if err != nil {
				return err
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				opts := store.DeleteOptions{Force: force, Recursive: recursive}
				if destroy {
					err = app.Store.Destroy(ctx, p, opts)
				} else {
					err = app.Store.Delete(ctx, p, opts)
				}
				if err != nil {
					return err
				}
				cfg.Logger.Info("Removed %s", p)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mount, "mount", "m", "", "Mount to delete from (default \"secret\")")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete directories recursively")
	cmd.Flags().BoolVar(&destroy, "destroy", false, "Purge all versions on versioned mounts")

	return cmd
}
