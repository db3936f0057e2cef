package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

// NewMountCommand creates the parent 'mount' command
func NewMountCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount",
		Short: "List and create secret mounts",
	}

	cmd.AddCommand(
		newMountListCommand(cfg),
		newMountCreateCommand(cfg),
	)

	return cmd
}

func newMountListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the secret mounts this session can use",
		Long: `List every mount usable as a secret store with its engine variant.

Mounts marked "declared" come from the configuration because the session may
not list the server's mounts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				ds, err := app.Mounts.Descriptors(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MOUNT\tVARIANT\tVERSIONED\tSOURCE")
				for _, d := range ds {
					source := "server"
					if d.Declared {
						source = "declared"
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", d.Name, d.Variant, d.Versioning, source)
				}
				return w.Flush()
			})
		},
	}
}

func newMountCreateCommand(cfg *config.Config) *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a kv1 or kv2 mount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := mounts.ParseVariant(variant)
			if err != nil {
				return vperrors.UserError{
					Message:    fmt.Sprintf("Unknown mount type %q", variant),
					Suggestion: "Use --type kv1 or --type kv2",
					Err:        err,
				}
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				_, err := app.Mounts.Create(ctx, args[0], v)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "type", "t", "kv2", "Engine variant: kv1 or kv2")

	return cmd
}
