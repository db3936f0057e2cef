package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewShowCommand(cfg *config.Config) *cobra.Command {
	var (
		mount      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show PATH",
		Short: "Print a secret or a single key of it",
		Long: `Print the secret stored at PATH.

When PATH names a key inside a secret (app/db/password), only that value is
printed, making it suitable for scripting.

Examples:
  vaultpass show app/db
  vaultpass show app/db/password
  vaultpass show legacy:app/db --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0], mount)
			if err != nil {
				return err
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				secret, err := app.Store.Read(ctx, p)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(secret.Value())
				}

				if secret.Key != "" {
					_, err := fmt.Fprintln(out, store.FormatValue(secret.Value()))
					return err
				}

				keys := make([]string, 0, len(secret.Data))
				for k := range secret.Data {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s: %s\n", k, store.FormatValue(secret.Data[k]))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mount, "mount", "m", "", "Mount to read from (default \"secret\")")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
