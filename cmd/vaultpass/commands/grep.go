package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewGrepCommand(cfg *config.Config) *cobra.Command {
	var (
		mountNames []string
		showValues bool
	)

	cmd := &cobra.Command{
		Use:   "grep PATTERN",
		Short: "Search secret values",
		Long: `Read every secret and print mount/path/key for each value matching the
regular expression PATTERN. Values are only printed with --values.

This reads every secret on the searched mounts, one request at a time.`,
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
				matches, err := app.Store.SearchValues(ctx, re, names...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range matches {
					if showValues {
						fmt.Fprintf(out, "%s: %s\n", secretLabel(m.Path, m.Key), m.Value)
					} else {
						fmt.Fprintln(out, secretLabel(m.Path, m.Key))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&mountNames, "mount", "m", nil, "Mount to search (repeatable; default all)")
	cmd.Flags().BoolVar(&showValues, "values", false, "Print matching values too")

	return cmd
}
