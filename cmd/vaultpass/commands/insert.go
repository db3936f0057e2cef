package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/prompt"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewInsertCommand(cfg *config.Config) *cobra.Command {
	var (
		mount     string
		force     bool
		multiline bool
		confirm   bool
	)

	cmd := &cobra.Command{
		Use:   "insert PATH KEY",
		Short: "Store one key of a secret",
		Long: `Store a value under KEY in the secret at PATH, keeping the secret's other
keys. The value is read from stdin: one line, or everything up to EOF with
--multiline. On a terminal the value is read without echo.

An existing KEY is only replaced after confirmation or with --force.

Examples:
  vaultpass insert app/db password
  echo -n "$TOKEN" | vaultpass insert -f app/api token`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0], mount)
			if err != nil {
				return err
			}
			key := args[1]

			value, err := readInsertValue(cmd, fmt.Sprintf("Enter value for %s (%s): ", p, key), multiline)
			if err != nil {
				return err
			}
			if value == "" {
				return vperrors.UserError{
					Message:    "Refusing to store an empty value",
					Suggestion: "Use 'vaultpass rm' to remove a key",
				}
			}

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				if confirm {
					ok, err := app.Confirm.Confirm(fmt.Sprintf("Write to %s (%s)? (y/N) ", p, key))
					if err != nil {
						return err
					}
					if !ok {
						return vperrors.ErrConfirmationDeclined
					}
				}
				if err := app.Store.Write(ctx, p, map[string]interface{}{key: value}, store.WriteOptions{Force: force}); err != nil {
					return err
				}
				cfg.Logger.Info("Stored %s (%s)", p, key)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mount, "mount", "m", "", "Mount to write to (default \"secret\")")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing key without asking")
	cmd.Flags().BoolVar(&multiline, "multiline", false, "Read the value until EOF")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Ask before writing")

	return cmd
}

func readInsertValue(cmd *cobra.Command, label string, multiline bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !multiline && prompt.IsTerminal(f) {
		secret, err := prompt.ReadSecret(label)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	return prompt.ReadValue(in, multiline)
}
