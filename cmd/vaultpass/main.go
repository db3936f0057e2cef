package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/cmd/vaultpass/commands"
	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, vperrors.ErrConfirmationDeclined) {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := suggestion(err); hint != "" {
			fmt.Fprintf(os.Stderr, "  💡 Try: %s\n", hint)
		}
		os.Exit(1)
	}
}

// suggestion returns a hint for errors that do not carry their own
func suggestion(err error) string {
	var (
		ue vperrors.UserError
		ce vperrors.ConfigError
	)
	if errors.As(err, &ue) || errors.As(err, &ce) {
		return ""
	}
	return vperrors.Suggestion(err)
}

func run() error {
	// Global flags
	var (
		configFile     string
		schemaFile     string
		noValidate     bool
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "vaultpass",
		Short: "A pass-style password manager backed by a Vault server",
		Long: `vaultpass stores, lists and searches passwords in the KV and cubbyhole
engines of a Vault server, configured by a single XML document.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.SchemaPath = schemaFile
			cfg.NoValidate = noValidate
			cfg.Logger = logger
			cfg.NonInteractive = nonInteractive
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file path, URL or inline XML")
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema", "", "Validate against this schema instead of the document's own")
	rootCmd.PersistentFlags().BoolVar(&noValidate, "no-validate", false, "Skip schema validation and defaults")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and print backend request counts")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Decline every confirmation prompt")

	rootCmd.AddCommand(
		commands.NewShowCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewFindCommand(cfg),
		commands.NewGrepCommand(cfg),
		commands.NewInsertCommand(cfg),
		commands.NewRemoveCommand(cfg),
		commands.NewCopyCommand(cfg),
		commands.NewMoveCommand(cfg),
		commands.NewInitCommand(cfg),
		commands.NewMountCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
