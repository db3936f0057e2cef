package commands

import (
	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewInitCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new server and create the configured mounts",
		Long: `Initialize an uninitialized server with a single unseal shard, write the
root token and shard into the configuration, unseal the server and create
every configured mount (cubbyhole mounts always exist).

A local configuration file is backed up as <file>.bak_<timestamp> before it
is rewritten. For any other configuration source the updated document is
printed to stdout instead; save it, as the root token is not shown again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := vaultpass.Init(commandContext(cmd), cfg, appOptions)
			if err != nil {
				return err
			}
			defer reportRequests(cfg, app)

			doc := cfg.Document
			if doc.Source().Kind != config.SourceLocal {
				cfg.Logger.Warn("Configuration is %s, not a local file; printing the updated document", doc.Source().Kind)
				out, err := doc.Bytes()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}

			cfg.Logger.Info("✓ Server initialized")
			return nil
		},
	}

	return cmd
}
