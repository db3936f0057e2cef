package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnnybubonic/vaultpass/internal/config"
)

// NewCompletionCommand prints shell completion scripts
func NewCompletionCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Print a completion script for the given shell.

  bash:        source <(vaultpass completion bash)
  zsh:         vaultpass completion zsh > "${fpath[1]}/_vaultpass"
  fish:        vaultpass completion fish > ~/.config/fish/completions/vaultpass.fish
  powershell:  vaultpass completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}
