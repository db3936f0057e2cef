package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/johnnybubonic/vaultpass/internal/config"
	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/store"
	"github.com/johnnybubonic/vaultpass/internal/vaultpass"
)

func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		mount  string
		all    bool
		output string
	)

	cmd := &cobra.Command{
		Use:     "ls [PATH]",
		Aliases: []string{"list"},
		Short:   "Show the secrets under a path as a tree",
		Long: `Discover and print every directory and secret under PATH (default: the
mount root).

Output formats:
  tree  an indented tree (default)
  json  nested objects; secrets map to their key names
  yaml  same structure as json

Examples:
  vaultpass ls
  vaultpass ls app
  vaultpass ls --all -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "tree", "json", "yaml":
			default:
				return vperrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", output),
					Suggestion: "Use --output tree, json or yaml",
				}
			}

			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			root, err := parsePath(arg, mount)
			if err != nil {
				return err
			}
			plain := !isColorEnabled(cmd)

			return withApp(cmd, cfg, func(ctx context.Context, app *vaultpass.App) error {
				var (
					t   *store.Tree
					err error
				)
				if all {
					names, nerr := app.AllMounts(ctx)
					if nerr != nil {
						return nerr
					}
					t, err = app.Store.Tree(ctx, names...)
				} else {
					t, err = app.Store.Subtree(ctx, root)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch output {
				case "json":
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(exportTree(t, root, all))
				case "yaml":
					encoder := yaml.NewEncoder(out)
					encoder.SetIndent(2)
					defer encoder.Close()
					return encoder.Encode(exportTree(t, root, all))
				default:
					return renderTree(out, t, root, all, plain)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&mount, "mount", "m", "", "Mount to list (default \"secret\")")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every mount")
	cmd.Flags().StringVarP(&output, "output", "o", "tree", "Output format: tree, json or yaml")

	return cmd
}

// isColorEnabled reads the global --no-color flag
func isColorEnabled(cmd *cobra.Command) bool {
	f := cmd.Flag("no-color")
	return f == nil || f.Value.String() != "true"
}

func exportTree(t *store.Tree, root store.SecretPath, all bool) interface{} {
	if all {
		return t.Export()
	}
	return t.Mounts[root.Mount].Export()
}

type treeStyles struct {
	dir  lipgloss.Style
	leaf lipgloss.Style
	enum lipgloss.Style
}

func newTreeStyles(noColor bool) treeStyles {
	if noColor {
		return treeStyles{dir: lipgloss.NewStyle(), leaf: lipgloss.NewStyle(), enum: lipgloss.NewStyle()}
	}
	return treeStyles{
		dir:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff")),
		leaf: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")),
		enum: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
	}
}

func renderTree(w io.Writer, t *store.Tree, root store.SecretPath, all bool, noColor bool) error {
	styles := newTreeStyles(noColor)

	var mountNames []string
	for name := range t.Mounts {
		mountNames = append(mountNames, name)
	}
	sort.Strings(mountNames)

	for _, name := range mountNames {
		n := t.Mounts[name]
		var rendered *tree.Tree
		switch {
		case !all && root.Path != "" && n.Leaf && !n.IsDir():
			rendered = buildKeys(name+":"+root.Path, n, styles)
		case !all && root.Path != "":
			rendered = buildTree(name+":"+root.Path+"/", n, styles)
		default:
			rendered = buildTree(name+"/", n, styles)
		}
		if _, err := fmt.Fprintln(w, rendered.String()); err != nil {
			return err
		}
	}
	return nil
}

// buildKeys renders a single leaf with its key names as children
func buildKeys(label string, n *store.Node, styles treeStyles) *tree.Tree {
	t := tree.Root(styles.leaf.Render(label)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(styles.enum)
	for _, k := range n.Keys {
		t.Child(k)
	}
	return t
}

func buildTree(label string, n *store.Node, styles treeStyles) *tree.Tree {
	t := tree.Root(styles.dir.Render(label)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(styles.enum)
	for _, c := range n.SortedChildren() {
		if c.IsDir() {
			t.Child(buildTree(c.Name+"/", c, styles))
			continue
		}
		t.Child(styles.leaf.Render(c.Name))
	}
	return t
}

// secretLabel is used by find and grep output
func secretLabel(p store.SecretPath, key string) string {
	parts := []string{p.Mount}
	if p.Path != "" {
		parts = append(parts, p.Path)
	}
	if key != "" {
		parts = append(parts, key)
	}
	return strings.Join(parts, "/")
}
