package store

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

// Node is one entry in a mount's path tree. A node can be a directory, a
// leaf, or both.
type Node struct {
	Name     string
	Children map[string]*Node
	Leaf     bool
	// Keys holds the sorted key names of the leaf stored at this node
	Keys []string
}

func newNode(name string) *Node {
	return &Node{Name: name, Children: map[string]*Node{}}
}

// IsDir reports whether the node has children
func (n *Node) IsDir() bool { return len(n.Children) > 0 }

// SortedChildren returns the children ordered by name
func (n *Node) SortedChildren() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Export converts the node into plain maps and slices for JSON/YAML
// output: directories become maps, leaves become their key lists. Keys of
// a leaf that is also a directory are mapped to nil.
func (n *Node) Export() interface{} {
	if !n.IsDir() {
		keys := make([]string, len(n.Keys))
		copy(keys, n.Keys)
		return keys
	}
	out := make(map[string]interface{}, len(n.Children)+len(n.Keys))
	for _, k := range n.Keys {
		out[k] = nil
	}
	for name, c := range n.Children {
		out[name] = c.Export()
	}
	return out
}

// Tree is the discovered layout of one or more mounts: a nested node per
// mount plus the flat set of every directory and leaf path.
type Tree struct {
	Mounts map[string]*Node
	paths  map[string]struct{}
	leaves []SecretPath
}

func newTree() *Tree {
	return &Tree{Mounts: map[string]*Node{}, paths: map[string]struct{}{}}
}

func flatPath(p SecretPath) string {
	if p.Path == "" {
		return p.Mount
	}
	return p.Mount + "/" + p.Path
}

func (t *Tree) add(p SecretPath) {
	t.paths[flatPath(p)] = struct{}{}
}

// Paths returns the sorted flat set. A mount root appears as its name,
// everything else as "mount/path".
func (t *Tree) Paths() []string {
	out := make([]string, 0, len(t.paths))
	for p := range t.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Leaves returns every discovered leaf in path order
func (t *Tree) Leaves() []SecretPath {
	out := make([]SecretPath, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Export converts every mount's node for JSON/YAML output
func (t *Tree) Export() map[string]interface{} {
	out := make(map[string]interface{}, len(t.Mounts))
	for name, n := range t.Mounts {
		out[name] = n.Export()
	}
	return out
}

type frame struct {
	path   SecretPath
	node   *Node
	parent *Node
	// leaf is set when the parent listing named this entry without a
	// trailing slash
	leaf bool
}

// Tree discovers the layout under each named mount
func (s *Store) Tree(ctx context.Context, mountNames ...string) (*Tree, error) {
	t := newTree()
	for _, m := range mountNames {
		root := SecretPath{Mount: strings.Trim(m, "/")}
		node := newNode(root.Mount)
		t.Mounts[root.Mount] = node
		if err := s.walk(ctx, t, root, node); err != nil {
			return nil, err
		}
	}
	sort.Slice(t.leaves, func(i, j int) bool {
		return flatPath(t.leaves[i]) < flatPath(t.leaves[j])
	})
	return t, nil
}

// Subtree discovers the layout under a single directory. When dir names a
// leaf the returned root node is that leaf.
func (s *Store) Subtree(ctx context.Context, dir SecretPath) (*Tree, error) {
	t := newTree()
	node := newNode(dir.Mount)
	t.Mounts[dir.Mount] = node
	if err := s.walk(ctx, t, dir, node); err != nil {
		return nil, err
	}
	sort.Slice(t.leaves, func(i, j int) bool {
		return flatPath(t.leaves[i]) < flatPath(t.leaves[j])
	})
	return t, nil
}

// walk is a depth-first discovery driven by an explicit stack. Each path
// is listed once; a path that cannot be listed is read as a leaf.
func (s *Store) walk(ctx context.Context, t *Tree, root SecretPath, node *Node) error {
	stack := []frame{{path: root, node: node}}
	visited := map[string]bool{}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := flatPath(f.path)
		if visited[id] {
			continue
		}
		visited[id] = true

		names, err := s.List(ctx, f.path)
		switch {
		case err == nil:
			t.add(f.path)
			entries := childEntries(names)
			// pushed in reverse so children pop in sorted order
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				child, ok := f.node.Children[e.name]
				if !ok {
					child = newNode(e.name)
					f.node.Children[e.name] = child
				}
				stack = append(stack, frame{path: f.path.Child(e.name), node: child, parent: f.node, leaf: e.leaf})
			}
			if f.leaf {
				if err := s.readNode(ctx, t, f); err != nil {
					return err
				}
			}

		case f.path == root && root.Path == "" && (vperrors.IsNotFound(err) || vault.StatusCode(err) == http.StatusForbidden):
			if vperrors.IsNotFound(err) {
				s.logger.Debug("%s has no entries", f.path)
			} else {
				s.logger.Warn("Cannot list %s, treating it as empty: %v", f.path, err)
			}
			t.add(f.path)

		case vperrors.IsNotFound(err):
			if err := s.readNode(ctx, t, f); err != nil {
				return err
			}

		default:
			return err
		}
	}
	return nil
}

// readNode records the leaf at f. A listed leaf that can no longer be
// read (a soft-deleted version) is dropped from its parent; a start path
// that is neither listable nor readable is NotFound.
func (s *Store) readNode(ctx context.Context, t *Tree, f frame) error {
	data, err := s.readLeaf(ctx, f.path)
	if err != nil {
		if !vperrors.IsNotFound(err) || f.parent == nil {
			return err
		}
		if f.parent != nil && !f.node.IsDir() {
			delete(f.parent.Children, f.node.Name)
		}
		s.logger.Debug("skipping unreadable entry %s", f.path)
		return nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f.node.Leaf = true
	f.node.Keys = keys
	t.add(f.path)
	t.leaves = append(t.leaves, f.path)
	return nil
}

type entry struct {
	name string
	leaf bool
}

// childEntries merges "x" and "x/" into one entry and sorts by name
func childEntries(names []string) []entry {
	idx := map[string]int{}
	var out []entry
	for _, n := range names {
		name := strings.TrimSuffix(n, "/")
		if name == "" {
			continue
		}
		leaf := !strings.HasSuffix(n, "/")
		if i, ok := idx[name]; ok {
			out[i].leaf = out[i].leaf || leaf
			continue
		}
		idx[name] = len(out)
		out = append(out, entry{name: name, leaf: leaf})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Store) leavesUnder(ctx context.Context, dir SecretPath) ([]SecretPath, error) {
	t, err := s.Subtree(ctx, dir)
	if err != nil {
		return nil, err
	}
	return t.Leaves(), nil
}

// Match is a secret value that matched a search
type Match struct {
	Path  SecretPath
	Key   string
	Value string
}

// SearchNames returns the flat paths under the mounts whose final segment
// matches re. Mount roots are not candidates.
func (s *Store) SearchNames(ctx context.Context, re *regexp.Regexp, mountNames ...string) ([]string, error) {
	t, err := s.Tree(ctx, mountNames...)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range t.Paths() {
		i := strings.LastIndex(p, "/")
		if i < 0 {
			continue
		}
		if re.MatchString(p[i+1:]) {
			out = append(out, p)
		}
	}
	return out, nil
}

// SearchValues reads every leaf under the mounts and returns the keys
// whose formatted value matches re.
func (s *Store) SearchValues(ctx context.Context, re *regexp.Regexp, mountNames ...string) ([]Match, error) {
	t, err := s.Tree(ctx, mountNames...)
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, leaf := range t.Leaves() {
		data, err := s.readLeaf(ctx, leaf)
		if err != nil {
			if vperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := FormatValue(data[k])
			if re.MatchString(v) {
				out = append(out, Match{Path: leaf, Key: k, Value: v})
			}
		}
	}
	return out, nil
}
