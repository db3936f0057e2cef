// Package store performs secret reads, writes, listings and deletions
// against any registered mount, dispatching on the mount's engine variant.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
	"github.com/johnnybubonic/vaultpass/internal/prompt"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

// MountLookup resolves a mount name to its descriptor
type MountLookup interface {
	Lookup(ctx context.Context, name string) (mounts.Descriptor, error)
}

// SecretPath addresses a secret-leaf, a directory, or a key inside a leaf
type SecretPath struct {
	Mount string
	Path  string
}

// NewPath builds a SecretPath with surrounding slashes trimmed
func NewPath(mount, p string) SecretPath {
	return SecretPath{Mount: mounts.NormalizeName(mount), Path: strings.Trim(p, "/")}
}

func (p SecretPath) String() string {
	return p.Mount + ":" + p.Path
}

// Split separates the final path segment: "a/b/c" is ("a/b", "c")
func (p SecretPath) Split() (SecretPath, string) {
	i := strings.LastIndex(p.Path, "/")
	if i < 0 {
		return SecretPath{Mount: p.Mount}, p.Path
	}
	return SecretPath{Mount: p.Mount, Path: p.Path[:i]}, p.Path[i+1:]
}

// Child appends name to the path
func (p SecretPath) Child(name string) SecretPath {
	name = strings.Trim(name, "/")
	if p.Path == "" {
		return SecretPath{Mount: p.Mount, Path: name}
	}
	return SecretPath{Mount: p.Mount, Path: p.Path + "/" + name}
}

// Secret is the outcome of a read. When Key is set the path named a key
// inside the leaf at Path and Data is that whole leaf.
type Secret struct {
	Path SecretPath
	Data map[string]interface{}
	Key  string
}

// Value returns the referenced key's value, or Data when no key was named
func (s Secret) Value() interface{} {
	if s.Key != "" {
		return s.Data[s.Key]
	}
	return s.Data
}

// Store is the variant-dispatching secret store
type Store struct {
	sess    *vault.Session
	mounts  MountLookup
	confirm prompt.Confirmer
	logger  *logging.Logger
}

// New creates a Store. A nil confirmer declines every question.
func New(sess *vault.Session, lookup MountLookup, confirm prompt.Confirmer, logger *logging.Logger) *Store {
	if confirm == nil {
		confirm = prompt.Never{}
	}
	if logger == nil {
		logger = sess.Logger()
	}
	return &Store{sess: sess, mounts: lookup, confirm: confirm, logger: logger}
}

// call resolves the mount, picks the handler and maps engine signals to
// typed errors. errNotFound and errInvalidPath are passed through.
func (s *Store) call(ctx context.Context, op Op, p SecretPath, data map[string]interface{}) (result, mounts.Descriptor, error) {
	d, err := s.mounts.Lookup(ctx, p.Mount)
	if err != nil {
		return result{}, d, err
	}
	h, err := handlerFor(d, op)
	if err != nil {
		return result{}, d, err
	}

	s.logger.Debug("%s %s (%s)", op, p, d.Variant)
	res, err := h(ctx, s.sess.Client(), request{mount: d.Name, path: p.Path, data: data})
	if err != nil {
		if errors.Is(err, errNotFound) || errors.Is(err, errInvalidPath) {
			return res, d, err
		}
		return res, d, vperrors.BackendError{
			Op:      op.String(),
			Mount:   d.Name,
			Path:    p.Path,
			Variant: d.Variant.String(),
			Err:     err,
		}
	}
	return res, d, nil
}

// readLeaf returns the data stored at exactly p
func (s *Store) readLeaf(ctx context.Context, p SecretPath) (map[string]interface{}, error) {
	res, _, err := s.call(ctx, OpRead, p, nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, vperrors.PathError{Kind: vperrors.NotFound, Mount: p.Mount, Path: p.Path}
		}
		return nil, err
	}
	return res.data, nil
}

// Read returns the secret at p. When no leaf exists at p but the parent
// leaf holds a key named after the final segment, that key is returned.
func (s *Store) Read(ctx context.Context, p SecretPath) (Secret, error) {
	data, err := s.readLeaf(ctx, p)
	if err == nil {
		return Secret{Path: p, Data: data}, nil
	}
	if !vperrors.IsNotFound(err) {
		return Secret{}, err
	}

	if parent, key := p.Split(); p.Path != "" && parent.Path != "" {
		pdata, perr := s.readLeaf(ctx, parent)
		if perr == nil {
			if _, ok := pdata[key]; ok {
				return Secret{Path: parent, Data: pdata, Key: key}, nil
			}
		} else if !vperrors.IsNotFound(perr) {
			return Secret{}, perr
		}
	}

	if _, lerr := s.List(ctx, p); lerr == nil {
		return Secret{}, vperrors.PathError{Kind: vperrors.IsDirectory, Mount: p.Mount, Path: p.Path}
	}
	return Secret{}, err
}

// List returns the sorted immediate children of directory p. Directory
// entries carry a trailing "/".
func (s *Store) List(ctx context.Context, p SecretPath) ([]string, error) {
	res, _, err := s.call(ctx, OpList, p, nil)
	if err != nil {
		if errors.Is(err, errInvalidPath) {
			return nil, vperrors.PathError{Kind: vperrors.NotFound, Mount: p.Mount, Path: p.Path}
		}
		return nil, err
	}
	sort.Strings(res.keys)
	return res.keys, nil
}

// Kind classifies what a path names
type Kind int

const (
	KindNone Kind = iota
	KindDirectory
	KindLeaf
	KindKey
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindLeaf:
		return "secret"
	case KindKey:
		return "key"
	default:
		return "none"
	}
}

// Classify reports what p names. A path that is both a directory and a
// leaf is a directory.
func (s *Store) Classify(ctx context.Context, p SecretPath) (Kind, error) {
	_, err := s.List(ctx, p)
	switch {
	case err == nil:
		return KindDirectory, nil
	case !vperrors.IsNotFound(err):
		return KindNone, err
	}

	if p.Path == "" {
		// an empty mount root is still a directory
		return KindDirectory, nil
	}

	_, err = s.readLeaf(ctx, p)
	switch {
	case err == nil:
		return KindLeaf, nil
	case !vperrors.IsNotFound(err):
		return KindNone, err
	}

	ok, err := s.hasKey(ctx, p)
	if err != nil {
		return KindNone, err
	}
	if ok {
		return KindKey, nil
	}
	return KindNone, nil
}

// Exists reports whether p names a directory or leaf, or with asKey
// whether the parent leaf holds a key named after p's final segment.
func (s *Store) Exists(ctx context.Context, p SecretPath, asKey bool) (bool, error) {
	if asKey {
		return s.hasKey(ctx, p)
	}
	k, err := s.Classify(ctx, p)
	if err != nil {
		return false, err
	}
	return k == KindDirectory || k == KindLeaf, nil
}

func (s *Store) hasKey(ctx context.Context, p SecretPath) (bool, error) {
	parent, key := p.Split()
	if parent.Path == "" || key == "" {
		return false, nil
	}
	data, err := s.readLeaf(ctx, parent)
	if err != nil {
		if vperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_, ok := data[key]
	return ok, nil
}

// FormatValue renders a secret value as text. Complex values become JSON.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
