package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
)

// WriteOptions controls conflict handling on write
type WriteOptions struct {
	// Force overwrites existing keys without asking
	Force bool
	// Replace stores data as the whole leaf instead of merging it into
	// the existing keys
	Replace bool
}

// DeleteOptions controls confirmation and recursion on delete/destroy
type DeleteOptions struct {
	Force     bool
	Recursive bool
}

// Write stores data at p, merging it into an existing leaf. Keys that
// already exist are only overwritten with Force or a confirmation.
func (s *Store) Write(ctx context.Context, p SecretPath, data map[string]interface{}, opts WriteOptions) error {
	if p.Path == "" {
		return vperrors.PathError{Kind: vperrors.IsDirectory, Mount: p.Mount, Path: p.Path}
	}

	existing, err := s.readLeaf(ctx, p)
	if err != nil && !vperrors.IsNotFound(err) {
		return err
	}

	if !opts.Force {
		conflicts := conflictingKeys(existing, data)
		for _, k := range conflicts {
			ok, err := s.confirm.Confirm(fmt.Sprintf("%s (%s) already exists. Overwrite? (y/N) ", p, k))
			if err != nil {
				return err
			}
			if !ok {
				return vperrors.PathError{Kind: vperrors.AlreadyExists, Mount: p.Mount, Path: p.Path, Key: k}
			}
		}
	}

	merged := make(map[string]interface{}, len(existing)+len(data))
	if !opts.Replace {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range data {
		merged[k] = v
	}

	if existing != nil && reflect.DeepEqual(merged, existing) {
		s.logger.Debug("%s unchanged, skipping write", p)
		return nil
	}
	return s.put(ctx, p, merged)
}

func (s *Store) put(ctx context.Context, p SecretPath, data map[string]interface{}) error {
	_, _, err := s.call(ctx, OpWrite, p, data)
	return err
}

func conflictingKeys(existing, data map[string]interface{}) []string {
	var out []string
	for k := range data {
		if _, ok := existing[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Delete removes p. On KV2 mounts the latest version is soft-deleted.
func (s *Store) Delete(ctx context.Context, p SecretPath, opts DeleteOptions) error {
	return s.remove(ctx, OpDelete, p, opts)
}

// Destroy removes p permanently. On KV2 mounts every version and the
// metadata are purged; elsewhere it behaves like Delete.
func (s *Store) Destroy(ctx context.Context, p SecretPath, opts DeleteOptions) error {
	return s.remove(ctx, OpDestroy, p, opts)
}

func (s *Store) remove(ctx context.Context, op Op, p SecretPath, opts DeleteOptions) error {
	kind, err := s.Classify(ctx, p)
	if err != nil {
		return err
	}

	switch kind {
	case KindDirectory:
		question := fmt.Sprintf("%s is a path, %s recursively? (y/N) ", p, op)
		if opts.Recursive {
			question = fmt.Sprintf("Really %s %s and everything under it? (y/N) ", op, p)
		}
		if err := s.ask(question, opts.Force); err != nil {
			return err
		}
		return s.removeTree(ctx, op, p)

	case KindLeaf:
		if err := s.ask(fmt.Sprintf("Really %s %s? (y/N) ", op, p), opts.Force); err != nil {
			return err
		}
		_, _, err := s.call(ctx, op, p, nil)
		return err

	case KindKey:
		parent, key := p.Split()
		if err := s.ask(fmt.Sprintf("Really %s key %q from %s? (y/N) ", op, key, parent), opts.Force); err != nil {
			return err
		}
		return s.removeKey(ctx, op, parent, key)

	default:
		return vperrors.PathError{Kind: vperrors.NotFound, Mount: p.Mount, Path: p.Path}
	}
}

func (s *Store) ask(question string, force bool) error {
	if force {
		return nil
	}
	ok, err := s.confirm.Confirm(question)
	if err != nil {
		return err
	}
	if !ok {
		return vperrors.ErrConfirmationDeclined
	}
	return nil
}

// removeKey rewrites the leaf without key. An emptied leaf is removed.
func (s *Store) removeKey(ctx context.Context, op Op, leaf SecretPath, key string) error {
	data, err := s.readLeaf(ctx, leaf)
	if err != nil {
		return err
	}
	rest := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k != key {
			rest[k] = v
		}
	}

	if len(rest) == 0 {
		_, _, err := s.call(ctx, op, leaf, nil)
		return err
	}

	if op == OpDestroy {
		d, err := s.mounts.Lookup(ctx, leaf.Mount)
		if err != nil {
			return err
		}
		if d.Variant == mounts.KV2 {
			// drop the history that still holds the key, then store the rest fresh
			if _, _, err := s.call(ctx, OpDestroy, leaf, nil); err != nil {
				return err
			}
		}
	}
	return s.put(ctx, leaf, rest)
}

// removeTree applies op to every leaf under dir, including a leaf stored
// at dir itself.
func (s *Store) removeTree(ctx context.Context, op Op, dir SecretPath) error {
	leaves, err := s.leavesUnder(ctx, dir)
	if err != nil {
		return err
	}
	if dir.Path != "" {
		if _, err := s.readLeaf(ctx, dir); err == nil {
			leaves = append(leaves, dir)
		}
	}
	for _, leaf := range leaves {
		if _, _, err := s.call(ctx, op, leaf, nil); err != nil {
			return err
		}
	}
	s.logger.Debug("%s: removed %d secrets under %s", op, len(leaves), dir)
	return nil
}

// Copy copies the secret at src to dst. A key reference copies just that
// key into dst. An existing dst is merged into key by key, with each
// conflicting key confirmed unless opts.Force is set.
func (s *Store) Copy(ctx context.Context, src, dst SecretPath, opts WriteOptions) error {
	secret, err := s.Read(ctx, src)
	if err != nil {
		return err
	}
	return s.copySecret(ctx, secret, dst, opts)
}

// Move merges src into dst the way Copy does and then deletes exactly
// what was copied. Moving a secret onto its own leaf is rejected.
func (s *Store) Move(ctx context.Context, src, dst SecretPath, opts WriteOptions) error {
	secret, err := s.Read(ctx, src)
	if err != nil {
		return err
	}
	if secret.Path == dst {
		return vperrors.UserError{
			Message:    fmt.Sprintf("Cannot move %s onto %s", src, dst),
			Suggestion: "Choose a destination other than the secret's own path",
		}
	}
	if err := s.copySecret(ctx, secret, dst, opts); err != nil {
		return err
	}
	if secret.Key != "" {
		return s.removeKey(ctx, OpDelete, secret.Path, secret.Key)
	}
	_, _, err = s.call(ctx, OpDelete, secret.Path, nil)
	return err
}

func (s *Store) copySecret(ctx context.Context, secret Secret, dst SecretPath, opts WriteOptions) error {
	data := secret.Data
	if secret.Key != "" {
		data = map[string]interface{}{secret.Key: secret.Data[secret.Key]}
	}
	return s.Write(ctx, dst, data, opts)
}
