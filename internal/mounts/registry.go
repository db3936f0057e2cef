package mounts

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/vault"
)

// DefaultCreateDelay is waited once after provisioning a KV2 mount, which
// is not immediately writable on the server.
const DefaultCreateDelay = 2 * time.Second

// internalMounts are never offered as secret stores
var internalMounts = map[string]bool{"sys": true, "identity": true}

// Declaration is a mount named in configuration
type Declaration struct {
	Name    string
	Variant Variant
}

// Registry is the mount table of one session
type Registry struct {
	sess       *vault.Session
	declared   []Declaration
	table      map[string]Descriptor
	discovered bool
	logger     *logging.Logger

	// CreateDelay is the fixed wait after creating a KV2 mount
	CreateDelay time.Duration
}

// NewRegistry creates an empty registry; discovery runs on first use
func NewRegistry(sess *vault.Session, declared []Declaration, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		sess:        sess,
		declared:    declared,
		table:       make(map[string]Descriptor),
		logger:      logger,
		CreateDelay: DefaultCreateDelay,
	}
}

// NormalizeName strips surrounding slashes from a mount name
func NormalizeName(name string) string {
	return strings.Trim(strings.TrimSpace(name), "/")
}

// Discover lists the server's engines, when the session may, and merges in
// declared mounts. Declared entries never replace discovered ones.
func (r *Registry) Discover(ctx context.Context) error {
	listed, err := r.sess.Client().Sys().ListMountsWithContext(ctx)
	switch {
	case err == nil:
		r.addListed(listed)
	case vault.StatusCode(err) == 403:
		r.logger.Debug("Token cannot list mounts; using declared mounts only")
	default:
		return vperrors.BackendError{Op: "list-mounts", Err: err}
	}

	for _, d := range r.declared {
		name := NormalizeName(d.Name)
		if name == "" {
			continue
		}
		if _, exists := r.table[name]; exists {
			continue
		}
		r.table[name] = newDescriptor(name, d.Variant, true)
	}

	r.discovered = true
	r.logger.Debug("Mount table has %d entries", len(r.table))
	return nil
}

func (r *Registry) addListed(listed map[string]*api.MountOutput) {
	for rawName, out := range listed {
		name := NormalizeName(rawName)
		if internalMounts[name] || out == nil {
			continue
		}
		v, ok := Classify(out.Type, out.Options)
		if !ok {
			r.logger.Debug("Skipping mount %s of unsupported type %s", name, out.Type)
			continue
		}
		r.table[name] = newDescriptor(name, v, false)
	}
}

func (r *Registry) ensure(ctx context.Context) error {
	if r.discovered {
		return nil
	}
	return r.Discover(ctx)
}

// Lookup returns the descriptor for name, discovering on first use
func (r *Registry) Lookup(ctx context.Context, name string) (Descriptor, error) {
	if err := r.ensure(ctx); err != nil {
		return Descriptor{}, err
	}
	name = NormalizeName(name)
	d, ok := r.table[name]
	if !ok {
		return Descriptor{}, vperrors.MountError{Kind: vperrors.UnknownMount, Mount: name}
	}
	return d, nil
}

// Descriptors returns the mount table sorted by name
func (r *Registry) Descriptors(ctx context.Context) ([]Descriptor, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(r.table))
	for _, d := range r.table {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Names returns the mount names, sorted
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	ds, err := r.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names, nil
}

// Create provisions a mount of the given variant. An already-existing mount
// is logged and not an error. Cubbyhole cannot be created.
func (r *Registry) Create(ctx context.Context, name string, v Variant) (Descriptor, error) {
	name = NormalizeName(name)
	if v == Cubbyhole {
		return Descriptor{}, vperrors.MountError{
			Kind:      vperrors.UnsupportedOperation,
			Mount:     name,
			Variant:   v.String(),
			Operation: "create",
		}
	}

	version := "1"
	if v == KV2 {
		version = "2"
	}
	err := r.sess.Client().Sys().MountWithContext(ctx, name, &api.MountInput{
		Type:        "kv",
		Description: "vaultpass secrets",
		Options:     map[string]string{"version": version},
	})
	switch {
	case err == nil:
		r.logger.Info("Created %s mount %s", v, name)
		if v == KV2 && r.CreateDelay > 0 {
			if err := sleep(ctx, r.CreateDelay); err != nil {
				return Descriptor{}, err
			}
		}
	case vault.StatusCode(err) == 400 && vault.HasErrorText(err, "already in use"):
		r.logger.Warn("Mount %s already exists", name)
		if _, known := r.table[name]; !known {
			if err := r.Discover(ctx); err != nil {
				return Descriptor{}, err
			}
		}
	default:
		return Descriptor{}, vperrors.MountError{
			Kind:      vperrors.CreateFailed,
			Mount:     name,
			Variant:   v.String(),
			Operation: "create",
			Err:       err,
		}
	}

	d, exists := r.table[name]
	if !exists {
		d = newDescriptor(name, v, false)
		r.table[name] = d
	}
	return d, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
