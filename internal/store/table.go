package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/api"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/mounts"
)

// Op is a logical secret operation
type Op int

const (
	OpRead Op = iota + 1
	OpWrite
	OpList
	OpDelete
	OpDestroy
)

// Ops lists every logical operation
var Ops = []Op{OpRead, OpWrite, OpList, OpDelete, OpDestroy}

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpList:
		return "list"
	case OpDelete:
		return "delete"
	case OpDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

var (
	// errNotFound is returned by read handlers for a missing leaf
	errNotFound = errors.New("secret not found")
	// errInvalidPath is returned by list handlers for a path with no children
	errInvalidPath = errors.New("invalid path")
)

// request is the uniform input of every handler
type request struct {
	mount string
	path  string
	data  map[string]interface{}
}

// result is the uniform output: data for read, keys for list
type result struct {
	data map[string]interface{}
	keys []string
}

type handler func(ctx context.Context, c *api.Client, req request) (result, error)

type opKey struct {
	variant mounts.Variant
	op      Op
}

// dispatch holds one handler per (variant, operation). Cubbyhole has no
// destroy of its own; it aliases delete. KV1 destroy is plain delete too.
var dispatch = map[opKey]handler{
	{mounts.KV1, OpRead}:    kv1Read,
	{mounts.KV1, OpWrite}:   kv1Write,
	{mounts.KV1, OpList}:    kv1List,
	{mounts.KV1, OpDelete}:  kv1Delete,
	{mounts.KV1, OpDestroy}: kv1Delete,

	{mounts.KV2, OpRead}:    kv2Read,
	{mounts.KV2, OpWrite}:   kv2Write,
	{mounts.KV2, OpList}:    kv2List,
	{mounts.KV2, OpDelete}:  kv2Delete,
	{mounts.KV2, OpDestroy}: kv2Destroy,

	{mounts.Cubbyhole, OpRead}:    cubbyRead,
	{mounts.Cubbyhole, OpWrite}:   cubbyWrite,
	{mounts.Cubbyhole, OpList}:    cubbyList,
	{mounts.Cubbyhole, OpDelete}:  cubbyDelete,
	{mounts.Cubbyhole, OpDestroy}: cubbyDelete,
}

func handlerFor(d mounts.Descriptor, op Op) (handler, error) {
	h, ok := dispatch[opKey{d.Variant, op}]
	if !ok {
		return nil, vperrors.MountError{
			Kind:      vperrors.UnsupportedOperation,
			Mount:     d.Name,
			Variant:   d.Variant.String(),
			Operation: op.String(),
		}
	}
	return h, nil
}

// Supports reports whether the dispatch table has a handler for (v, op)
func Supports(v mounts.Variant, op Op) bool {
	_, ok := dispatch[opKey{v, op}]
	return ok
}
