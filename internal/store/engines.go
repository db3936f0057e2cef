package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"

	"github.com/hashicorp/vault/api"
)

func join(parts ...string) string {
	return path.Join(parts...)
}

func kv1Read(ctx context.Context, c *api.Client, req request) (result, error) {
	if req.path == "" {
		return result{}, errNotFound
	}
	secret, err := c.KVv1(req.mount).Get(ctx, req.path)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return result{}, errNotFound
		}
		return result{}, err
	}
	if secret == nil || secret.Data == nil {
		return result{}, errNotFound
	}
	return result{data: secret.Data}, nil
}

func kv1Write(ctx context.Context, c *api.Client, req request) (result, error) {
	return result{}, c.KVv1(req.mount).Put(ctx, req.path, req.data)
}

func kv1Delete(ctx context.Context, c *api.Client, req request) (result, error) {
	return result{}, c.KVv1(req.mount).Delete(ctx, req.path)
}

func kv1List(ctx context.Context, c *api.Client, req request) (result, error) {
	return logicalList(ctx, c, join(req.mount, req.path))
}

func kv2Read(ctx context.Context, c *api.Client, req request) (result, error) {
	if req.path == "" {
		return result{}, errNotFound
	}
	secret, err := c.KVv2(req.mount).Get(ctx, req.path)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return result{}, errNotFound
		}
		return result{}, err
	}
	if secret == nil || secret.Data == nil {
		return result{}, errNotFound
	}
	return result{data: secret.Data}, nil
}

func kv2Write(ctx context.Context, c *api.Client, req request) (result, error) {
	_, err := c.KVv2(req.mount).Put(ctx, req.path, req.data)
	return result{}, err
}

// kv2Delete soft-deletes the latest version
func kv2Delete(ctx context.Context, c *api.Client, req request) (result, error) {
	return result{}, c.KVv2(req.mount).Delete(ctx, req.path)
}

// kv2Destroy purges the metadata and every version
func kv2Destroy(ctx context.Context, c *api.Client, req request) (result, error) {
	return result{}, c.KVv2(req.mount).DeleteMetadata(ctx, req.path)
}

func kv2List(ctx context.Context, c *api.Client, req request) (result, error) {
	return logicalList(ctx, c, join(req.mount, "metadata", req.path))
}

func logicalList(ctx context.Context, c *api.Client, p string) (result, error) {
	secret, err := c.Logical().ListWithContext(ctx, p)
	if err != nil {
		return result{}, err
	}
	return listResult(secret)
}

func listResult(secret *api.Secret) (result, error) {
	if secret == nil || secret.Data == nil {
		return result{}, errInvalidPath
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok || len(raw) == 0 {
		return result{}, errInvalidPath
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, fmt.Sprint(k))
	}
	sort.Strings(keys)
	return result{keys: keys}, nil
}

// The cubbyhole has no helper in the client library, so it is addressed
// with raw requests.

func cubbyRequest(ctx context.Context, c *api.Client, method, p string, body interface{}, list bool) (*api.Secret, error) {
	r := c.NewRequest(method, "/v1/"+p)
	if list {
		r.Params.Set("list", "true")
	}
	if body != nil {
		if err := r.SetJSONBody(body); err != nil {
			return nil, err
		}
	}

	//nolint:staticcheck // the raw API is the only way to address the cubbyhole by path
	resp, err := c.RawRequestWithContext(ctx, r)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return api.ParseSecret(resp.Body)
}

func cubbyRead(ctx context.Context, c *api.Client, req request) (result, error) {
	if req.path == "" {
		return result{}, errNotFound
	}
	secret, err := cubbyRequest(ctx, c, http.MethodGet, join(req.mount, req.path), nil, false)
	if err != nil {
		return result{}, err
	}
	if secret == nil || secret.Data == nil {
		return result{}, errNotFound
	}
	return result{data: secret.Data}, nil
}

func cubbyWrite(ctx context.Context, c *api.Client, req request) (result, error) {
	_, err := cubbyRequest(ctx, c, http.MethodPut, join(req.mount, req.path), req.data, false)
	return result{}, err
}

func cubbyDelete(ctx context.Context, c *api.Client, req request) (result, error) {
	_, err := cubbyRequest(ctx, c, http.MethodDelete, join(req.mount, req.path), nil, false)
	return result{}, err
}

func cubbyList(ctx context.Context, c *api.Client, req request) (result, error) {
	secret, err := cubbyRequest(ctx, c, http.MethodGet, join(req.mount, req.path), nil, true)
	if err != nil {
		return result{}, err
	}
	return listResult(secret)
}
