package vault

import (
	"context"

	"github.com/hashicorp/vault/api"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
)

// InitResult holds the material returned by first-time initialization
type InitResult struct {
	RootToken string
	Shard     string
}

// Initialized reports whether the server has been initialized
func (s *Session) Initialized(ctx context.Context) (bool, error) {
	ok, err := s.client.Sys().InitStatusWithContext(ctx)
	if err != nil {
		return false, vperrors.BackendError{Op: "init-status", Err: err}
	}
	return ok, nil
}

// CheckSeal unseals the server with shard if it is sealed. A server still
// sealed after one submission is a SealError; there is no retry.
func (s *Session) CheckSeal(ctx context.Context, shard string) error {
	status, err := s.client.Sys().SealStatusWithContext(ctx)
	if err != nil {
		return vperrors.BackendError{Op: "seal-status", Err: err}
	}
	if !status.Initialized {
		return vperrors.SealError{Message: "backend is not initialized; run 'vaultpass init'"}
	}
	if !status.Sealed {
		return nil
	}
	if shard == "" {
		return vperrors.SealError{Message: "backend is sealed and no unseal shard is configured"}
	}
	return s.Unseal(ctx, shard)
}

// Unseal submits a single shard
func (s *Session) Unseal(ctx context.Context, shard string) error {
	s.logger.Debug("Submitting unseal shard %s", logging.Secret(shard))
	status, err := s.client.Sys().UnsealWithContext(ctx, shard)
	if err != nil {
		return vperrors.SealError{Message: "unseal shard rejected", Err: err}
	}
	if status.Sealed {
		return vperrors.SealError{Message: "backend is still sealed after submitting the configured shard"}
	}
	s.logger.Info("Backend unsealed")
	return nil
}

// Initialize performs first-time initialization with a single shard and a
// threshold of one.
func (s *Session) Initialize(ctx context.Context) (InitResult, error) {
	done, err := s.Initialized(ctx)
	if err != nil {
		return InitResult{}, err
	}
	if done {
		return InitResult{}, vperrors.UserError{
			Message:    "Backend is already initialized",
			Suggestion: "Use the existing root token and unseal shard in your configuration",
		}
	}

	resp, err := s.client.Sys().InitWithContext(ctx, &api.InitRequest{
		SecretShares:    1,
		SecretThreshold: 1,
	})
	if err != nil {
		return InitResult{}, vperrors.BackendError{Op: "init", Err: err}
	}
	if len(resp.KeysB64) == 0 || resp.RootToken == "" {
		return InitResult{}, vperrors.BackendError{Op: "init", Err: errIncompleteInit}
	}

	return InitResult{RootToken: resp.RootToken, Shard: resp.KeysB64[0]}, nil
}
