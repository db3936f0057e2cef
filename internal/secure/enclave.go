package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when a buffer is created from zero bytes
var ErrEmpty = errors.New("secure: refusing to protect an empty buffer")

// SecureBuffer holds decrypted material (fragment plaintext, unseal shards)
// inside a memguard enclave until it is consumed.
type SecureBuffer struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewSecureBuffer moves data into a protected enclave. memguard wipes the
// source slice, so callers must not reuse it.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// Open decrypts the enclave into a locked buffer. The caller must Destroy
// the returned buffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return s.enclave.Open()
}

// Use opens the buffer, passes the plaintext to fn and wipes it afterwards.
// fn must not retain the slice.
func (s *SecureBuffer) Use(fn func(plaintext []byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy drops the enclave. Idempotent.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// IsDestroyed reports whether Destroy was called
func (s *SecureBuffer) IsDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}
