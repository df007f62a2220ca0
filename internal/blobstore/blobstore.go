// Package blobstore archives raw provider payloads by content address.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("blob not found")
	ErrInvalidID = errors.New("invalid blob id")
	ErrIntegrity = errors.New("blob integrity check failed")
)

// Store is a content-addressed blob store. Put is idempotent: storing the
// same bytes twice yields the same id.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ID returns the SHA-256 hex id of data.
func ID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validID accepts only lower-case 64 character hex strings so ids can be
// used directly in paths and object keys.
func validID(id string) error {
	if len(id) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func verify(id string, data []byte) error {
	if got := ID(data); got != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrIntegrity, id, got)
	}
	return nil
}
