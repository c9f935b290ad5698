// Package store defines the durable key/value interface used to persist connections. The implementations are
// database product agnostic (see sub-packages) and are opened through package db.
package store

import (
	"context"
	"errors"
)

// KV is the durable key/value storage. Get returns ErrDataNotFound for a missing key; Delete of a missing key is not
// an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
	ErrClosed       = errors.New("store closed")
)
