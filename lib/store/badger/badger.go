// Package badger implements the key/value store on an embedded BadgerDB. It is the default backend: a local
// durable file playing the role of the extension's own storage.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/tarancss/walletlink/lib/store"
)

// Badger wraps a BadgerDB instance.
type Badger struct {
	db *badger.DB
}

// New opens (creating if needed) the database in directory path. An empty path opens an in-memory database.
func New(path string) (*Badger, error) {
	var opts badger.Options

	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create badger directory %s: %w", path, err)
		}

		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}

	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("cannot open badger db: %w", err)
	}

	return &Badger{db: db}, nil
}

var _ store.KV = (*Badger)(nil)

// Get returns the value stored at key.
func (b *Badger) Get(_ context.Context, key string) (v []byte, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(key))
		if errGet != nil {
			return errGet
		}

		v, errGet = item.ValueCopy(nil)

		return errGet
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		err = store.ErrDataNotFound
	}

	return v, mapClosed(err)
}

// Put stores value at key.
func (b *Badger) Put(_ context.Context, key string, value []byte) error {
	return mapClosed(b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}))
}

// Delete removes key.
func (b *Badger) Delete(_ context.Context, key string) error {
	return mapClosed(b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}))
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func mapClosed(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", store.ErrClosed, err)
	}

	return err
}
