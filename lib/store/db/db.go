// Package db implements the opening of database connections by product name.
package db

import (
	"fmt"

	"github.com/tarancss/walletlink/lib/store"
	"github.com/tarancss/walletlink/lib/store/badger"
	"github.com/tarancss/walletlink/lib/store/memory"
	"github.com/tarancss/walletlink/lib/store/mongo"
	"github.com/tarancss/walletlink/lib/store/postgres"
	"github.com/tarancss/walletlink/lib/store/redis"
)

// Supported database types.
const (
	BADGER   string = "badger"
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	REDIS    string = "redis"
)

// New returns a new database connection according to the options (database type). For badger the connection is the
// directory path; for the others it is the server uri.
func New(options, connection string) (store.KV, error) {
	switch options {
	case BADGER:
		return badger.New(connection)
	case MEMORY:
		return memory.New(), nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case REDIS:
		return redis.New(connection)
	}

	return nil, fmt.Errorf("unknown database type %q", options)
}
