// Package db implements the opening and graceful closing of history store connections.
package db

import (
	"errors"

	"github.com/twputra/sentrysol-beta-v2/lib/store"
	"github.com/twputra/sentrysol-beta-v2/lib/store/mongo"
	"github.com/twputra/sentrysol-beta-v2/lib/store/postgres"
	"github.com/twputra/sentrysol-beta-v2/lib/store/supabase"
)

// Store types.
const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	SUPABASE string = "supabase"
)

// ErrType is returned for unknown store types.
var ErrType = errors.New("unknown database type")

// New returns a new database connection according to the options (database type). key is only used by hosted
// stores. An empty type means no history is kept and returns a nil store.
func New(options, connection, key string) (store.DB, error) {
	switch options {
	case "":
		return nil, nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case SUPABASE:
		return supabase.New(connection, key)
	}

	return nil, ErrType
}

// Close gracefully closes the database connection.
func Close(dh store.DB) error {
	if dh == nil {
		return nil
	}
	return dh.Close()
}
