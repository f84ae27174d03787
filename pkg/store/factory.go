// Package store provides the persistence backends for OAuth clients,
// authorization codes, and access tokens: in-memory, SQLite, and Redis,
// selected through a small factory.
package store

import (
	"fmt"
	"strings"

	"github.com/flowmcp/flowmcp/pkg/core"
)

// StoreType represents the type of store backend.
type StoreType string

const (
	// StoreTypeMemory represents in-memory storage.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite represents SQLite file storage.
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeRedis represents Redis storage.
	StoreTypeRedis StoreType = "redis"
)

// Config contains configuration for creating a store.
type Config struct {
	// Type specifies the store backend.
	Type StoreType
	// SQLitePath is the database file path (only used when Type is sqlite).
	SQLitePath string
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// NewStore creates and returns a new store instance based on the configuration.
// Returns an error if the store type is invalid or if store creation fails.
func NewStore(config Config) (core.Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeSQLite:
		path := config.SQLitePath
		if path == "" {
			path = "oauth.db"
		}
		return NewSQLiteStore(path)
	case StoreTypeRedis:
		return NewRedisStoreFromOptions(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// ParseStoreType parses a string into a StoreType.
// Returns StoreTypeMemory for invalid inputs.
func ParseStoreType(s string) StoreType {
	switch strings.ToLower(s) {
	case "memory":
		return StoreTypeMemory
	case "sqlite":
		return StoreTypeSQLite
	case "redis":
		return StoreTypeRedis
	default:
		return StoreTypeMemory
	}
}

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	return string(t)
}

// IsValid returns true if the StoreType is valid.
func (t StoreType) IsValid() bool {
	switch t {
	case StoreTypeMemory, StoreTypeSQLite, StoreTypeRedis:
		return true
	default:
		return false
	}
}

// DefaultConfig returns the default store configuration (memory store).
func DefaultConfig() Config {
	return Config{Type: StoreTypeMemory}
}
