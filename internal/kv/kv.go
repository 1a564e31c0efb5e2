// Package kv provides the small key/value persistence layer used for data
// that must survive restarts: the cached push token and the materialized
// login session.
//
// Four implementations of Store are provided:
//   - MemoryStore: in-process, for tests and throwaway runs.
//   - SQLiteStore: a single local file, the default for the CLI.
//   - RedisStore: shared storage for hosted deployments.
//   - PostgresStore: durable shared storage; requires the kv_store migration.
package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key/value store addressed by fixed keys.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying connection, if any.
	Close() error
}

// Open returns a Store for the given storage URL:
//
//	memory://                       MemoryStore
//	sqlite:///home/me/.dlts/state.db SQLiteStore (a bare path also works)
//	redis://localhost:6379/0        RedisStore
//	postgres://user:pw@host/db      PostgresStore
func Open(ctx context.Context, rawURL string) (Store, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || rawURL == "memory://" {
		return NewMemoryStore(), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		// Anything that is not a URL is treated as a sqlite file path.
		return OpenSQLite(rawURL)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		return OpenSQLite(path)
	case "redis", "rediss":
		return NewRedisStore(ctx, rawURL, DefaultRedisPrefix)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, rawURL)
	default:
		return nil, fmt.Errorf("kv: unsupported storage scheme %q", u.Scheme)
	}
}
