// Package store provides the sequence storage interface and its SQLite and
// Badger implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/symbol-predict/internal/model"
)

var (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by CompareAndPut when the stored record changed
	// since it was read.
	ErrConflict = errors.New("record changed concurrently")

	// ErrInvalidScope marks a scope that cannot be used as a key.
	ErrInvalidScope = errors.New("invalid scope")
)

// Store persists sequence records keyed by (scope, fingerprint).
type Store interface {
	// Get returns the record for scope and fingerprint, or ErrNotFound.
	Get(ctx context.Context, scope, fingerprint string) (*model.SequenceRecord, error)

	// Put creates or replaces the record identified by rec.Scope and
	// rec.Fingerprint. An empty rec.ID is assigned a new one.
	Put(ctx context.Context, rec *model.SequenceRecord) error

	// CompareAndPut writes rec only if the stored frequency of its key still
	// equals prev, where 0 means no record exists. Otherwise it returns
	// ErrConflict and writes nothing. On update the stored id and creation
	// time are kept.
	CompareAndPut(ctx context.Context, rec *model.SequenceRecord, prev int) error

	// RangeQuery returns all records of scope whose fingerprint starts with
	// prefix, ordered by fingerprint.
	RangeQuery(ctx context.Context, scope, prefix string) ([]model.SequenceRecord, error)

	// Close closes the store.
	Close() error
}

// TokenSource bulk-loads the tokens of a scope.
type TokenSource interface {
	LoadTokens(ctx context.Context, scope string) (map[string]model.Token, error)
}

// TokenWriter creates or updates tokens. Implementations reject ids that
// fingerprint.ValidateID refuses.
type TokenWriter interface {
	PutToken(ctx context.Context, scope string, tok model.Token) error
}

// Backend is a store that also owns tokens and can report statistics.
type Backend interface {
	Store
	TokenSource
	TokenWriter
	Stats(ctx context.Context) (*Stats, error)
}

// Backends are the supported storage engines.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open opens the named backend at path.
func Open(backend, path string, logger *slog.Logger) (Backend, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStore(path)
	case BackendBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = path
		cfg.Logger = logger
		return NewBadgerStore(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (valid: sqlite, badger)", backend)
	}
}

// ValidateScope rejects scopes that are empty or contain NUL, which
// separates the scope from the rest of a key.
func ValidateScope(scope string) error {
	if scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidScope)
	}
	if strings.ContainsRune(scope, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidScope, scope)
	}
	return nil
}
