// Package storage provides a typed key/value object store over a pluggable
// backend. Values are persisted as JSON documents.
//
// Two backends are supported and selected once, from the connection URL scheme,
// when the store is opened: PostgreSQL for postgres:// style URLs and Redis for
// anything else. Both backends expose identical observable behavior.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEncoding is returned when a value cannot be serialized to JSON.
	ErrEncoding = errors.New("storage: encoding error")
	// ErrDecoding is returned when a stored payload cannot be parsed into the requested shape.
	ErrDecoding = errors.New("storage: decoding error")
	// ErrConnection is returned on backend transport failures.
	ErrConnection = errors.New("storage: connection error")
)

// Kind identifies the backend behind a Store.
type Kind string

const (
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

// Backend persists raw JSON documents by key.
type Backend interface {
	// StoreJSON upserts the document under key.
	StoreJSON(ctx context.Context, key string, value json.RawMessage) error
	// RetrieveJSON returns the document under key and whether it exists.
	RetrieveJSON(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Close releases backend resources.
	Close() error
}

// Store is a typed object store bound to a single backend for its lifetime.
type Store struct {
	backend Backend
	kind    Kind
}

// New wraps an already constructed backend.
func New(kind Kind, backend Backend) *Store {
	return &Store{backend: backend, kind: kind}
}

// KindFromURL selects the backend for a connection URL. URLs with a postgres
// scheme select the relational backend, everything else selects Redis.
func KindFromURL(url string) Kind {
	if strings.HasPrefix(strings.ToLower(url), "postgres") {
		return KindPostgres
	}
	return KindRedis
}

// Open connects to the backend selected by url.
func Open(ctx context.Context, url string, opts Options, log *zap.SugaredLogger) (*Store, error) {
	kind := KindFromURL(url)
	var (
		backend Backend
		err     error
	)
	switch kind {
	case KindPostgres:
		backend, err = NewPostgresBackend(ctx, url, opts)
	default:
		backend, err = NewRedisBackend(ctx, url, opts)
	}
	if err != nil {
		return nil, err
	}
	log.Infow("storage backend connected", "kind", kind)
	return New(kind, backend), nil
}

// Kind returns the backend kind selected at construction.
func (s *Store) Kind() Kind {
	return s.kind
}

// Put serializes value to JSON and upserts it under key.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrEncoding, key, err)
	}
	return s.backend.StoreJSON(ctx, key, raw)
}

// Get decodes the value under key into dest. It returns false, without touching
// dest, when the key does not exist.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := s.backend.RetrieveJSON(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%w: key %q: %v", ErrDecoding, key, err)
	}
	return true, nil
}

// Delete removes key and reports whether it existed. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.backend.Delete(ctx, key)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Retrieve returns the value stored under key decoded as T.
func Retrieve[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, key, &v)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}
