// File: internal/kvstore/store.go
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/config"
)

// Keys used by the application.
const (
	KeyCustomDevices = "customDevices"
	KeyPreviewSuites = "previewSuites"
	KeyActiveSuite   = "activeSuite"
	KeyPocketRules   = "devtoolsPocketRules"
)

// ErrInvalidKey is returned for keys outside ^[A-Za-z0-9_-]{1,64}$.
var ErrInvalidKey = errors.New("kvstore: invalid key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// json is the codec for every stored value.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists JSON blobs under short string keys.
type Store interface {
	// Get decodes the value stored under key into dst. found is false when
	// the key has never been written.
	Get(ctx context.Context, key string, dst interface{}) (found bool, err error)
	// Set encodes value and stores it under key, replacing any previous value.
	Set(ctx context.Context, key string, value interface{}) error
	Close() error
}

// ValidateKey checks a key against the allowed pattern.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func encode(key string, value interface{}) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kvstore: failed to encode %q: %w", key, err)
	}
	return data, nil
}

func decode(key string, data []byte, dst interface{}) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("kvstore: failed to decode %q: %w", key, err)
	}
	return nil
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendFile:
		return NewFileStore(cfg.Dir, logger)
	case config.StoreBackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case config.StoreBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.closer = pool.Close
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
