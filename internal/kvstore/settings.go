// File: internal/kvstore/settings.go
package kvstore

import (
	"context"
	"reflect"

	"go.uber.org/zap"
)

// Settings applies the application's persistence policy over a Store: a
// failed read leaves the caller's defaults in place, a failed write is logged
// and dropped. Neither ever reaches the user as an error.
type Settings struct {
	store Store
	log   *zap.Logger
}

// NewSettings wraps store.
func NewSettings(store Store, logger *zap.Logger) *Settings {
	return &Settings{store: store, log: logger.Named("settings")}
}

// Load decodes key into dst. dst must already hold the defaults; it is left
// untouched when the key is missing or unreadable. Reports whether a stored
// value was applied.
func (s *Settings) Load(ctx context.Context, key string, dst interface{}) bool {
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Ptr || target.IsNil() {
		s.log.Error("Settings destination must be a non-nil pointer.", zap.String("key", key))
		return false
	}

	// Decode into a copy of the defaults so a corrupt value cannot leave dst half written.
	scratch := reflect.New(target.Elem().Type())
	scratch.Elem().Set(target.Elem())

	found, err := s.store.Get(ctx, key, scratch.Interface())
	if err != nil {
		s.log.Warn("Failed to load setting, using defaults.", zap.String("key", key), zap.Error(err))
		return false
	}
	if found {
		target.Elem().Set(scratch.Elem())
	}
	return found
}

// Save persists value under key. Reports whether the write succeeded.
func (s *Settings) Save(ctx context.Context, key string, value interface{}) bool {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.log.Warn("Failed to persist setting.", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
