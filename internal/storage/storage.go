// Package storage provides the narrow key/value persistence contract the
// engine uses for durable state, with on-device and server-side backends.
package storage

import (
	"context"
	"errors"
)

// Well-known keys for persisted engine state.
const (
	KeyDeviceID        = "device.id"
	KeySalt            = "device.salt"
	KeyFingerprint     = "device.fingerprint"
	KeyReferrerCache   = "install.referrer.cache"
	KeyReferrerFetched = "install.referrer.fetched"
	KeyFirstLaunch     = "install.firstLaunchCompleted"
	KeyMatchAttempted  = "deferred.matchAttempted"
	KeyEventQueue      = "events.queue"
	KeyQuarantined     = "events.quarantined"
	KeyAttribution     = "attribution.result"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence contract. Implementations must make Set durable
// before returning: the queue relies on persist-then-memory-update ordering
// so a crash mid-write cannot leave inconsistent state.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetString is a convenience wrapper returning the value as a string.
// Missing keys return an empty string, not an error.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	value, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// GetBool reads a flag written by SetBool. Missing keys are false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	value, err := GetString(ctx, s, key)
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// SetBool writes a flag as "1" or "0".
func SetBool(ctx context.Context, s Store, key string, v bool) error {
	value := "0"
	if v {
		value = "1"
	}
	return s.Set(ctx, key, []byte(value))
}
