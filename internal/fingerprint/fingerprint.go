// Package fingerprint derives the stable per-installation device fingerprint.
package fingerprint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/linkwise/linkwise/internal/model"
	"github.com/linkwise/linkwise/internal/signal"
	"github.com/linkwise/linkwise/internal/storage"
)

// saltSize is the length in bytes of the persisted random salt.
const saltSize = 16

// Builder computes and persists the device fingerprint.
type Builder struct {
	store    storage.Store
	provider signal.Provider
	logger   *slog.Logger
}

// NewBuilder creates a fingerprint builder.
func NewBuilder(store storage.Store, provider signal.Provider, logger *slog.Logger) *Builder {
	return &Builder{
		store:    store,
		provider: provider,
		logger:   logger.With("component", "fingerprint.builder"),
	}
}

// Build returns the device fingerprint, computing and persisting it on the
// first call. Later calls return the persisted value unchanged even if the
// underlying signals drift (OS upgrade, locale change): the backend
// correlates the hash against a value captured at click time, so stability
// is the contract.
func (b *Builder) Build(ctx context.Context) (*model.Fingerprint, error) {
	existing, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	raw, err := b.provider.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect signals: %w", err)
	}
	signals := signal.Normalize(raw)

	salt, err := b.loadOrCreateSalt(ctx)
	if err != nil {
		return nil, err
	}

	fp := &model.Fingerprint{
		Hash:       hash(signals, salt),
		RawSignals: signals,
		CreatedAt:  time.Now().UTC(),
	}

	// Persist before returning so every caller observes the same identity.
	data, err := json.Marshal(fp)
	if err != nil {
		return nil, fmt.Errorf("marshal fingerprint: %w", err)
	}
	if err := b.store.Set(ctx, storage.KeyFingerprint, data); err != nil {
		return nil, fmt.Errorf("persist fingerprint: %w", err)
	}

	b.logger.Info("fingerprint created", "hash", fp.Hash)
	return fp, nil
}

// load returns the persisted fingerprint, or nil if none exists yet.
func (b *Builder) load(ctx context.Context) (*model.Fingerprint, error) {
	data, err := b.store.Get(ctx, storage.KeyFingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fingerprint: %w", err)
	}

	var fp model.Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("unmarshal fingerprint: %w", err)
	}
	return &fp, nil
}

// loadOrCreateSalt returns the persisted random salt, creating it once.
func (b *Builder) loadOrCreateSalt(ctx context.Context) ([]byte, error) {
	data, err := b.store.Get(ctx, storage.KeySalt)
	if err == nil {
		salt, decodeErr := hex.DecodeString(string(data))
		if decodeErr != nil {
			return nil, fmt.Errorf("decode salt: %w", decodeErr)
		}
		return salt, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load salt: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := b.store.Set(ctx, storage.KeySalt, []byte(hex.EncodeToString(salt))); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	return salt, nil
}

// hash computes the one-way fingerprint hash: blake2b-256 keyed with the
// salt over the signals serialized in signal.HashOrder.
func hash(signals map[string]string, salt []byte) string {
	h, err := blake2b.New256(salt)
	if err != nil {
		// Only reachable with a key longer than 64 bytes; saltSize is fixed.
		panic(fmt.Sprintf("blake2b init: %v", err))
	}

	var sb strings.Builder
	for _, key := range signal.HashOrder {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(signals[key])
		sb.WriteByte('\n')
	}
	h.Write([]byte(sb.String()))

	return hex.EncodeToString(h.Sum(nil))
}
