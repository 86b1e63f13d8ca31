// Package application contains use-case orchestration: the session registry,
// the connection state machine, the credential store adapter handed to
// transports, and the inbound message router.
package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emontero/chatworker/internal/codec"
	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// appStateSyncKeyType is the one key category whose stored form must be
// reshaped before the transport can consume it.
const appStateSyncKeyType = "app-state-sync-key"

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*AuthStore)(nil)

// AuthStore adapts the SessionStore persistence port into the CredentialStore
// capability consumed by a transport. One AuthStore serves exactly one
// instance. Payloads cross the persistence boundary through the tagged-binary
// codec; an optional read-through cache shadows the store per key and is
// written together with it on every mutation.
type AuthStore struct {
	instanceID string
	store      driven.SessionStore

	// writeMu serializes mutations so writes for a given key are applied in
	// the order the transport emitted them.
	writeMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]any // nil when caching is disabled
}

// NewAuthStore creates an AuthStore for the given instance. cached enables
// the in-process read-through cache.
func NewAuthStore(instanceID string, store driven.SessionStore, cached bool) *AuthStore {
	a := &AuthStore{
		instanceID: instanceID,
		store:      store,
	}
	if cached {
		a.cache = make(map[string]any)
	}
	return a
}

// GetKeys fetches each requested id independently and concurrently. Missing
// records are absent from the result; read failures are logged and likewise
// treated as absent, which forces the transport to re-acquire the key.
func (a *AuthStore) GetKeys(ctx context.Context, keyType string, ids []string) (map[string]any, error) {
	out := make(map[string]any, len(ids))
	var outMu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			value, found := a.lookup(ctx, keyType, id)
			if !found {
				return
			}
			outMu.Lock()
			out[id] = value
			outMu.Unlock()
		}(id)
	}

	wg.Wait()
	return out, nil
}

// lookup resolves one key through the cache, then the store.
func (a *AuthStore) lookup(ctx context.Context, keyType, id string) (any, bool) {
	key := keyType + "-" + id

	if a.cache != nil {
		a.cacheMu.RLock()
		value, ok := a.cache[key]
		a.cacheMu.RUnlock()
		if ok {
			return value, true
		}
	}

	raw, found, err := a.store.Get(ctx, a.instanceID, key)
	if err != nil {
		// Not the same as "no row": the store failed. Treating the value as
		// unknown keeps the session alive; the transport re-acquires the key.
		slog.Error("credential read failed", "instance", a.instanceID, "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	value, err := codec.Decode(raw)
	if err != nil {
		slog.Error("credential decode failed", "instance", a.instanceID, "key", key, "error", err)
		return nil, false
	}

	value = transportShape(keyType, value)

	if a.cache != nil {
		a.cacheMu.Lock()
		a.cache[key] = value
		a.cacheMu.Unlock()
	}

	return value, true
}

// SetKeys applies a batch of upserts and tombstones. Per-key operations run
// independently and may complete out of order across keys, but the call does
// not return until all have completed or failed. Holding writeMu for the
// duration keeps writes for any given key in emission order across calls.
func (a *AuthStore) SetKeys(ctx context.Context, updates map[string]map[string]any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for category, entries := range updates {
		for id, value := range entries {
			key := category + "-" + id
			wg.Add(1)
			go func(category, key string, value any) {
				defer wg.Done()
				if value == nil {
					if err := a.store.Delete(ctx, a.instanceID, key); err != nil {
						slog.Error("credential delete failed", "instance", a.instanceID, "key", key, "error", err)
						record(err)
						return
					}
					a.cacheDelete(key)
					return
				}

				raw, err := codec.Encode(value)
				if err != nil {
					slog.Error("credential encode failed", "instance", a.instanceID, "key", key, "error", err)
					record(err)
					return
				}
				if err := a.store.Put(ctx, a.instanceID, key, raw); err != nil {
					slog.Error("credential write failed", "instance", a.instanceID, "key", key, "error", err)
					record(err)
					return
				}
				// The cache must hold the same shape a store read would yield,
				// so reads served from either source are indistinguishable.
				a.cacheSet(key, transportShape(category, value))
			}(category, key, value)
		}
	}

	wg.Wait()
	return firstErr
}

// LoadCredentials returns the persisted login credential, or (nil, nil) when
// none exists yet and the transport must start a fresh login.
func (a *AuthStore) LoadCredentials(ctx context.Context) (any, error) {
	raw, found, err := a.store.Get(ctx, a.instanceID, model.CredsKeyID)
	if err != nil {
		slog.Error("credentials read failed", "instance", a.instanceID, "error", err)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	value, err := codec.Decode(raw)
	if err != nil {
		slog.Error("credentials decode failed", "instance", a.instanceID, "error", err)
		return nil, nil
	}
	return value, nil
}

// PersistCredentials durably stores the login credential. This is the path
// that allows restart-without-rescanning, so it runs regardless of connection
// state; failures are returned for the caller to log but never abort the session.
func (a *AuthStore) PersistCredentials(ctx context.Context, creds any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	raw, err := codec.Encode(creds)
	if err != nil {
		return err
	}
	return a.store.Put(ctx, a.instanceID, model.CredsKeyID, raw)
}

// Reset deletes every credential record for the instance and drops the cache.
// Called when the remote end has invalidated the login outright.
func (a *AuthStore) Reset(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.cache != nil {
		a.cacheMu.Lock()
		a.cache = make(map[string]any)
		a.cacheMu.Unlock()
	}
	return a.store.DeleteAll(ctx, a.instanceID)
}

// transportShape converts a stored value into the form handed to the
// transport. Only app-state sync keys differ: their binary fields collapse to
// plain base64 strings, the canonical encoding for that one category.
func transportShape(keyType string, value any) any {
	if keyType == appStateSyncKeyType && value != nil {
		return codec.FlattenBinary(value)
	}
	return value
}

func (a *AuthStore) cacheSet(key string, value any) {
	if a.cache == nil {
		return
	}
	a.cacheMu.Lock()
	a.cache[key] = value
	a.cacheMu.Unlock()
}

func (a *AuthStore) cacheDelete(key string) {
	if a.cache == nil {
		return
	}
	a.cacheMu.Lock()
	delete(a.cache, key)
	a.cacheMu.Unlock()
}
