package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultSettleDelay    = 2 * time.Second
)

// Registry is the process-wide table of live sessions. It owns the
// instanceId-to-handle mapping and enforces at most one live connection per
// instance. Every mutation goes through the registry's mutex; slow work
// (dialing, persistence) happens outside it so unrelated instances never
// serialize on each other's I/O.
type Registry struct {
	instances driven.InstanceStore
	sessions  driven.SessionStore
	dialer    driven.TransportDialer
	router    *Router

	baseCtx context.Context

	// cacheCredentials enables the per-instance read-through credential cache.
	cacheCredentials bool

	reconnectDelay time.Duration
	settleDelay    time.Duration

	mu      sync.Mutex
	handles map[string]*Connection
	// gens counts lifecycle claims per instance. Every Start and Stop bumps
	// the counter; scheduled reconnects carry the generation they were created
	// under and fire only if it is still current, so a stale timer cannot
	// resurrect a stopped session.
	gens map[string]uint64
}

// NewRegistry creates a Registry. baseCtx bounds the lifetime of every
// connection the registry spawns; canceling it tears all sessions down.
func NewRegistry(
	baseCtx context.Context,
	instances driven.InstanceStore,
	sessions driven.SessionStore,
	dialer driven.TransportDialer,
	router *Router,
) *Registry {
	return &Registry{
		instances:        instances,
		sessions:         sessions,
		dialer:           dialer,
		router:           router,
		baseCtx:          baseCtx,
		cacheCredentials: true,
		reconnectDelay:   defaultReconnectDelay,
		settleDelay:      defaultSettleDelay,
		handles:          make(map[string]*Connection),
		gens:             make(map[string]uint64),
	}
}

// Start triggers a session for the instance, replacing any live one. It is
// fire-and-forget: it returns before the connection completes, and any error
// during startup is observable only through the persisted instance status.
// phone selects pairing-code delivery when non-empty; pass "" for QR.
func (r *Registry) Start(instanceID, phone string) {
	go r.start(instanceID, phone)
}

func (r *Registry) start(instanceID, phone string) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("session start panicked", "instance", instanceID, "panic", v)
		}
	}()

	// Claim a generation and evict any live handle before building the new
	// one. Two concurrent starts both claim; only the later claim survives
	// the insert check below, so at most one handle ever lands.
	r.mu.Lock()
	r.gens[instanceID]++
	gen := r.gens[instanceID]
	old := r.handles[instanceID]
	delete(r.handles, instanceID)
	r.mu.Unlock()

	if old != nil {
		slog.Info("replacing live session", "instance", instanceID)
		old.terminate()
	}

	slog.Info("starting session", "instance", instanceID, "pairing", phone != "")
	if err := r.instances.SetStatus(r.baseCtx, instanceID, model.StatusInitializing, nil); err != nil {
		slog.Error("status write failed", "instance", instanceID, "error", err)
	}

	auth := NewAuthStore(instanceID, r.sessions, r.cacheCredentials)

	transport, err := r.dialer.Dial(r.baseCtx, instanceID, auth)
	if err != nil {
		// Construction failure: log and leave the registry untouched. No
		// entry was created, so there is nothing to clean up.
		slog.Error("session construction failed", "instance", instanceID, "error", err)
		return
	}

	connCtx, cancel := context.WithCancel(r.baseCtx)
	conn := &Connection{
		instanceID:  instanceID,
		phone:       phone,
		generation:  gen,
		transport:   transport,
		instances:   r.instances,
		auth:        auth,
		router:      r.router,
		registry:    r,
		settleDelay: r.settleDelay,
		cancel:      cancel,
	}

	r.mu.Lock()
	if r.gens[instanceID] != gen {
		// A newer Start or a Stop claimed the instance while we were dialing.
		r.mu.Unlock()
		cancel()
		_ = transport.Close()
		return
	}
	r.handles[instanceID] = conn
	r.mu.Unlock()

	go conn.run(connCtx)
}

// Stop terminates the instance's session if one is live, evicts it, and
// persists a disconnected status unconditionally, even when no handle existed.
func (r *Registry) Stop(instanceID string) {
	r.mu.Lock()
	r.gens[instanceID]++
	old := r.handles[instanceID]
	delete(r.handles, instanceID)
	r.mu.Unlock()

	if old != nil {
		old.terminate()
	}

	slog.Info("session stopped", "instance", instanceID)
	// Detached context: Stop also runs during process shutdown, after baseCtx
	// is canceled, and the disconnected status must still land.
	if err := r.instances.SetStatus(context.Background(), instanceID, model.StatusDisconnected, nil); err != nil {
		slog.Error("status write failed", "instance", instanceID, "error", err)
	}
}

// StopAll stops every live session. Used on process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Stop(id)
	}
}

// IsActive reports whether the instance currently holds a live handle.
func (r *Registry) IsActive(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[instanceID]
	return ok
}

// ActiveCount returns the number of live handles.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// evictIf removes the handle for instanceID only if it still belongs to the
// given generation, so a closing connection never evicts its successor.
func (r *Registry) evictIf(instanceID string, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[instanceID]; ok && h.generation == generation {
		delete(r.handles, instanceID)
	}
}

// scheduleReconnect re-enters the start path for the same instance and
// phone-number mode after a short delay. The attempt is dropped if any Start
// or Stop claimed the instance in the meantime.
func (r *Registry) scheduleReconnect(instanceID, phone string, generation uint64) {
	time.AfterFunc(r.reconnectDelay, func() {
		r.mu.Lock()
		current := r.gens[instanceID]
		r.mu.Unlock()
		if current != generation {
			slog.Info("reconnect superseded", "instance", instanceID)
			return
		}
		if r.baseCtx.Err() != nil {
			return
		}
		r.start(instanceID, phone)
	})
}
