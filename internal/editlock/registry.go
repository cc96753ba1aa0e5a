package editlock

import (
	"context"
	"fmt"
	"sync"
)

// Registry owns the live managers, one per (document, user) session, so HTTP
// handlers can address the session that a browser client drives.
type Registry struct {
	store    LockStore
	realtime Realtime
	profiles ProfileLookup
	cfg      Config

	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry(store LockStore, realtime Realtime, profiles ProfileLookup, cfg Config) *Registry {
	return &Registry{
		store:    store,
		realtime: realtime,
		profiles: profiles,
		cfg:      cfg,
		managers: make(map[string]*Manager),
	}
}

func sessionKey(docID, userID uint64) string {
	return fmt.Sprintf("%d:%d", docID, userID)
}

// Acquire starts (or reuses) the session's manager and attempts acquisition.
func (r *Registry) Acquire(ctx context.Context, docID, userID uint64) (Status, error) {
	r.mu.Lock()
	key := sessionKey(docID, userID)
	mgr, ok := r.managers[key]
	if !ok {
		mgr = NewManager(r.store, r.realtime, r.profiles, docID, userID, r.cfg)
		r.managers[key] = mgr
	}
	r.mu.Unlock()

	if !ok {
		if err := mgr.Start(ctx); err != nil {
			r.mu.Lock()
			delete(r.managers, key)
			r.mu.Unlock()
			return Status{}, err
		}
		return mgr.Status(), nil
	}

	return mgr.Acquire(ctx), nil
}

// Status reports the session's local view; ok is false when no session exists.
func (r *Registry) Status(docID, userID uint64) (Status, bool) {
	r.mu.Lock()
	mgr, ok := r.managers[sessionKey(docID, userID)]
	r.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return mgr.Status(), true
}

// Editable reports whether the session may initiate mutations.
func (r *Registry) Editable(docID, userID uint64) bool {
	r.mu.Lock()
	mgr, ok := r.managers[sessionKey(docID, userID)]
	r.mu.Unlock()

	return ok && mgr.Editable()
}

// Release performs a manual release and tears the session down.
func (r *Registry) Release(ctx context.Context, docID, userID uint64) error {
	r.mu.Lock()
	key := sessionKey(docID, userID)
	mgr, ok := r.managers[key]
	delete(r.managers, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	err := mgr.Release(ctx)
	mgr.Close(ctx)
	return err
}

// ForceRelease deletes the document's lock unconditionally; local sessions
// observe the DELETE through realtime and race for re-acquisition as usual.
func (r *Registry) ForceRelease(ctx context.Context, docID uint64) error {
	return r.store.ForceDelete(ctx, docID)
}

// CloseAll tears down every session, best effort, for shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, mgr := range r.managers {
		managers = append(managers, mgr)
	}
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, mgr := range managers {
		mgr.Close(ctx)
	}
}
