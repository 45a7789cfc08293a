// ABOUTME: Registry of live client sessions keyed by user
// ABOUTME: A user owns zero-to-many concurrent handles (multi-tab, multi-device)

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateHandle indicates a handle with the same id is already registered.
var ErrDuplicateHandle = errors.New("handle already registered")

// Metadata is connection-scoped information carried by a handle. Role is
// metadata, not identity: it does not gate notification targeting.
type Metadata struct {
	Role        string
	ClientAgent string
}

// Handle represents one live client connection owned by a user. The registry
// is the sole owner; other components may hold a handle only for the
// duration of a dispatch call.
type Handle struct {
	ID          string
	UserID      string
	Meta        Metadata
	ConnectedAt time.Time
}

// Registry maps users to their currently connected session handles. Safe for
// concurrent registration, unregistration, and reads.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Handle // user id -> handle id -> handle
	owners map[string]string             // handle id -> user id
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser: make(map[string]map[string]*Handle),
		owners: make(map[string]string),
		logger: logger.With("component", "sessions"),
	}
}

// Register adds a handle for its user. Returns ErrDuplicateHandle if the
// handle id is already registered.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[h.ID]; exists {
		return ErrDuplicateHandle
	}

	if _, ok := r.byUser[h.UserID]; !ok {
		r.byUser[h.UserID] = make(map[string]*Handle)
	}
	r.byUser[h.UserID][h.ID] = h
	r.owners[h.ID] = h.UserID

	r.logger.Info("session connected",
		"handle_id", h.ID,
		"user_id", h.UserID,
		"role", h.Meta.Role,
		"user_sessions", len(r.byUser[h.UserID]),
	)
	return nil
}

// Unregister removes a handle. Removing an unknown handle is a no-op, not an
// error: disconnect and teardown paths may both call it.
func (r *Registry) Unregister(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[handleID]
	if !ok {
		return
	}
	delete(r.owners, handleID)

	handles := r.byUser[userID]
	delete(handles, handleID)
	if len(handles) == 0 {
		delete(r.byUser, userID)
	}

	r.logger.Info("session disconnected",
		"handle_id", handleID,
		"user_id", userID,
		"user_sessions", len(handles),
	)
}

// SessionsFor returns a snapshot of the user's live handles. Empty slice if
// the user has no sessions online.
func (r *Registry) SessionsFor(userID string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.byUser[userID]
	out := make([]*Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out
}

// UserFor returns the user owning a handle, or false if the handle is
// unknown or stale.
func (r *Registry) UserFor(handleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.owners[handleID]
	return userID, ok
}

// Count returns the number of live handles across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
