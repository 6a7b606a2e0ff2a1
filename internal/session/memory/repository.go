// Package sessionmemory stores all relay state in process memory. It is
// the only storage backend, a restart forgets every in-flight flow and
// unclaimed token.
package sessionmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

// Repository keeps both tables behind a single mutex so that every
// operation, including the read-then-delete takes, is atomic.
type Repository struct {
	mu sync.RWMutex

	pending           map[string]session.PendingAuthorization
	pendingByIdentity map[string]string
	sessions          map[string]session.Session
}

var _ = session.Repository(&Repository{})

func NewRepository() *Repository {
	return &Repository{
		pending:           make(map[string]session.PendingAuthorization),
		pendingByIdentity: make(map[string]string),
		sessions:          make(map[string]session.Session),
	}
}

func (r *Repository) StorePending(_ context.Context, pending session.PendingAuthorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a re-initiated identity invalidates its previous state
	if prev, ok := r.pendingByIdentity[pending.Identity]; ok {
		delete(r.pending, prev)
	}

	r.pending[pending.State] = pending
	r.pendingByIdentity[pending.Identity] = pending.State

	return nil
}

func (r *Repository) TakePending(_ context.Context, state string) (session.PendingAuthorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.pending[state]
	if !ok {
		return session.PendingAuthorization{}, serviceerr.ErrNotFound
	}

	delete(r.pending, state)

	if r.pendingByIdentity[pending.Identity] == state {
		delete(r.pendingByIdentity, pending.Identity)
	}

	return pending, nil
}

func (r *Repository) DeletePendingBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for state, pending := range r.pending {
		if !pending.CreatedAt.Before(cutoff) {
			continue
		}

		delete(r.pending, state)

		if r.pendingByIdentity[pending.Identity] == state {
			delete(r.pendingByIdentity, pending.Identity)
		}

		removed++
	}

	return removed, nil
}

func (r *Repository) StoreSession(_ context.Context, sess session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.Identity] = sess

	return nil
}

func (r *Repository) LoadSession(_ context.Context, identity string) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[identity]
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return sess, nil
}

func (r *Repository) TakeSession(_ context.Context, identity string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[identity]
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}

	delete(r.sessions, identity)

	return sess, nil
}

func (r *Repository) DeleteSession(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[identity]; !ok {
		return serviceerr.ErrNotFound
	}

	delete(r.sessions, identity)

	return nil
}

func (r *Repository) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for identity, sess := range r.sessions {
		if !sess.CreatedAt.Before(cutoff) {
			continue
		}

		delete(r.sessions, identity)

		removed++
	}

	return removed, nil
}

func (r *Repository) Overview(_ context.Context) (session.Overview, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overview := session.Overview{
		Pending:  make([]session.PendingOverview, 0, len(r.pending)),
		Sessions: make([]session.SessionOverview, 0, len(r.sessions)),
	}

	for _, pending := range r.pending {
		overview.Pending = append(overview.Pending, session.PendingOverview{
			State:     pending.State,
			Identity:  pending.Identity,
			CreatedAt: pending.CreatedAt,
		})
	}

	for _, sess := range r.sessions {
		overview.Sessions = append(overview.Sessions, session.SessionOverview{
			Identity:  sess.Identity,
			CreatedAt: sess.CreatedAt,
		})
	}

	sort.Slice(overview.Pending, func(i, j int) bool {
		return overview.Pending[i].Identity < overview.Pending[j].Identity
	})
	sort.Slice(overview.Sessions, func(i, j int) bool {
		return overview.Sessions[i].Identity < overview.Sessions[j].Identity
	})

	return overview, nil
}
