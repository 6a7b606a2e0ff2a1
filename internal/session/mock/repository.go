package sessionmock

import (
	"context"
	"time"

	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

type RepositoryOption func(*Repository)

type Repository struct {
	pending           map[string]session.PendingAuthorization
	pendingByIdentity map[string]string
	sessions          map[string]session.Session

	storePendingErr, takePendingErr, deletePendingBeforeErr error
	storeSessionErr, loadSessionErr, takeSessionErr         error
	deleteSessionErr, deleteSessionsBeforeErr, overviewErr  error
}

func WithPending(pending session.PendingAuthorization) RepositoryOption {
	return func(r *Repository) {
		r.pending[pending.State] = pending
		r.pendingByIdentity[pending.Identity] = pending.State
	}
}
func WithSession(sess session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[sess.Identity] = sess }
}
func WithStorePendingError(err error) RepositoryOption {
	return func(r *Repository) { r.storePendingErr = err }
}
func WithTakePendingError(err error) RepositoryOption {
	return func(r *Repository) { r.takePendingErr = err }
}
func WithDeletePendingBeforeError(err error) RepositoryOption {
	return func(r *Repository) { r.deletePendingBeforeErr = err }
}
func WithStoreSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.storeSessionErr = err }
}
func WithLoadSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.loadSessionErr = err }
}
func WithTakeSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.takeSessionErr = err }
}
func WithDeleteSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteSessionErr = err }
}
func WithDeleteSessionsBeforeError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteSessionsBeforeErr = err }
}
func WithOverviewError(err error) RepositoryOption {
	return func(r *Repository) { r.overviewErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		pending:           make(map[string]session.PendingAuthorization),
		pendingByIdentity: make(map[string]string),
		sessions:          make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) StorePending(_ context.Context, pending session.PendingAuthorization) error {
	if r.storePendingErr != nil {
		return r.storePendingErr
	}
	if prev, ok := r.pendingByIdentity[pending.Identity]; ok {
		delete(r.pending, prev)
	}
	r.pending[pending.State] = pending
	r.pendingByIdentity[pending.Identity] = pending.State
	return nil
}

func (r *Repository) TakePending(_ context.Context, state string) (session.PendingAuthorization, error) {
	if r.takePendingErr != nil {
		return session.PendingAuthorization{}, r.takePendingErr
	}
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
	if r.deletePendingBeforeErr != nil {
		return 0, r.deletePendingBeforeErr
	}
	removed := 0
	for state, pending := range r.pending {
		if pending.CreatedAt.Before(cutoff) {
			delete(r.pending, state)
			delete(r.pendingByIdentity, pending.Identity)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) StoreSession(_ context.Context, sess session.Session) error {
	if r.storeSessionErr != nil {
		return r.storeSessionErr
	}
	r.sessions[sess.Identity] = sess
	return nil
}

func (r *Repository) LoadSession(_ context.Context, identity string) (session.Session, error) {
	if r.loadSessionErr != nil {
		return session.Session{}, r.loadSessionErr
	}
	if sess, ok := r.sessions[identity]; ok {
		return sess, nil
	}
	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) TakeSession(_ context.Context, identity string) (session.Session, error) {
	if r.takeSessionErr != nil {
		return session.Session{}, r.takeSessionErr
	}
	sess, ok := r.sessions[identity]
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}
	delete(r.sessions, identity)
	return sess, nil
}

func (r *Repository) DeleteSession(_ context.Context, identity string) error {
	if r.deleteSessionErr != nil {
		return r.deleteSessionErr
	}
	if _, ok := r.sessions[identity]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.sessions, identity)
	return nil
}

func (r *Repository) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int, error) {
	if r.deleteSessionsBeforeErr != nil {
		return 0, r.deleteSessionsBeforeErr
	}
	removed := 0
	for identity, sess := range r.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(r.sessions, identity)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) Overview(_ context.Context) (session.Overview, error) {
	if r.overviewErr != nil {
		return session.Overview{}, r.overviewErr
	}
	overview := session.Overview{}
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
	return overview, nil
}

// TPending returns the stored pending authorization for a state without
// consuming it.
func (r *Repository) TPending(state string) (session.PendingAuthorization, bool) {
	pending, ok := r.pending[state]
	return pending, ok
}

// TPendingCount returns the number of stored pending authorizations.
func (r *Repository) TPendingCount() int {
	return len(r.pending)
}

// TSessionCount returns the number of stored sessions.
func (r *Repository) TSessionCount() int {
	return len(r.sessions)
}
