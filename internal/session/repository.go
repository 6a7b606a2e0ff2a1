package session

import (
	"context"
	"time"
)

// Repository owns the pending authorization table and the session table.
// Implementations must make every operation atomic under concurrent access.
// Loads and takes of absent entries return serviceerr.ErrNotFound, a Take
// removes the entry it returns in the same step.
type Repository interface {
	// Pending authorization operations. Storing replaces any existing
	// entry for the same identity so only one state per identity can
	// ever complete.
	StorePending(ctx context.Context, pending PendingAuthorization) error
	TakePending(ctx context.Context, state string) (PendingAuthorization, error)
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Session operations. Storing overwrites an unclaimed session for
	// the same identity.
	StoreSession(ctx context.Context, sess Session) error
	LoadSession(ctx context.Context, identity string) (Session, error)
	TakeSession(ctx context.Context, identity string) (Session, error)
	DeleteSession(ctx context.Context, identity string) error
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Overview lists stored entries for the diagnostic endpoint.
	Overview(ctx context.Context) (Overview, error)
}
