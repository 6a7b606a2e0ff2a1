package session

import (
	"time"

	"github.com/openkcm/auth-relay/internal/oauth"
)

// PendingAuthorization is an in-flight authorization attempt, keyed by the
// opaque state value round-tripped through the provider.
type PendingAuthorization struct {
	State     string
	Identity  string
	Verifier  string
	CreatedAt time.Time
}

// Session is a completed authorization holding the token obtained for an
// identity. A pending or never-started flow has no Session at all.
type Session struct {
	Identity  string
	Token     oauth.Token
	CreatedAt time.Time
}

// Callback carries the query parameters the provider appends when
// redirecting the end user back to the relay.
type Callback struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// Overview is a point-in-time listing of stored entries for diagnostics.
// Verifiers and tokens are deliberately absent.
type Overview struct {
	Pending  []PendingOverview
	Sessions []SessionOverview
}

type PendingOverview struct {
	State     string
	Identity  string
	CreatedAt time.Time
}

type SessionOverview struct {
	Identity  string
	CreatedAt time.Time
}
