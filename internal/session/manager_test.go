package session_test

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/oauth"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
	sessionmock "github.com/openkcm/auth-relay/internal/session/mock"
)

const (
	testClientID    = "my-client-id"
	testRedirectURI = "http://localhost:8000/callback"
	testIdentity    = "user42"
)

func testRelayConfig() *config.Relay {
	return &config.Relay{
		PendingTTL: 10 * time.Minute,
		SessionTTL: time.Hour,
	}
}

func TestManager_BeginAuthorization(t *testing.T) {
	providerServer := StartProviderServer(t, false)
	defer providerServer.Close()

	auditServer := StartAuditServer(t)
	defer auditServer.Close()

	tests := []struct {
		name      string
		store     *sessionmock.Repository
		identity  string
		wantURL   string
		errAssert assert.ErrorAssertionFunc
	}{
		{
			name:      "Success",
			store:     sessionmock.NewInMemRepository(),
			identity:  testIdentity,
			wantURL:   providerServer.URL + "/oauth2/authorize?client_id=my-client-id&code_challenge=someChallenge&code_challenge_method=S256&redirect_uri=" + testRedirectURI + "&response_type=code&scope=someScope&state=someState",
			errAssert: assert.NoError,
		},
		{
			name:      "Error - empty identity",
			store:     sessionmock.NewInMemRepository(),
			identity:  "",
			wantURL:   "",
			errAssert: assert.Error,
		},
		{
			name:      "Error - store failure",
			store:     sessionmock.NewInMemRepository(sessionmock.WithStorePendingError(errors.New("failed to store pending"))),
			identity:  testIdentity,
			wantURL:   "",
			errAssert: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const (
				kResponseType        = "response_type"
				kClientID            = "client_id"
				kState               = "state"
				kCodeChallenge       = "code_challenge"
				kCodeChallengeMethod = "code_challenge_method"
				kRedirectURI         = "redirect_uri"
			)

			auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
			require.NoError(t, err)

			m := session.NewManager(testRelayConfig(), newTestOAuthClient(t, providerServer.URL), tt.store, auditLogger)

			got, err := m.BeginAuthorization(t.Context(), tt.identity)
			if !tt.errAssert(t, err, fmt.Sprintf("Manager.BeginAuthorization() error = %v", err)) || err != nil {
				return
			}

			u, err := url.Parse(got)
			require.NoError(t, err, "parsing location")

			wantURL, err := url.Parse(tt.wantURL)
			require.NoError(t, err, "parsing wanted URL")

			assert.Equal(t, wantURL.Hostname(), u.Hostname(), "Hostname does not match")
			assert.Equal(t, wantURL.Path, u.Path, "Path does not match")

			q := u.Query()
			wantQ := wantURL.Query()

			assert.Len(t, q, len(wantQ), "Query length does not match")

			assert.Equal(t, wantQ.Get(kResponseType), q.Get(kResponseType), "Unexpected response type")
			assert.Equal(t, wantQ.Get(kClientID), q.Get(kClientID), "Unexpected client id")
			assert.Equal(t, wantQ.Get(kCodeChallengeMethod), q.Get(kCodeChallengeMethod), "Unexpected code challenge method")
			assert.Equal(t, wantQ.Get(kRedirectURI), q.Get(kRedirectURI), "Unexpected redirect URI")

			// These values are generated randomly. So check if they aren't empty
			assert.NotEmpty(t, q.Get(kState), "State is zero")
			assert.NotEmpty(t, q.Get(kCodeChallenge), "Code challenge is zero")

			// Validate that the data has been inserted into the repository
			pending, ok := tt.store.TPending(q.Get(kState))
			require.True(t, ok, "Pending authorization has not been inserted")
			assert.Equal(t, tt.identity, pending.Identity, "Unexpected identity")
			assert.NotEmpty(t, pending.Verifier, "Verifier is zero")
			assert.False(t, pending.CreatedAt.IsZero(), "CreatedAt is zero")
		})
	}
}

func TestManager_BeginAuthorization_ReplacesPending(t *testing.T) {
	providerServer := StartProviderServer(t, false)
	defer providerServer.Close()

	auditServer := StartAuditServer(t)
	defer auditServer.Close()

	auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
	require.NoError(t, err)

	store := sessionmock.NewInMemRepository()
	m := session.NewManager(testRelayConfig(), newTestOAuthClient(t, providerServer.URL), store, auditLogger)

	first, err := m.BeginAuthorization(t.Context(), testIdentity)
	require.NoError(t, err)

	second, err := m.BeginAuthorization(t.Context(), testIdentity)
	require.NoError(t, err)

	firstState := stateOf(t, first)
	secondState := stateOf(t, second)
	require.NotEqual(t, firstState, secondState, "States must differ per attempt")

	_, ok := store.TPending(firstState)
	assert.False(t, ok, "Replaced state must not resolve anymore")

	_, ok = store.TPending(secondState)
	assert.True(t, ok, "Latest state must resolve")

	assert.Equal(t, 1, store.TPendingCount(), "Only one pending entry per identity")
}

func stateOf(t *testing.T, rawURL string) string {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	return u.Query().Get("state")
}

func TestManager_CompleteAuthorization(t *testing.T) {
	const (
		stateID  = "test-state-id"
		code     = "auth-code"
		verifier = "test-verifier"
	)

	validPending := session.PendingAuthorization{
		State:     stateID,
		Identity:  testIdentity,
		Verifier:  verifier,
		CreatedAt: time.Now(),
	}

	tests := []struct {
		name         string
		store        *sessionmock.Repository
		callback     session.Callback
		exchangeFail bool
		wantErrIs    error
		wantCode     serviceerr.Code
		wantSession  bool
		wantPending  int
		errAssert    assert.ErrorAssertionFunc
	}{
		{
			name:        "Success",
			store:       sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:    session.Callback{Code: code, State: stateID},
			wantSession: true,
			wantPending: 0,
			errAssert:   assert.NoError,
		},
		{
			name:        "Provider error purges the pending entry",
			store:       sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:    session.Callback{State: stateID, ErrorCode: "access_denied", ErrorDescription: "user denied the request"},
			wantCode:    serviceerr.CodeAccessDenied,
			wantSession: false,
			wantPending: 0,
			errAssert:   assert.Error,
		},
		{
			name:        "Provider error with unknown state",
			store:       sessionmock.NewInMemRepository(),
			callback:    session.Callback{State: "unknown-state", ErrorCode: "server_error"},
			wantCode:    serviceerr.CodeServerError,
			wantSession: false,
			wantPending: 0,
			errAssert:   assert.Error,
		},
		{
			name:        "Missing code",
			store:       sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:    session.Callback{State: stateID},
			wantErrIs:   serviceerr.ErrMissingCodeOrState,
			wantSession: false,
			wantPending: 1,
			errAssert:   assert.Error,
		},
		{
			name:        "Missing state",
			store:       sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:    session.Callback{Code: code},
			wantErrIs:   serviceerr.ErrMissingCodeOrState,
			wantSession: false,
			wantPending: 1,
			errAssert:   assert.Error,
		},
		{
			name:        "Unknown state",
			store:       sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:    session.Callback{Code: code, State: "unknown-state"},
			wantErrIs:   serviceerr.ErrStateNotFound,
			wantSession: false,
			wantPending: 1,
			errAssert:   assert.Error,
		},
		{
			name:         "Exchange failure discards the pending entry",
			store:        sessionmock.NewInMemRepository(sessionmock.WithPending(validPending)),
			callback:     session.Callback{Code: code, State: stateID},
			exchangeFail: true,
			wantErrIs:    serviceerr.ErrExchangeFailed,
			wantSession:  false,
			wantPending:  0,
			errAssert:    assert.Error,
		},
		{
			name: "Store session error",
			store: sessionmock.NewInMemRepository(
				sessionmock.WithPending(validPending),
				sessionmock.WithStoreSessionError(errors.New("failed to store session")),
			),
			callback:    session.Callback{Code: code, State: stateID},
			wantSession: false,
			wantPending: 0,
			errAssert:   assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()

			providerServer := StartProviderServer(t, tt.exchangeFail)
			defer providerServer.Close()

			auditServer := StartAuditServer(t)
			defer auditServer.Close()

			auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
			require.NoError(t, err)

			m := session.NewManager(testRelayConfig(), newTestOAuthClient(t, providerServer.URL), tt.store, auditLogger)

			err = m.CompleteAuthorization(ctx, tt.callback)
			if !tt.errAssert(t, err, fmt.Sprintf("Manager.CompleteAuthorization() error = %v", err)) {
				return
			}

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}

			if tt.wantCode != "" {
				var serviceErr *serviceerr.Error
				require.ErrorAs(t, err, &serviceErr, "Provider errors must map to a service error")
				assert.Equal(t, tt.wantCode, serviceErr.Err, "Unexpected error code")
			}

			assert.Equal(t, tt.wantPending, tt.store.TPendingCount(), "Unexpected pending count")

			if !tt.wantSession {
				assert.Equal(t, 0, tt.store.TSessionCount(), "No session must be created")
				return
			}

			sess, err := tt.store.LoadSession(ctx, testIdentity)
			require.NoError(t, err, "Loading session from repository failed")
			assert.Equal(t, "T1", sess.Token.AccessToken, "Unexpected access token")
			assert.False(t, sess.CreatedAt.IsZero(), "CreatedAt is zero")
		})
	}
}

func TestManager_CompleteAuthorization_Replay(t *testing.T) {
	const stateID = "test-state-id"

	providerServer := StartProviderServer(t, false)
	defer providerServer.Close()

	auditServer := StartAuditServer(t)
	defer auditServer.Close()

	auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
	require.NoError(t, err)

	store := sessionmock.NewInMemRepository(sessionmock.WithPending(session.PendingAuthorization{
		State:     stateID,
		Identity:  testIdentity,
		Verifier:  "test-verifier",
		CreatedAt: time.Now(),
	}))
	m := session.NewManager(testRelayConfig(), newTestOAuthClient(t, providerServer.URL), store, auditLogger)

	callback := session.Callback{Code: "auth-code", State: stateID}

	require.NoError(t, m.CompleteAuthorization(t.Context(), callback))

	err = m.CompleteAuthorization(t.Context(), callback)
	assert.ErrorIs(t, err, serviceerr.ErrStateNotFound, "A consumed state must not complete again")
}

func TestManager_CompleteAuthorization_OverwritesUnclaimedSession(t *testing.T) {
	const stateID = "test-state-id"

	providerServer := StartProviderServer(t, false)
	defer providerServer.Close()

	auditServer := StartAuditServer(t)
	defer auditServer.Close()

	auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
	require.NoError(t, err)

	store := sessionmock.NewInMemRepository(
		sessionmock.WithPending(session.PendingAuthorization{
			State:     stateID,
			Identity:  testIdentity,
			Verifier:  "test-verifier",
			CreatedAt: time.Now(),
		}),
		sessionmock.WithSession(session.Session{
			Identity:  testIdentity,
			Token:     oauth.Token{AccessToken: "stale-token"},
			CreatedAt: time.Now().Add(-time.Hour),
		}),
	)
	m := session.NewManager(testRelayConfig(), newTestOAuthClient(t, providerServer.URL), store, auditLogger)

	require.NoError(t, m.CompleteAuthorization(t.Context(), session.Callback{Code: "auth-code", State: stateID}))

	sess, err := store.LoadSession(t.Context(), testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "T1", sess.Token.AccessToken, "Stale session must be overwritten")
	assert.Equal(t, 1, store.TSessionCount())
}

func TestManager_GetSession(t *testing.T) {
	token := oauth.Token{AccessToken: "T1", TokenType: "bearer"}

	tests := []struct {
		name      string
		store     *sessionmock.Repository
		identity  string
		consume   bool
		wantToken oauth.Token
		wantErrIs error
		errAssert assert.ErrorAssertionFunc
	}{
		{
			name: "Ready session",
			store: sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
				Identity:  testIdentity,
				Token:     token,
				CreatedAt: time.Now(),
			})),
			identity:  testIdentity,
			consume:   true,
			wantToken: token,
			errAssert: assert.NoError,
		},
		{
			name:      "Absent session",
			store:     sessionmock.NewInMemRepository(),
			identity:  testIdentity,
			consume:   true,
			wantErrIs: serviceerr.ErrNotFound,
			errAssert: assert.Error,
		},
		{
			name:      "Error - empty identity",
			store:     sessionmock.NewInMemRepository(),
			identity:  "",
			consume:   true,
			wantErrIs: serviceerr.ErrMissingIdentity,
			errAssert: assert.Error,
		},
		{
			name:      "Error - store failure",
			store:     sessionmock.NewInMemRepository(sessionmock.WithTakeSessionError(errors.New("failed to take session"))),
			identity:  testIdentity,
			consume:   true,
			errAssert: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.NewManager(testRelayConfig(), nil, tt.store, nil)

			got, err := m.GetSession(t.Context(), tt.identity, tt.consume)
			if !tt.errAssert(t, err, fmt.Sprintf("Manager.GetSession() error = %v", err)) {
				return
			}

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}

			if err != nil {
				return
			}

			assert.Equal(t, tt.wantToken, got, "Unexpected token")
		})
	}
}

func TestManager_GetSession_ConsumingRead(t *testing.T) {
	ctx := t.Context()
	token := oauth.Token{AccessToken: "T1"}

	store := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
		Identity:  testIdentity,
		Token:     token,
		CreatedAt: time.Now(),
	}))
	m := session.NewManager(testRelayConfig(), nil, store, nil)

	got, err := m.GetSession(ctx, testIdentity, true)
	require.NoError(t, err)
	assert.Equal(t, token, got)

	_, err = m.GetSession(ctx, testIdentity, true)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "A consumed session must be delivered at most once")
}

func TestManager_GetSession_Peek(t *testing.T) {
	ctx := t.Context()
	token := oauth.Token{AccessToken: "T1"}

	store := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
		Identity:  testIdentity,
		Token:     token,
		CreatedAt: time.Now(),
	}))
	m := session.NewManager(testRelayConfig(), nil, store, nil)

	for i := 0; i < 2; i++ {
		got, err := m.GetSession(ctx, testIdentity, false)
		require.NoError(t, err)
		assert.Equal(t, token, got)
	}

	assert.Equal(t, 1, store.TSessionCount(), "Peeking must keep the session")
}

func TestManager_DeleteSession(t *testing.T) {
	tests := []struct {
		name      string
		store     *sessionmock.Repository
		identity  string
		errAssert assert.ErrorAssertionFunc
	}{
		{
			name: "Deletes a stored session",
			store: sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
				Identity: testIdentity,
				Token:    oauth.Token{AccessToken: "T1"},
			})),
			identity:  testIdentity,
			errAssert: assert.NoError,
		},
		{
			name:      "Absent session is a no-op",
			store:     sessionmock.NewInMemRepository(),
			identity:  testIdentity,
			errAssert: assert.NoError,
		},
		{
			name:      "Error - empty identity",
			store:     sessionmock.NewInMemRepository(),
			identity:  "",
			errAssert: assert.Error,
		},
		{
			name:      "Error - store failure",
			store:     sessionmock.NewInMemRepository(sessionmock.WithDeleteSessionError(errors.New("failed to delete session"))),
			identity:  testIdentity,
			errAssert: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.NewManager(testRelayConfig(), nil, tt.store, nil)

			err := m.DeleteSession(t.Context(), tt.identity)
			if !tt.errAssert(t, err, fmt.Sprintf("Manager.DeleteSession() error = %v", err)) || err != nil {
				return
			}

			assert.Equal(t, 0, tt.store.TSessionCount(), "Session must be gone")
		})
	}
}
