// Package session implements the heart of the relay: correlating caller
// identities with in-flight authorization attempts and completed sessions
// across the three independent requests of a delegated OAuth2 flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/oauth"
	"github.com/openkcm/auth-relay/internal/pkce"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

// OAuthClient builds authorization URLs carrying a fresh PKCE secret and
// exchanges authorization codes for tokens.
type OAuthClient interface {
	AuthorizationURL(ctx context.Context, state string) (string, string, error)
	Exchange(ctx context.Context, code, verifier string) (oauth.Token, error)
}

type Manager struct {
	oauth OAuthClient
	store Repository
	pkce  pkce.Source
	audit *otlpaudit.AuditLogger

	pendingTTL time.Duration
	sessionTTL time.Duration
}

func NewManager(
	cfg *config.Relay,
	oauthClient OAuthClient,
	store Repository,
	auditLogger *otlpaudit.AuditLogger,
) *Manager {
	return &Manager{
		oauth:      oauthClient,
		store:      store,
		audit:      auditLogger,
		pendingTTL: cfg.PendingTTL,
		sessionTTL: cfg.SessionTTL,
	}
}

// BeginAuthorization starts a fresh authorization flow for the identity and
// returns the URL the end user must visit. A flow already in flight for the
// same identity is replaced, its state can never complete afterwards.
func (m *Manager) BeginAuthorization(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", serviceerr.ErrMissingIdentity
	}

	state := m.pkce.State()

	authURL, verifier, err := m.oauth.AuthorizationURL(ctx, state)
	if err != nil {
		return "", fmt.Errorf("building authorization url: %w", err)
	}

	pending := PendingAuthorization{
		State:     state,
		Identity:  identity,
		Verifier:  verifier,
		CreatedAt: time.Now(),
	}

	if err := m.store.StorePending(ctx, pending); err != nil {
		return "", fmt.Errorf("storing pending authorization: %w", err)
	}

	slogctx.Info(ctx, "Started an authorization flow", "identity", identity)

	return authURL, nil
}

// CompleteAuthorization resolves a provider callback to the pending
// authorization it belongs to and finishes the flow. Whatever the outcome,
// the matching pending entry is gone afterwards, a state never completes
// twice.
func (m *Manager) CompleteAuthorization(ctx context.Context, callback Callback) error {
	if callback.ErrorCode != "" {
		// providers can report an error after issuing a valid state, the
		// matching pending entry must not outlive the failed attempt
		if _, err := m.store.TakePending(ctx, callback.State); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			return fmt.Errorf("discarding pending authorization: %w", err)
		}

		slogctx.Warn(ctx, "Provider reported an authorization error", "provider_error", callback.ErrorCode)

		return serviceerr.FromProviderError(callback.ErrorCode, callback.ErrorDescription)
	}

	if callback.Code == "" || callback.State == "" {
		return serviceerr.ErrMissingCodeOrState
	}

	pending, err := m.store.TakePending(ctx, callback.State)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return serviceerr.ErrStateNotFound
		}

		return fmt.Errorf("taking pending authorization: %w", err)
	}

	ctx = slogctx.With(ctx, "identity", pending.Identity)

	// audit log metadata
	correlationID := uuid.NewString()
	metadata, err := otlpaudit.NewEventMetadata("auth relay", pending.Identity, correlationID)
	if err != nil {
		return fmt.Errorf("creating audit metadata: %w", err)
	}

	token, err := m.oauth.Exchange(ctx, callback.Code, pending.Verifier)
	if err != nil {
		m.sendLoginFailureAudit(ctx, metadata, pending.Identity, "failed to exchange code for token")
		slogctx.Error(ctx, "Token exchange failed", "error", err)

		return serviceerr.ErrExchangeFailed
	}

	slogctx.Info(ctx, "Exchanged the auth code for a token")

	sess := Session{
		Identity:  pending.Identity,
		Token:     token,
		CreatedAt: time.Now(),
	}

	if err := m.store.StoreSession(ctx, sess); err != nil {
		m.sendLoginFailureAudit(ctx, metadata, pending.Identity, "failed to store session")

		return fmt.Errorf("storing session: %w", err)
	}

	// audit userLoginSuccess
	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, pending.Identity, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, pending.Identity)
	if err != nil {
		return fmt.Errorf("creating audit log: %w", err)
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
	}

	slogctx.Debug(ctx, "sent audit log for user login success")

	return nil
}

// GetSession returns the stored token for the identity. With consume set
// the session is removed in the same step, so a given token instance is
// delivered at most once. Absence is reported as serviceerr.ErrNotFound.
func (m *Manager) GetSession(ctx context.Context, identity string, consume bool) (oauth.Token, error) {
	if identity == "" {
		return oauth.Token{}, serviceerr.ErrMissingIdentity
	}

	var (
		sess Session
		err  error
	)

	if consume {
		sess, err = m.store.TakeSession(ctx, identity)
	} else {
		sess, err = m.store.LoadSession(ctx, identity)
	}

	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return oauth.Token{}, err
		}

		return oauth.Token{}, fmt.Errorf("loading session: %w", err)
	}

	if consume {
		slogctx.Info(ctx, "Delivered a session token", "identity", identity)
	}

	return sess.Token, nil
}

// DeleteSession removes any stored session for the identity. Deleting an
// identity that has no session is a no-op.
func (m *Manager) DeleteSession(ctx context.Context, identity string) error {
	if identity == "" {
		return serviceerr.ErrMissingIdentity
	}

	if err := m.store.DeleteSession(ctx, identity); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// Overview lists the currently stored entries for the diagnostic endpoint.
func (m *Manager) Overview(ctx context.Context) (Overview, error) {
	return m.store.Overview(ctx)
}

// sendLoginFailureAudit creates the user-login-failure audit event and sends it.
// The function logs any errors encountered while creating or sending the event but
// does not propagate them to the caller.
func (m *Manager) sendLoginFailureAudit(ctx context.Context, metadata otlpaudit.EventMetadata, objectID, reason string) {
	if m.audit == nil {
		slogctx.Warn(ctx, "audit logger is nil; skipping user login failure event")
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), objectID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
	}
	slogctx.Debug(ctx, "sent audit log for user login failure")
}
