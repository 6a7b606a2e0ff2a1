package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/oauth"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

type statusResponse struct {
	Status string `json:"status"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// sessionResponse is the poll answer. The token is only present once the
// flow has completed, a pending flow answers with the bare status.
type sessionResponse struct {
	Status string       `json:"status"`
	Token  *oauth.Token `json:"token,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type overviewResponse struct {
	Pending  []pendingEntry `json:"pending"`
	Sessions []sessionEntry `json:"sessions"`
}

type pendingEntry struct {
	State     string    `json:"state"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionEntry struct {
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

// apiServer serves the relay API. The caller facing query parameter for the
// identity is named state for wire compatibility, it is unrelated to the
// provider state on the callback.
type apiServer struct {
	manager *session.Manager
	apiKey  string

	debugEndpoint bool
}

func newAPIServer(cfg *config.Config, manager *session.Manager) (*apiServer, error) {
	apiKey, err := config.MakeAPIKey(cfg.Relay)
	if err != nil {
		return nil, fmt.Errorf("loading relay api key: %w", err)
	}

	return &apiServer{
		manager:       manager,
		apiKey:        apiKey,
		debugEndpoint: cfg.Relay.DebugEndpoint,
	}, nil
}

// handler builds the route table with every operation wrapped in the given
// middleware.
func (s *apiServer) handler(wrap func(operationID string, next http.HandlerFunc) http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", wrap("status", s.status))
	mux.HandleFunc("GET /generate_url", wrap("generateURL", s.generateURL))
	mux.HandleFunc("GET /callback", wrap("callback", s.callback))
	mux.HandleFunc("GET /get_session", wrap("getSession", s.getSession))
	mux.HandleFunc("GET /delete_session", wrap("deleteSession", s.deleteSession))

	if s.debugEndpoint {
		mux.HandleFunc("GET /debug/sessions", wrap("debugSessions", s.debugSessions))
	}

	return mux
}

// authorized checks the shared secret with a constant time comparison. It
// runs before anything touches the stored tables.
func (s *apiServer) authorized(r *http.Request) bool {
	apiKey := r.URL.Query().Get("api_key")

	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) == 1
}

func (s *apiServer) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "running"})
}

func (s *apiServer) generateURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "generateURL() called")
	defer slogctx.Debug(ctx, "generateURL() completed")

	if !s.authorized(r) {
		s.writeError(ctx, w, serviceerr.ErrUnauthorized)
		return
	}

	identity := r.URL.Query().Get("state")

	authURL, err := s.manager.BeginAuthorization(ctx, identity)
	if err != nil {
		slogctx.Error(ctx, "Failed to begin an authorization flow", "error", err)

		s.writeError(ctx, w, err)

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, urlResponse{URL: authURL})
}

func (s *apiServer) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	slogctx.Debug(ctx, "callback() called", "state", q.Get("state"))
	defer slogctx.Debug(ctx, "callback() completed")

	callback := session.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		ErrorCode:        q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	if err := s.manager.CompleteAuthorization(ctx, callback); err != nil {
		slogctx.Error(ctx, "Failed to complete the authorization flow", "error", err)

		s.writeError(ctx, w, err)

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, messageResponse{
		Message: "Login successful! You can close this window and return to the bot.",
	})
}

func (s *apiServer) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "getSession() called")
	defer slogctx.Debug(ctx, "getSession() completed")

	if !s.authorized(r) {
		s.writeError(ctx, w, serviceerr.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	identity := q.Get("state")
	consume := !q.Has("peek")

	token, err := s.manager.GetSession(ctx, identity, consume)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			// the flow has not completed yet, the caller polls again later
			s.writeJSON(ctx, w, http.StatusOK, sessionResponse{Status: "pending"})
			return
		}

		slogctx.Error(ctx, "Failed to load the session", "error", err)

		s.writeError(ctx, w, err)

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, sessionResponse{Status: "ready", Token: &token})
}

func (s *apiServer) deleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "deleteSession() called")
	defer slogctx.Debug(ctx, "deleteSession() completed")

	if !s.authorized(r) {
		s.writeError(ctx, w, serviceerr.ErrUnauthorized)
		return
	}

	if err := s.manager.DeleteSession(ctx, r.URL.Query().Get("state")); err != nil {
		slogctx.Error(ctx, "Failed to delete the session", "error", err)

		s.writeError(ctx, w, err)

		return
	}

	s.writeJSON(ctx, w, http.StatusOK, statusResponse{Status: "deleted"})
}

// debugSessions lists the stored entries without their secret material.
// The route is only registered when the debug endpoint is enabled.
func (s *apiServer) debugSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "debugSessions() called")
	defer slogctx.Debug(ctx, "debugSessions() completed")

	if !s.authorized(r) {
		s.writeError(ctx, w, serviceerr.ErrUnauthorized)
		return
	}

	overview, err := s.manager.Overview(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to list the stored entries", "error", err)

		s.writeError(ctx, w, err)

		return
	}

	resp := overviewResponse{
		Pending:  make([]pendingEntry, 0, len(overview.Pending)),
		Sessions: make([]sessionEntry, 0, len(overview.Sessions)),
	}

	for _, pending := range overview.Pending {
		resp.Pending = append(resp.Pending, pendingEntry{
			State:     pending.State,
			Identity:  pending.Identity,
			CreatedAt: pending.CreatedAt,
		})
	}

	for _, sess := range overview.Sessions {
		resp.Sessions = append(resp.Sessions, sessionEntry{
			Identity:  sess.Identity,
			CreatedAt: sess.CreatedAt,
		})
	}

	s.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *apiServer) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(ctx, "Failed to encode the response body", "error", err)
	}
}

func (s *apiServer) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	body, status := toErrorModel(err)
	s.writeJSON(ctx, w, status, body)
}

func toErrorModel(err error) (errorResponse, int) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	return errorResponse{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	}, serviceErr.HTTPStatus()
}
