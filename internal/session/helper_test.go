package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/oauth"
)

// StartProviderServer serves the provider endpoints the relay talks to
// during a flow: the discovery document and the token endpoint.
func StartProviderServer(t *testing.T, failExchange bool) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(oauth.Configuration{
				Issuer:                server.URL,
				AuthorizationEndpoint: server.URL + "/oauth2/authorize",
				TokenEndpoint:         server.URL + "/oauth2/token",
			})
		case "/oauth2/token":
			w.Header().Set("Content-Type", "application/json")
			if failExchange {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token exchange failed"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(oauth.Token{
				AccessToken:  "T1",
				TokenType:    "bearer",
				RefreshToken: "refresh-token",
				ExpiresIn:    7200,
			})
		}
	}))

	return server
}

func StartAuditServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
}

func newTestOAuthClient(t *testing.T, providerURL string) *oauth.ProviderClient {
	t.Helper()

	client, err := oauth.NewProviderClient(&config.Provider{
		ClientID:              commoncfg.SourceRef{Source: "embedded", Value: testClientID},
		RedirectURI:           testRedirectURI,
		AuthorizationEndpoint: providerURL + "/oauth2/authorize",
		TokenEndpoint:         providerURL + "/oauth2/token",
	}, http.DefaultClient)
	require.NoError(t, err)

	return client
}
