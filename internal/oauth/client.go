// Package oauth implements the client side of the provider's OAuth2
// Authorization Code flow with PKCE: building authorization URLs and
// exchanging authorization codes for tokens.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/pkce"
)

// defaultScopes is requested when no scopes are configured.
var defaultScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// ProviderClient talks to a single configured OAuth2 provider. Endpoints
// come from the static configuration, or from OIDC discovery when an
// issuer URL is configured.
type ProviderClient struct {
	conf   *config.Provider
	creds  config.Credentials
	client *http.Client
	pkce   pkce.Source
	cache  *gocache.Cache
	scopes []string
}

func NewProviderClient(conf *config.Provider, httpClient *http.Client) (*ProviderClient, error) {
	creds, err := config.MakeCredentials(*conf)
	if err != nil {
		return nil, fmt.Errorf("loading provider credentials: %w", err)
	}

	scopes := conf.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &ProviderClient{
		conf:   conf,
		creds:  creds,
		client: httpClient,
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
		scopes: scopes,
	}, nil
}

// AuthorizationURL builds the URL the end user must visit to authorize the
// relay, carrying the given state and a fresh PKCE challenge. It returns
// the URL together with the verifier matching the embedded challenge.
func (c *ProviderClient) AuthorizationURL(ctx context.Context, state string) (string, string, error) {
	authorizationEndpoint, _, err := c.endpoints(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolving provider endpoints: %w", err)
	}

	u, err := url.Parse(authorizationEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("parsing authorisation endpoint url: %w", err)
	}

	pair := c.pkce.PKCE()

	q := u.Query()
	q.Set("scope", strings.Join(c.scopes, " "))
	q.Set("response_type", "code")
	q.Set("client_id", c.creds.ClientID)
	q.Set("state", state)
	q.Set("code_challenge", pair.Challenge)
	q.Set("code_challenge_method", pair.Method)
	q.Set("redirect_uri", c.conf.RedirectURI)
	u.RawQuery = q.Encode()

	return u.String(), pair.Verifier, nil
}

// Exchange trades an authorization code for a token using the verifier
// stored when the matching authorization URL was built.
func (c *ProviderClient) Exchange(ctx context.Context, code, codeVerifier string) (Token, error) {
	_, tokenEndpoint, err := c.endpoints(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("resolving provider endpoints: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", c.conf.RedirectURI)
	data.Set("client_id", c.creds.ClientID)
	if c.creds.ClientSecret != "" {
		data.Set("client_secret", c.creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token exchange failed with status: %d", resp.StatusCode)
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Token{}, fmt.Errorf("decoding response: %w", err)
	}

	return token, nil
}

func (c *ProviderClient) endpoints(ctx context.Context) (string, string, error) {
	if c.conf.IssuerURL == "" {
		return c.conf.AuthorizationEndpoint, c.conf.TokenEndpoint, nil
	}

	conf, err := c.getOpenIDConfig(ctx)
	if err != nil {
		return "", "", err
	}

	return conf.AuthorizationEndpoint, conf.TokenEndpoint, nil
}

func (c *ProviderClient) getOpenIDConfig(ctx context.Context) (*Configuration, error) {
	const wkocPrefix = "wkoc_"

	// first check the cache for a recent WKOC configuration for this issuer
	cacheKey := wkocPrefix + c.conf.IssuerURL
	cached, ok := c.cache.Get(cacheKey)
	if ok {
		//nolint:forcetypeassert
		return cached.(*Configuration), nil
	}

	// otherwise, fetch the configuration and cache it
	uri := strings.TrimSuffix(c.conf.IssuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed with status: %d", resp.StatusCode)
	}

	var conf Configuration
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("decoding discovery response: %w", err)
	}

	c.cache.Set(cacheKey, &conf, 0)

	return &conf, nil
}
