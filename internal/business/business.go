package business

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/business/server"
	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/oauth"
	"github.com/openkcm/auth-relay/internal/session"
	sessionmemory "github.com/openkcm/auth-relay/internal/session/memory"
)

// Main starts the API server and the housekeeper.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The server and the housekeeper sweep the same stored entries, so both
	// run against one shared manager.
	manager, err := initSessionManager(cfg)
	if err != nil {
		slogctx.Error(ctx, "Failed to initialise the session manager", "error", err)
		return nil
	}

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 1)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	// start public HTTP REST API server
	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, manager)
	})

	// start the expiry housekeeper
	wg.Go(func() {
		errChan <- startHousekeeper(ctx, cfg, manager)
	})

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	// wait for all servers to shutdown
	wg.Wait()

	return nil
}

// initSessionManager wires the provider client, the in-memory store and the
// audit logger into a session manager.
func initSessionManager(cfg *config.Config) (*session.Manager, error) {
	httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}

	oauthClient, err := oauth.NewProviderClient(&cfg.Provider, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating provider client: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	return session.NewManager(&cfg.Relay, oauthClient, sessionmemory.NewRepository(), auditLogger), nil
}
