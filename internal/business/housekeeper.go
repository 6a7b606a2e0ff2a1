package business

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/session"
)

// startHousekeeper periodically removes expired pending authorizations and
// unclaimed sessions until the context is cancelled.
func startHousekeeper(ctx context.Context, cfg *config.Config, manager *session.Manager) error {
	// Start the housekeeper loop
	c := time.Tick(cfg.Housekeeper.TriggerInterval)
	for {
		if err := manager.RemoveExpired(ctx, time.Now()); err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
