package session

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// RemoveExpired evicts pending authorizations and unclaimed sessions older
// than the configured lifetimes. The reference time is injected so sweeps
// stay deterministic.
func (m *Manager) RemoveExpired(ctx context.Context, now time.Time) error {
	removed, err := m.store.DeletePendingBefore(ctx, now.Add(-m.pendingTTL))
	if err != nil {
		return fmt.Errorf("removing expired pending authorizations: %w", err)
	}

	if removed > 0 {
		slogctx.Info(ctx, "Removed expired pending authorizations", "count", removed)
	}

	removed, err = m.store.DeleteSessionsBefore(ctx, now.Add(-m.sessionTTL))
	if err != nil {
		return fmt.Errorf("removing expired sessions: %w", err)
	}

	if removed > 0 {
		slogctx.Info(ctx, "Removed unclaimed sessions", "count", removed)
	}

	return nil
}
