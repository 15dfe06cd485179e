package session

import (
	"context"
	"log/slog"
	"time"
)

// EvictCallback is called for each session removed by the sweeper.
type EvictCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically removes sessions
// idle for longer than ttl. A non-positive ttl disables eviction and the
// function returns without starting anything.
func StartSweeper(ctx context.Context, store Store, ttl, interval time.Duration, onEvict EvictCallback) bool {
	if ttl <= 0 {
		slog.Info("Session sweeper disabled, sessions live for the process lifetime")
		return false
	}
	if interval <= 0 {
		interval = ttl
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, store, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return true
}

// Sweep removes every session idle for longer than ttl and returns how many
// were removed.
func Sweep(ctx context.Context, store Store, ttl time.Duration, onEvict EvictCallback) int {
	idle, err := store.IdleSince(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		slog.Error("Session sweeper failed to list idle sessions", "error", err)
		return 0
	}
	if len(idle) == 0 {
		return 0
	}

	removed := 0
	for _, id := range idle {
		if err := store.Delete(ctx, id); err != nil {
			slog.Warn("Session sweeper failed to delete session", "session_id", id, "error", err)
			continue
		}
		removed++
		if onEvict != nil {
			onEvict(id)
		}
	}

	slog.Info("Session sweeper evicted idle sessions", "count", removed, "remaining", store.Len())
	return removed
}
