package bridge

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// DefaultStatusInterval is the period of status_update broadcasts.
const DefaultStatusInterval = 60 * time.Second

// StatusBroadcaster periodically pushes connection statistics to all clients.
type StatusBroadcaster struct {
	registry *Registry
	engine   *Engine
	interval time.Duration
	started  time.Time
	now      func() time.Time
	logger   *slog.Logger
}

// NewStatusBroadcaster creates a broadcaster. started is the server start
// time used for uptime.
func NewStatusBroadcaster(registry *Registry, engine *Engine, interval time.Duration, started time.Time, now func() time.Time, logger *slog.Logger) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		registry: registry,
		engine:   engine,
		interval: interval,
		started:  started,
		now:      now,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (b *StatusBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tickSafely(ctx)
		}
	}
}

func (b *StatusBroadcaster) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status update panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	b.Tick(ctx)
}

// Tick broadcasts one status_update if any client is connected and returns
// the number of recipients.
func (b *StatusBroadcaster) Tick(ctx context.Context) int {
	count := b.registry.Count()
	if count == 0 {
		return 0
	}
	now := b.now()
	return b.engine.Broadcast(ctx, StatusUpdateFrame{
		Type:             FrameStatusUpdate,
		ConnectedClients: count,
		ServerUptime:     now.Sub(b.started).Seconds(),
		Timestamp:        UnixSeconds(now),
	}, FilterAll)
}
