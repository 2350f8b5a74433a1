// Package bridge routes voice-pipeline events to connected clients according
// to each client's delivery mode.
package bridge

import (
	"context"
	"log/slog"
	"time"
)

// Options configures a Bridge.
type Options struct {
	// StatusInterval is the status_update period. Zero uses DefaultStatusInterval.
	StatusInterval time.Duration
	// Fanout bounds concurrent writes per broadcast.
	Fanout int
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Bridge wires the registry, delivery engine, intake and status broadcaster
// of one server instance.
type Bridge struct {
	Registry *Registry
	Engine   *Engine
	Intake   *Intake
	Status   *StatusBroadcaster

	started time.Time
	now     func() time.Time
}

// New builds an isolated bridge.
func New(opts Options) *Bridge {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	started := now()
	registry := NewRegistry(now)
	engine := NewEngine(registry, logger, opts.Fanout)
	return &Bridge{
		Registry: registry,
		Engine:   engine,
		Intake:   NewIntake(engine, logger, now),
		Status:   NewStatusBroadcaster(registry, engine, opts.StatusInterval, started, now, logger),
		started:  started,
		now:      now,
	}
}

// Run drives the status broadcaster until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.Status.Run(ctx)
}

// Now returns the bridge clock's current time.
func (b *Bridge) Now() time.Time {
	return b.now()
}

// Uptime reports time since the bridge was created.
func (b *Bridge) Uptime() time.Duration {
	return b.now().Sub(b.started)
}

// CloseAll closes every registered connection. Handlers observe the closed
// transport and unregister themselves.
func (b *Bridge) CloseAll() int {
	records := b.Registry.records(FilterAll)
	for _, rec := range records {
		_ = rec.Conn.Close()
	}
	return len(records)
}
