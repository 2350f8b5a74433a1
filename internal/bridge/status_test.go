package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatusTickSkipsEmptyRegistry(t *testing.T) {
	b := newTestBridge()
	if n := b.Status.Tick(context.Background()); n != 0 {
		t.Errorf("Tick with no clients = %d", n)
	}
}

func TestStatusTickBroadcastsToAll(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock := start
	b := New(Options{Now: func() time.Time { return clock }})

	typist := &fakeConn{}
	commander := &fakeConn{}
	b.Registry.Register(typist, ModeType)
	b.Registry.Register(commander, ModeCommand)
	clock = start.Add(90 * time.Second)

	if n := b.Status.Tick(context.Background()); n != 2 {
		t.Fatalf("Tick recipients = %d, want 2", n)
	}
	for _, conn := range []*fakeConn{typist, commander} {
		f := conn.decoded(t)[0]
		if f["type"] != "status_update" {
			t.Errorf("type = %v", f["type"])
		}
		if f["connected_clients"] != float64(2) {
			t.Errorf("connected_clients = %v", f["connected_clients"])
		}
		if f["server_uptime"] != float64(90) {
			t.Errorf("server_uptime = %v", f["server_uptime"])
		}
	}
}

func TestStatusTickDropsFailedClient(t *testing.T) {
	b := newTestBridge()
	bad := &fakeConn{}
	b.Registry.Register(bad, ModeBoth)
	b.Registry.Register(&fakeConn{}, ModeBoth)
	bad.setFail(true)

	if n := b.Status.Tick(context.Background()); n != 1 {
		t.Errorf("Tick recipients = %d, want 1", n)
	}
	if b.Registry.Count() != 1 {
		t.Errorf("Count = %d, want 1", b.Registry.Count())
	}
}

func TestStatusRunStopsOnCancel(t *testing.T) {
	b := New(Options{StatusInterval: 10 * time.Millisecond})
	conn := &fakeConn{}
	b.Registry.Register(conn, ModeBoth)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(conn.decoded(t)) == 0 {
		select {
		case <-deadline:
			t.Fatal("no status_update within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatusRunSurvivesPanickingTick(t *testing.T) {
	registry := NewRegistry(nil)
	conn := &fakeConn{}
	registry.Register(conn, ModeBoth)

	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	engine := NewEngine(registry, logger, 0)

	var calls atomic.Int32
	clock := func() time.Time {
		if calls.Add(1) == 1 {
			panic("clock failure")
		}
		return time.Now()
	}
	status := NewStatusBroadcaster(registry, engine, 10*time.Millisecond, time.Now(), clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go status.Run(ctx)

	deadline := time.After(2 * time.Second)
	for len(conn.decoded(t)) == 0 {
		select {
		case <-deadline:
			t.Fatal("no status_update after a panicking tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !strings.Contains(logs.String(), "status update panicked") {
		t.Errorf("panic not logged:\n%s", logs.String())
	}
	if registry.Count() != 1 {
		t.Errorf("Count = %d, want 1", registry.Count())
	}
}

func TestCloseAll(t *testing.T) {
	b := newTestBridge()
	a, c := &fakeConn{}, &fakeConn{}
	b.Registry.Register(a, ModeBoth)
	b.Registry.Register(c, ModeType)

	if n := b.CloseAll(); n != 2 {
		t.Errorf("CloseAll = %d", n)
	}
	if !a.isClosed() || !c.isClosed() {
		t.Error("connections not closed")
	}
}
