package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownClient is reported when a send targets an id that is not
// registered.
var ErrUnknownClient = errors.New("unknown client")

// defaultFanout bounds concurrent writes within one broadcast.
const defaultFanout = 32

// SendResult is the outcome of delivering one message to one client.
type SendResult struct {
	ClientID string
	Err      error
}

// OK reports whether the message was written.
func (r SendResult) OK() bool {
	return r.Err == nil
}

// Engine writes messages to registered clients and removes clients whose
// connection fails.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
	fanout   int
}

// NewEngine creates a delivery engine over registry. fanout <= 0 uses the
// default concurrency limit.
func NewEngine(registry *Registry, logger *slog.Logger, fanout int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if fanout <= 0 {
		fanout = defaultFanout
	}
	return &Engine{registry: registry, logger: logger, fanout: fanout}
}

// SendToOne encodes msg and writes it to client id. On any failure the
// client is unregistered and its connection closed before returning.
func (e *Engine) SendToOne(ctx context.Context, id string, msg any) SendResult {
	rec, ok := e.registry.Get(id)
	if !ok {
		return SendResult{ClientID: id, Err: ErrUnknownClient}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		err = fmt.Errorf("encoding message: %w", err)
	} else {
		err = send(ctx, rec.Conn, data)
	}
	if err != nil {
		e.drop(rec, err)
		return SendResult{ClientID: id, Err: err}
	}
	return SendResult{ClientID: id}
}

// Broadcast writes msg to every client whose mode accepts filter and returns
// the number of clients that received it. Failed clients are unregistered
// once all writes have finished.
func (e *Engine) Broadcast(ctx context.Context, msg any, filter Mode) int {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("broadcast encode failed", "filter", filter.String(), "error", err)
		return 0
	}

	targets := e.registry.records(filter)
	if len(targets) == 0 {
		return 0
	}

	var (
		mu     sync.Mutex
		sent   int
		failed []failedSend
	)
	var g errgroup.Group
	g.SetLimit(e.fanout)
	for _, rec := range targets {
		g.Go(func() error {
			if err := send(ctx, rec.Conn, data); err != nil {
				mu.Lock()
				failed = append(failed, failedSend{rec: rec, err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failed {
		e.drop(f.rec, f.err)
	}
	return sent
}

// send writes data to conn, turning a panicking transport into an error so
// that one bad connection cannot take down the fan-out goroutines.
func send(ctx context.Context, conn Conn, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(ctx, data)
}

type failedSend struct {
	rec ClientRecord
	err error
}

func (e *Engine) drop(rec ClientRecord, cause error) {
	if e.registry.Unregister(rec.ID) {
		e.logger.Warn("client dropped after send failure",
			"client_id", rec.ID,
			"mode", rec.Mode,
			"error", cause,
			"remaining", e.registry.Count())
	}
	if err := rec.Conn.Close(); err != nil {
		e.logger.Debug("close after send failure", "client_id", rec.ID, "error", err)
	}
}
