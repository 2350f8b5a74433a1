package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/bridge"
)

// handleBridge upgrades a client connection and runs its session until the
// connection closes or the server shuts down.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		writeErrorResponse(w, http.StatusForbidden, ErrCodeForbidden, "origin not allowed", requestIDFromContext(r.Context()))
		return
	}
	if !s.beginSession() {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "server shutting down", requestIDFromContext(r.Context()))
		return
	}
	defer s.sessions.Done()

	raw := r.URL.Query().Get("mode")
	mode := bridge.NormalizeMode(raw)
	if raw != "" && string(mode) != raw {
		s.logger.Warn("invalid mode requested, defaulting to both", "mode", raw, "remote", r.RemoteAddr)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.runSession(s.baseCtx, ws, mode, r.RemoteAddr)
}

// runSession is the per-connection state machine: register, confirm, read
// control frames, and unregister on every exit path.
func (s *Server) runSession(ctx context.Context, ws *websocket.Conn, mode bridge.Mode, remote string) {
	conn := newWSConn(ws, s.cfg.WriteTimeout)

	// Server shutdown closes the transport, which unblocks the read loop.
	stopOnCancel := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopOnCancel()

	reg := s.bridge.Registry
	var id string
	logger := s.logger.With("remote", remote)

	done := make(chan struct{})
	defer func() {
		close(done)
		if rec := recover(); rec != nil {
			logger.Error("connection task panicked", "panic", rec, "stack", string(debug.Stack()))
		}
		reg.Unregister(id)
		_ = conn.Close()
		logger.Info("client cleanup completed", "clients", reg.Count())
	}()

	// Hold the write lock across registration so that the confirmation is
	// the first frame the client sees, ahead of any broadcast.
	confirmErr := func() error {
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		id = reg.Register(conn, mode)
		return s.confirm(ctx, conn, id, mode)
	}()

	logger = logger.With("client_id", id)
	logger.Info("client registered", "mode", mode, "clients", reg.Count())

	if confirmErr != nil {
		logger.Warn("connection confirmation failed", "error", confirmErr)
		return
	}

	ws.SetReadLimit(s.cfg.MaxFrameSize)
	idle := s.cfg.PingInterval + s.cfg.PingTimeout
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	go s.keepalive(conn, done, logger)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logClose(logger, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		s.frameHandler(ctx, id, data, logger)
	}
}

// confirm writes the connected frame; the caller holds conn.writeMu.
func (s *Server) confirm(ctx context.Context, conn *wsConn, id string, mode bridge.Mode) error {
	data, err := json.Marshal(bridge.NewConnectedFrame(id, mode, s.bridge.Now()))
	if err != nil {
		return err
	}
	return conn.writeLocked(ctx, data)
}

// keepalive pings the client every PingInterval; a missing pong lets the
// read deadline expire.
func (s *Server) keepalive(conn *wsConn, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func logClose(logger *slog.Logger, err error) {
	var closeErr *websocket.CloseError
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Info("client connection closed normally")
	case errors.As(err, &closeErr):
		logger.Warn("client connection closed with error", "code", closeErr.Code, "reason", closeErr.Text)
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("client frame exceeded size limit")
	default:
		logger.Info("client connection ended", "error", err)
	}
}

// handleFrame processes one inbound frame. Replies are written before the
// next frame is read.
func (s *Server) handleFrame(ctx context.Context, id string, data []byte, logger *slog.Logger) {
	frame, err := bridge.DecodeInbound(data)
	if err != nil {
		logger.Warn("invalid JSON from client", "error", err, "bytes", len(data))
		return
	}

	engine := s.bridge.Engine
	now := s.bridge.Now()
	switch frame.Type {
	case bridge.FramePing:
		engine.SendToOne(ctx, id, bridge.NewPongFrame(frame.Timestamp, now))

	case bridge.FrameStatusRequest:
		engine.SendToOne(ctx, id, bridge.NewStatusResponseFrame(s.bridge.Registry.Snapshot(), now))

	case bridge.FrameModeChange:
		raw, mode, err := frame.RequestedMode()
		if err != nil {
			logger.Warn("rejected mode change", "mode", raw)
			engine.SendToOne(ctx, id, bridge.NewErrorFrame(fmt.Sprintf("Invalid mode: %s", raw), now))
			return
		}
		if !s.bridge.Registry.SetMode(id, mode) {
			return
		}
		logger.Info("client changed mode", "mode", mode)
		engine.SendToOne(ctx, id, bridge.NewModeChangedFrame(mode, now))

	default:
		logger.Warn("unknown message type from client", "type", string(frame.Type))
	}
}
