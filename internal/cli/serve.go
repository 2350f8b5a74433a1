package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicebridge/voicebridge/internal/bridge"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/serve"
)

type serveOptions struct {
	host           string
	port           int
	path           string
	statusInterval time.Duration
	intakeToken    string
	allowedOrigins []string
	fanout         int
	noWatch        bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		Long: `Start the WebSocket bridge server.

Clients connect to ws://HOST:PORT/PATH?mode=type|command|both and receive
voice results according to their mode. The voice pipeline submits results
over HTTP:

  POST /api/v1/voice/text    {"text": "...", "confidence": 0.9}
  POST /api/v1/voice/agent   {"text": "...", "agent_response": {...}}
  GET  /api/v1/status        registry snapshot
  GET  /health               liveness

Examples:
  voicebridge serve
  voicebridge serve --port 9000 --path /ws
  voicebridge serve --intake-token secret --allowed-origin http://localhost:3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "Address to bind (overrides config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVar(&opts.path, "path", "", "WebSocket path (overrides config)")
	cmd.Flags().DurationVar(&opts.statusInterval, "status-interval", 0, "Status broadcast period (overrides config)")
	cmd.Flags().StringVar(&opts.intakeToken, "intake-token", "", "Bearer token required on intake endpoints")
	cmd.Flags().StringArrayVar(&opts.allowedOrigins, "allowed-origin", nil, "Allowed WebSocket Origin (repeatable)")
	cmd.Flags().IntVar(&opts.fanout, "fanout", 0, "Maximum concurrent writes per broadcast")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not watch the config file for changes")

	return cmd
}

// applyServeFlags overlays explicitly set flags on the loaded config.
func applyServeFlags(cmd *cobra.Command, c *config.Config, opts serveOptions) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Host = opts.host
	}
	if flags.Changed("port") {
		c.Port = opts.port
	}
	if flags.Changed("path") {
		c.Path = opts.path
	}
	if flags.Changed("status-interval") {
		c.StatusInterval = opts.statusInterval
	}
	if flags.Changed("intake-token") {
		c.IntakeToken = opts.intakeToken
	}
	if flags.Changed("allowed-origin") {
		c.AllowedOrigins = opts.allowedOrigins
	}
	return c.Validate()
}

func serverConfig(c *config.Config) serve.Config {
	return serve.Config{
		Host:           c.Host,
		Port:           c.Port,
		Path:           c.Path,
		PingInterval:   c.PingInterval,
		PingTimeout:    c.PingTimeout,
		WriteTimeout:   c.WriteTimeout,
		MaxFrameSize:   c.MaxFrameSize,
		AllowedOrigins: c.AllowedOrigins,
		IntakeToken:    c.IntakeToken,
	}
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := applyServeFlags(cmd, cfg, opts); err != nil {
		return err
	}

	logger := slog.Default()
	b := bridge.New(bridge.Options{
		StatusInterval: cfg.StatusInterval,
		Fanout:         opts.fanout,
		Logger:         logger,
	})
	srv := serve.New(serverConfig(cfg), b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !opts.noWatch {
		go watchConfig(ctx)
	}

	if !jsonOutput {
		fmt.Fprintf(cmd.ErrOrStderr(), "voicebridge listening on ws://%s%s\n", srv.Addr(), cfg.Path)
	}
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func watchConfig(ctx context.Context) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		slog.Debug("config watch disabled", "path", path, "error", err)
		return
	}
	if err := config.Watch(ctx, path, applyReloadedConfig); err != nil {
		slog.Warn("config watch stopped", "path", path, "error", err)
	}
}
