package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/voicebridge/voicebridge/internal/bridge"
)

type listenOptions struct {
	url            string
	mode           string
	pingInterval   time.Duration
	reconnectDelay time.Duration
	noReconnect    bool
	raw            bool
}

const defaultReconnectDelay = 5 * time.Second

func newListenCmd() *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect as a client and print what the bridge delivers",
		Long: `Connect to a bridge server as a desktop client and print every frame
it delivers. Agent actions are displayed, never executed.

The connection is re-established after a drop unless --no-reconnect is set.

Examples:
  voicebridge listen
  voicebridge listen --mode command
  voicebridge listen --url ws://10.0.0.5:8765/bridge --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Bridge URL (default ws://127.0.0.1:<port><path>)")
	cmd.Flags().StringVar(&opts.mode, "mode", "both", "Client mode: type|command|both")
	cmd.Flags().DurationVar(&opts.pingInterval, "ping-interval", 30*time.Second, "Application ping period (0 disables)")
	cmd.Flags().DurationVar(&opts.reconnectDelay, "reconnect-delay", defaultReconnectDelay, "Wait before reconnecting")
	cmd.Flags().BoolVar(&opts.noReconnect, "no-reconnect", false, "Exit when the connection drops")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print frames as received")

	return cmd
}

func runListen(cmd *cobra.Command, opts listenOptions) error {
	base := opts.url
	if base == "" && cfg != nil {
		base = defaultBridgeURL(cfg)
	}
	target, err := listenURL(base, opts.mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	width := terminalWidth(os.Stdout)
	for {
		err := listenOnce(ctx, target, out, width, opts)
		if ctx.Err() != nil {
			return nil
		}
		if opts.noReconnect {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render(
			fmt.Sprintf("disconnected: %v; reconnecting in %s", err, opts.reconnectDelay)))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.reconnectDelay):
		}
	}
}

// listenURL validates mode and attaches it to base as the mode query
// parameter. http and https schemes are mapped to ws and wss.
func listenURL(base, mode string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("--url is required")
	}
	m, err := bridge.ParseMode(mode)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid url %q: scheme must be ws or wss", base)
	}
	q := u.Query()
	q.Set("mode", string(m))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func listenOnce(ctx context.Context, target string, out io.Writer, width int, opts listenOptions) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	var writeMu sync.Mutex
	if opts.pingInterval > 0 {
		go func() {
			ticker := time.NewTicker(opts.pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					writeMu.Lock()
					err := conn.WriteJSON(map[string]any{
						"type":      bridge.FramePing,
						"timestamp": bridge.UnixSeconds(time.Now()),
					})
					writeMu.Unlock()
					if err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if opts.raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		if line, ok := renderFrame(data, width); ok {
			fmt.Fprintln(out, line)
		}
	}
}

func terminalWidth(f *os.File) int {
	if f == nil {
		return 80
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// listenFrame is the union of every server to client frame.
type listenFrame struct {
	Type             bridge.FrameType                `json:"type"`
	ClientID         string                          `json:"client_id"`
	Mode             bridge.Mode                     `json:"mode"`
	NewMode          bridge.Mode                     `json:"new_mode"`
	ServerTime       float64                         `json:"server_time"`
	Text             string                          `json:"text"`
	AgentResponse    *bridge.AgentResponse           `json:"agent_response"`
	Confidence       *float64                        `json:"confidence"`
	Timestamp        json.RawMessage                 `json:"timestamp"`
	ConnectedClients int                             `json:"connected_clients"`
	ServerUptime     float64                         `json:"server_uptime"`
	ClientCount      int                             `json:"client_count"`
	Clients          map[string]bridge.ClientSummary `json:"clients"`
	Message          string                          `json:"message"`
}

// renderFrame formats one frame for the terminal. It reports false for
// frames that are not worth showing.
func renderFrame(data []byte, width int) (string, bool) {
	var f listenFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return errorStyle.Render("unreadable frame: " + err.Error()), true
	}
	stamp := mutedStyle.Render(frameClock(f).Format("15:04:05"))

	switch f.Type {
	case bridge.FrameConnected:
		return fmt.Sprintf("%s %s connected as %s (mode %s)", stamp,
			successStyle.Render("✓"), labelStyle.Render(f.ClientID), f.Mode), true

	case bridge.FrameVoiceResult:
		var b strings.Builder
		head := fmt.Sprintf("%s %s", stamp, titleStyle.Render("voice"))
		if f.Confidence != nil {
			head += mutedStyle.Render(fmt.Sprintf(" (%.0f%%)", *f.Confidence*100))
		}
		b.WriteString(head)
		b.WriteString("\n")
		b.WriteString(wrapIndented(f.Text, width, 2))
		if ar := f.AgentResponse; ar != nil {
			b.WriteString("\n")
			action := fmt.Sprintf("→ %s", ar.Action)
			if ar.Content != "" {
				action += ": " + ar.Content
			}
			b.WriteString(wrapIndented(warnStyle.Render(action), width, 2))
			if len(ar.Params) > 0 {
				b.WriteString("\n")
				b.WriteString(wrapIndented(mutedStyle.Render(formatParams(ar.Params)), width, 4))
			}
		}
		return b.String(), true

	case bridge.FrameStatusUpdate:
		uptime := time.Duration(f.ServerUptime * float64(time.Second)).Round(time.Second)
		return mutedStyle.Render(fmt.Sprintf("%s · %d client(s), up %s",
			frameClock(f).Format("15:04:05"), f.ConnectedClients, uptime)), true

	case bridge.FrameStatusResponse:
		ids := make([]string, 0, len(f.Clients))
		for id := range f.Clients {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var b strings.Builder
		fmt.Fprintf(&b, "%s %d client(s)", stamp, f.ClientCount)
		for _, id := range ids {
			fmt.Fprintf(&b, "\n  %s %s", id, mutedStyle.Render(string(f.Clients[id].Mode)))
		}
		return b.String(), true

	case bridge.FrameModeChanged:
		return fmt.Sprintf("%s mode → %s", stamp, labelStyle.Render(string(f.NewMode))), true

	case bridge.FrameError:
		return fmt.Sprintf("%s %s", stamp, errorStyle.Render("error: "+f.Message)), true

	case bridge.FramePong:
		return "", false

	default:
		return fmt.Sprintf("%s %s", stamp, mutedStyle.Render("unknown frame "+string(f.Type))), true
	}
}

func wrapIndented(s string, width, pad int) string {
	w := width - pad
	if w < 20 {
		w = 20
	}
	return indent.String(wordwrap.String(s, w), uint(pad))
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			continue
		}
		parts = append(parts, k+"="+string(v))
	}
	return strings.Join(parts, " ")
}

// frameClock returns the frame's server timestamp, falling back to now.
func frameClock(f listenFrame) time.Time {
	secs := f.ServerTime
	if secs == 0 && len(f.Timestamp) > 0 {
		if v, err := strconv.ParseFloat(string(f.Timestamp), 64); err == nil {
			secs = v
		}
	}
	if secs <= 0 {
		return time.Now()
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9))
}
