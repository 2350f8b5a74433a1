package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/voicebridge/voicebridge/internal/bridge"
	"github.com/voicebridge/voicebridge/internal/serve"
)

type sendOptions struct {
	server       string
	token        string
	confidence   float64
	action       string
	content      string
	params       []string
	hadToolCalls bool
}

func newSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Submit a voice result to a running server",
		Long: `Submit a transcription to a running bridge server.

Without --action the text goes to every connected client. With --action the
result carries an agent response and is delivered only to command and both
clients.

Text is taken from the arguments, or from stdin when no arguments are given.

Examples:
  voicebridge send "hello world"
  voicebridge send --confidence 0.93 "hello world"
  voicebridge send --action execute --content "open -a Safari" "open safari"
  voicebridge send --action type --param delay=20 "dear team"
  echo "from a pipe" | voicebridge send`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "Server base URL (default http://127.0.0.1:<port>)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Intake bearer token (default from config)")
	cmd.Flags().Float64Var(&opts.confidence, "confidence", 0, "Recognition confidence in [0,1]")
	cmd.Flags().StringVar(&opts.action, "action", "", "Agent action; sends an agent result")
	cmd.Flags().StringVar(&opts.content, "content", "", "Agent action content")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "Agent parameter key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.hadToolCalls, "tool-calls", false, "Mark the agent response as having used tools")

	return cmd
}

func runSend(cmd *cobra.Command, args []string, opts sendOptions) error {
	text, err := readSendText(args, os.Stdin)
	if err != nil {
		return err
	}

	server := opts.server
	token := opts.token
	if cfg != nil {
		if server == "" {
			server = defaultServerURL(cfg)
		}
		if token == "" {
			token = cfg.IntakeToken
		}
	}
	if server == "" {
		return fmt.Errorf("--server is required")
	}
	client := newAPIClient(server, token)

	var path string
	var body any
	if opts.action != "" {
		params, err := parseParams(opts.params)
		if err != nil {
			return err
		}
		path = "/api/v1/voice/agent"
		body = serve.AgentSubmission{
			Text: &text,
			AgentResponse: &bridge.AgentResponse{
				Action:       opts.action,
				Content:      opts.content,
				Params:       params,
				HadToolCalls: opts.hadToolCalls,
			},
		}
	} else {
		sub := serve.TextSubmission{Text: &text}
		if cmd.Flags().Changed("confidence") {
			c := opts.confidence
			sub.Confidence = &c
		}
		path = "/api/v1/voice/text"
		body = sub
	}

	var resp serve.SubmitResponse
	if err := client.do(context.Background(), http.MethodPost, path, body, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s delivered to %d client(s)\n", successStyle.Render("✓"), resp.Recipients)
	return nil
}

// readSendText joins args, or reads stdin when there are none and it is piped.
func readSendText(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if !stdinHasData(stdin) {
		return "", fmt.Errorf("no text given: pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	if text == "" {
		return "", fmt.Errorf("no text on stdin")
	}
	return text, nil
}

// stdinHasData checks if stdin has data available (is a pipe or file, not a TTY).
func stdinHasData(f *os.File) bool {
	if f == nil {
		return false
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode()&os.ModeCharDevice) == 0 || stat.Mode().IsRegular()
}

// parseParams turns key=value pairs into agent params. Values that parse as
// JSON keep their type, anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}
