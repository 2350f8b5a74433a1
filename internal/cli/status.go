package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/voicebridge/voicebridge/internal/serve"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the clients connected to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" && cfg != nil {
				server = defaultServerURL(cfg)
			}
			if server == "" {
				return fmt.Errorf("--server is required")
			}
			var resp serve.StatusResponse
			client := newAPIClient(server, "")
			if err := client.do(context.Background(), http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			renderStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server base URL (default http://127.0.0.1:<port>)")
	return cmd
}

func renderStatus(w io.Writer, resp serve.StatusResponse) {
	uptime := time.Duration(resp.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintln(w, titleStyle.Render("voicebridge"))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("uptime: "), uptime)
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("clients:"), resp.ClientCount)
	if len(resp.Clients) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no clients connected"))
		return
	}

	idWidth := len("CLIENT")
	for _, c := range resp.Clients {
		if n := runewidth.StringWidth(c.ClientID); n > idWidth {
			idWidth = n
		}
	}
	fmt.Fprintf(w, "  %s  %-7s  %s\n", mutedStyle.Render(runewidth.FillRight("CLIENT", idWidth)), "MODE", "CONNECTED")
	for _, c := range resp.Clients {
		age := time.Duration(c.ConnectedFor * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(w, "  %s  %-7s  %s\n", runewidth.FillRight(c.ClientID, idWidth), c.Mode, age)
	}
}
