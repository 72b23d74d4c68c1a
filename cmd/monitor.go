package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kawaz/voice-agent/internal/monitor"
)

func monitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Attach a live terminal dashboard to a running voice-agent listen process",
		RunE:  runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if settings.Emitter.WebsocketAddr == "" {
		return fmt.Errorf("monitor requires emitter.websocket_addr to be configured on the listen process")
	}

	addr := wsURL(settings.HTTP.Addr)
	return monitor.Run(cmd.Context(), addr)
}

// wsURL turns the HTTP listen address (e.g. ":8089" or "0.0.0.0:8089") into
// a dialable ws:// URL for the /events route.
func wsURL(httpAddr string) string {
	host := httpAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/events"}
	return u.String()
}
