package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/control"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream flows live as they are captured",
	Long: `Subscribe to the session's event feed and print each flow as it is
captured or resolved. Interrupt with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, err := eventsURL(controlURL)
		if err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
		if err != nil {
			return fmt.Errorf("connecting to event feed: %w", err)
		}
		defer func() { _ = conn.Close() }()

		// Close the socket on interrupt so the read loop unblocks.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			_ = conn.Close()
		}()

		enc := json.NewEncoder(os.Stdout)
		for {
			var event control.FlowSubmission
			if err := conn.ReadJSON(&event); err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					return nil
				}
				// Interrupt closes the connection underneath us.
				return nil
			}

			if jsonOutput {
				if err := enc.Encode(event); err != nil {
					return err
				}
				continue
			}
			printEvent(event)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// eventsURL turns the control base URL into the websocket event endpoint.
func eventsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid control URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported control URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"
	return u.String(), nil
}

func printEvent(e control.FlowSubmission) {
	when := time.Unix(int64(e.Timestamp), 0).Format(time.TimeOnly)
	status := "-"
	if e.Response != nil {
		status = fmt.Sprintf("%d", e.Response.StatusCode)
	}
	note := ""
	switch {
	case e.Paused:
		note = "  PAUSED"
	case e.MockApplied:
		note = "  mocked by " + e.MockRuleName
	}
	fmt.Printf("%s  %s  %-6s %s  %s%s\n",
		when, shortID(e.FlowID), e.Request.Method, e.Request.URL, status, note)
}
