package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"llm_fanout/models"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Send one question to a running server and print the answers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		mode, _ := cmd.Flags().GetString("mode")
		length, _ := cmd.Flags().GetString("length")
		custom, _ := cmd.Flags().GetString("custom-length")

		wsURL, err := sessionURL(server)
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
		}
		defer conn.Close()

		req := models.QuestionRequest{
			Question:       strings.Join(args, " "),
			Mode:           mode,
			ResponseLength: length,
			CustomLength:   models.LengthHint(custom),
			SessionID:      uuid.NewString(),
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("failed to send question: %w", err)
		}
		return printEvents(conn, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("server", "http://localhost:8000", "Base URL of the fan-out server")
	askCmd.Flags().StringP("mode", "m", "batch", "Processing mode: batch, parallel or sequential")
	askCmd.Flags().StringP("length", "l", "medium", "Response length: brief, short, medium, long, detailed or custom")
	askCmd.Flags().String("custom-length", "10", "Line count for the custom length")
}

// sessionURL turns a server base URL into its /ws URL
func sessionURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server URL has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// askEvent is the union of every outbound event shape
type askEvent struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FullResponse string `json:"full_response"`
	Error        string `json:"error"`
}

// printEvents prints progress and final answers until the run ends
func printEvents(conn *websocket.Conn, out io.Writer) error {
	for {
		var ev askEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		switch models.Status(ev.Status) {
		case models.StatusStarting, models.StatusBatchUpdate:
			fmt.Fprintf(out, "# %s\n", ev.Message)
		case models.StatusCompleted:
			fmt.Fprintf(out, "\n== %s ==\n%s\n", ev.Model, ev.FullResponse)
		case models.StatusError:
			if ev.Model == "" {
				return errors.New(ev.Message)
			}
			fmt.Fprintf(out, "\n== %s (error) ==\n%s\n", ev.Model, ev.Error)
		case models.StatusAllCompleted:
			fmt.Fprintf(out, "\n# %s\n", ev.Message)
			return nil
		}
	}
}
