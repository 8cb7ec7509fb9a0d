package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the trigger command.
const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitRunInProgress     = 2
	ExitServerUnavailable = 3
)

var (
	triggerServerURL string
	triggerAPIKey    string
	triggerTimeout   int
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger an autonomous run on a running server",
	Long: `Ask a running Beacon server to start an autonomous run immediately,
outside the regular schedule. The run executes asynchronously; follow it
via the run-event stream or GET /v1/runs.

Exit codes:
  0  run accepted
  1  request failure
  2  a run is already in progress
  3  server unavailable`,
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerServerURL, "server-url", "http://localhost:8080", "Beacon HTTP API URL")
	triggerCmd.Flags().StringVar(&triggerAPIKey, "api-key", "", "API key (or BEACON_API_KEY env)")
	triggerCmd.Flags().IntVar(&triggerTimeout, "timeout", 30, "timeout in seconds")
}

func runTrigger(_ *cobra.Command, _ []string) error {
	apiKey := goutils.Env("BEACON_API_KEY", triggerAPIKey)
	serverURL := goutils.Env("BEACON_SERVER_URL", triggerServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(triggerTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/schedule/trigger", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitServerUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		var result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Printf("%s: %s\n", result.Status, result.Message)
		os.Exit(ExitSuccess)

	case http.StatusConflict:
		fmt.Fprintln(os.Stderr, "Error: a run is already in progress")
		os.Exit(ExitRunInProgress)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitFailure)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitFailure)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitServerUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}
