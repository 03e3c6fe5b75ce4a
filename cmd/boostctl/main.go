// boostctl is a command-line client for the TestBoost orchestration API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:           "boostctl",
		Short:         "Control TestBoost maintenance workflow sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("BOOSTCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "orchestration server base URL")

	root.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newShowCmd(),
		newAdvanceCmd(),
		newConfirmCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newStepsCmd(),
		newEventsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCreateCmd() *cobra.Command {
	var workflow, mode string
	cmd := &cobra.Command{
		Use:   "create <project-path>",
		Short: "Start a new session for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/sessions", map[string]any{
				"project_path": args[0],
				"workflow":     workflow,
				"mode":         mode,
			})
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", "dependency-maintenance", "workflow type")
	cmd.Flags().StringVar(&mode, "mode", "autonomous", "execution mode (autonomous|interactive|analysis-only)")
	return cmd
}

func newListCmd() *cobra.Command {
	var status, workflow, project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := []string{}
			if status != "" {
				params = append(params, "status="+status)
			}
			if workflow != "" {
				params = append(params, "workflow="+workflow)
			}
			if project != "" {
				params = append(params, "project_path="+project)
			}
			path := "/api/sessions"
			if len(params) > 0 {
				path += "?" + strings.Join(params, "&")
			}
			return call(http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma-separated status filter")
	cmd.Flags().StringVar(&workflow, "workflow", "", "workflow type filter")
	cmd.Flags().StringVar(&project, "project", "", "project path filter")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/sessions/"+args[0], nil)
		},
	}
}

func newAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <session-id>",
		Short: "Execute the session's next step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/sessions/"+args[0]+"/advance", nil)
		},
	}
}

func newConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <session-id>",
		Short: "Approve an interactive session's plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/sessions/"+args[0]+"/confirm", nil)
		},
	}
}

func newPauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause a session after its in-flight step settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/sessions/"+args[0]+"/pause", map[string]any{
				"reason": reason,
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "paused by operator", "pause reason recorded on the session")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var checkpoint string
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if checkpoint != "" {
				body["checkpoint_id"] = checkpoint
			}
			return call(http.MethodPost, "/api/sessions/"+args[0]+"/resume", body)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "restore from a specific checkpoint id")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/sessions/"+args[0]+"/cancel", map[string]any{
				"force":  force,
				"reason": reason,
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "request cancellation even if a step is in flight")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <session-id>",
		Short: "Show the session's step plan and statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/sessions/"+args[0]+"/steps", nil)
		},
	}
}

func newEventsCmd() *cobra.Command {
	var since string
	var limit int
	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Show the session's audit events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/sessions/%s/events?limit=%d", args[0], limit)
			if since != "" {
				path += "&since=" + since
			}
			return call(http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only events after this RFC3339 timestamp")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events returned")
	return cmd
}

// call performs one API request and pretty-prints the JSON response.
func call(method, path string, body map[string]any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(serverURL, "/")+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
