package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"fieldtasks/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit [task]",
	Short: "Submit a task payload",
	Long: fmt.Sprintf(`Submit a JSON task payload to the service.

The payload's "task" field is filled in from the command line when absent and
must match it otherwise. Use --payload - to read the payload from stdin.

Tasks: %s

Example:
  fieldctl submit render_index --payload index.json
  fieldctl submit fetch_snapshot_metadata --payload snap.json --callback-url http://localhost:3000/snapshots/xyz`,
		strings.Join(api.Tasks, ", ")),
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		task := args[0]
		flags := cmd.Flags()
		payloadPath, _ := flags.GetString("payload")
		callbackURL, _ := flags.GetString("callback-url")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if payloadPath == "" {
			cmd.Println("Error: --payload is required")
			return
		}

		raw, err := readPayload(cmd, payloadPath)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		body, err := preparePayload(raw, task, callbackURL)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		client := NewTaskClient(url, token)
		result, err := client.SubmitTask(task, body)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Task accepted!\nJob ID: %s\n", result.JobID)
	},
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return raw, nil
}

// preparePayload fills in the task and callback URL of a raw payload.
func preparePayload(raw []byte, task, callbackURL string) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	switch existing := payload["task"].(type) {
	case nil:
		payload["task"] = task
	case string:
		if existing != task {
			return nil, fmt.Errorf("payload task %q does not match %q", existing, task)
		}
	default:
		return nil, fmt.Errorf("payload task must be a string")
	}

	if callbackURL != "" {
		payload["callback_url"] = callbackURL
	}

	return json.Marshal(payload)
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("payload", "p", "", "Path to the JSON payload, or - for stdin (required)")
	flags.String("callback-url", "", "Override the payload's callback_url")

	rootCmd.AddCommand(submitCmd)
}
