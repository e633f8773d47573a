package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/indranilweb/ai-document-assistant/internal/config"
)

// shortID truncates an identifier for display. Ids shorter than the display
// width pass through unchanged.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session from one or more documents",
	Long: `Create a session from one or more documents.

Examples:
  docassist create --file report.pdf
  docassist create --file notes.md --file spec.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringArray("file")
		if len(files) == 0 {
			return fmt.Errorf("at least one --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %d file(s)...", len(files))
		resp, err := client.postFiles("/sessions", files)
		if err != nil {
			return err
		}

		var result struct {
			SessionID string   `json:"session_id"`
			Documents []string `json:"documents"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created session %s (%d document(s) indexed)", result.SessionID, len(result.Documents))
		fmt.Println(result.SessionID)
		return nil
	},
}

func init() {
	createCmd.Flags().StringArray("file", nil, "document file to index (repeatable)")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <session-id> <question>",
	Short: "Ask a question against a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/sessions/"+id+"/chat", map[string]string{"question": question})
		if err != nil {
			return err
		}

		var result struct {
			Answer string `json:"answer"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage document sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/sessions")
		if err != nil {
			return err
		}

		var sessions []struct {
			SessionID string   `json:"session_id"`
			Documents []string `json:"documents"`
			Hydration string   `json:"hydration"`
			UpdatedAt string   `json:"updated_at"`
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			docs := strings.Join(s.Documents, ", ")
			if len(docs) > 60 {
				docs = docs[:60] + "..."
			}
			fmt.Printf("%s  %-9s %s  %s\n",
				colorize(colorCyan, shortID(s.SessionID)),
				s.Hydration,
				s.UpdatedAt,
				docs,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's documents and transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/sessions/" + args[0])
		if err != nil {
			return err
		}

		var s struct {
			SessionID  string   `json:"session_id"`
			Documents  []string `json:"documents"`
			Hydration  string   `json:"hydration"`
			UpdatedAt  string   `json:"updated_at"`
			Transcript []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"transcript"`
		}
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}

		printStatus("Session", "%s", s.SessionID)
		printStatus("Documents", "%s", strings.Join(s.Documents, ", "))
		printStatus("Hydration", "%s", s.Hydration)
		printStatus("Updated", "%s", s.UpdatedAt)

		for _, turn := range s.Transcript {
			label := turn.Role
			if label == "user" {
				label = colorize(colorBold, "you")
			} else {
				label = colorize(colorGreen, "assistant")
			}
			fmt.Printf("\n%s: %s\n", label, turn.Content)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/sessions/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List recent question/answer interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID         string    `json:"id"`
			SessionID  string    `json:"session_id"`
			CreatedAt  time.Time `json:"created_at"`
			Question   string    `json:"question"`
			DurationMs int64     `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			question := ix.Question
			if len(question) > 80 {
				question = question[:80] + "..."
			}
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedAt.Format(time.RFC3339),
				colorize(colorBold, shortID(ix.SessionID)),
				question,
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
