package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/semnotes/internal/config"
	"github.com/kalambet/semnotes/internal/ingest"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
)

const notesPath = "/api/v1/notes"

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Create, list and edit notes",
}

var notesAddCmd = &cobra.Command{
	Use:   "add <title> [description]",
	Short: "Create a note",
	Long: `Create a note. The description can also be passed with --description.

Examples:
  semnotes notes add "旅行计划" "计划去云南旅行7天"
  semnotes notes add "Reading list" --description "Designing Data-Intensive Applications"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"title": args[0]}
		desc, _ := cmd.Flags().GetString("description")
		if len(args) == 2 {
			desc = args[1]
		}
		body["description"] = desc

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), notesPath+"/", body)
		if err != nil {
			return err
		}
		var n storage.Note
		if err := decodeJSON(resp, &n); err != nil {
			return err
		}
		printSuccess("Created note %s", n.ID)
		return nil
	},
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), notesPath+"/")
		if err != nil {
			return err
		}
		var list []storage.Note
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No notes yet.")
			return nil
		}
		for _, n := range list {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(n.ID)),
				n.UpdatedAt.Local().Format("2006-01-02 15:04"),
				colorize(colorBold, shorten(n.Title, 60)),
			)
		}
		return nil
	},
}

var notesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single note as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), notesPath+"/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var n storage.Note
		if err := decodeJSON(resp, &n); err != nil {
			return err
		}
		return printJSON(n)
	},
}

var notesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Update a note's title or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := editBody(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), notesPath+"/"+url.PathEscape(args[0]), body)
		if err != nil {
			return err
		}
		var n storage.Note
		if err := decodeJSON(resp, &n); err != nil {
			return err
		}
		printSuccess("Updated note %s", n.ID)
		return nil
	},
}

// editBody collects only the flags the user passed, so the server keeps
// the other field unchanged.
func editBody(cmd *cobra.Command) (map[string]string, error) {
	body := map[string]string{}
	for _, name := range []string{"title", "description"} {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			body[name] = v
		}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("--title or --description is required")
	}
	return body, nil
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), notesPath+"/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted note %s", args[0])
		return nil
	},
}

var notesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Create a note from text, a URL or a file",
	Long: `Create a note from text, a URL or a file. PDF files are converted to text.

Examples:
  semnotes notes import --text "I prefer Go for backend services"
  semnotes notes import --url https://example.com/article
  semnotes notes import --file ./paper.pdf --title "Attention paper"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		req, err := buildImportRequest(text, rawURL, file, title)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), notesPath+"/import", req)
		if err != nil {
			return err
		}
		var n storage.Note
		if err := decodeJSON(resp, &n); err != nil {
			return err
		}
		printSuccess("Imported %q as note %s", shorten(n.Title, 60), n.ID)
		return nil
	},
}

// buildImportRequest turns the import flags into a request. Files are sent
// base64-encoded; a .pdf extension selects PDF extraction.
func buildImportRequest(text, rawURL, file, title string) (ingest.Request, error) {
	req := ingest.Request{Title: title}
	switch {
	case text != "":
		req.Type = ingest.TypeText
		req.Content = text
	case rawURL != "":
		req.Type = ingest.TypeURL
		req.URL = rawURL
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return ingest.Request{}, fmt.Errorf("reading file: %w", err)
		}
		req.Type = ingest.TypeFile
		if strings.EqualFold(filepath.Ext(file), ".pdf") {
			req.Type = ingest.TypePDF
		}
		req.Content = base64.StdEncoding.EncodeToString(data)
		if req.Title == "" {
			req.Title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
	default:
		return ingest.Request{}, fmt.Errorf("one of --text, --url, or --file is required")
	}
	return req, nil
}

var notesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Add the sample notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), notesPath+"/seed", nil)
		if err != nil {
			return err
		}
		var result struct {
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Added %d sample notes", result.Count)
		return nil
	},
}

func init() {
	notesAddCmd.Flags().String("description", "", "note body")
	notesEditCmd.Flags().String("title", "", "new title")
	notesEditCmd.Flags().String("description", "", "new description")
	notesImportCmd.Flags().String("text", "", "text content to import")
	notesImportCmd.Flags().String("url", "", "URL to fetch and import")
	notesImportCmd.Flags().String("file", "", "file path to import (text or PDF)")
	notesImportCmd.Flags().String("title", "", "title for the note")

	notesCmd.AddCommand(notesAddCmd)
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesShowCmd)
	notesCmd.AddCommand(notesEditCmd)
	notesCmd.AddCommand(notesDeleteCmd)
	notesCmd.AddCommand(notesImportCmd)
	notesCmd.AddCommand(notesSeedCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over notes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		debug, _ := cmd.Flags().GetBool("debug")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), searchPath(cmd, query, debug))
		if err != nil {
			return err
		}

		if debug {
			var report ranking.DebugReport
			if err := decodeJSON(resp, &report); err != nil {
				return err
			}
			return printJSON(report)
		}

		var results []ranking.Result
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("\n%s [similarity: %.3f] %s\n",
				colorize(colorBold, fmt.Sprintf("%d. %s", i+1, r.Metadata.Title)),
				r.Similarity,
				colorize(colorCyan, shortID(r.ID)),
			)
			if r.Metadata.Description != "" {
				fmt.Printf("  %s\n", shorten(r.Metadata.Description, 300))
			}
		}
		return nil
	},
}

// searchPath builds the search URL, forwarding only the flags the user set
// so the server's configured defaults apply otherwise.
func searchPath(cmd *cobra.Command, query string, debug bool) string {
	v := url.Values{}
	v.Set("q", query)
	if debug {
		if cmd.Flags().Changed("boost") {
			b, _ := cmd.Flags().GetFloat64("boost")
			v.Set("keyword_boost", strconv.FormatFloat(b, 'f', -1, 64))
		}
		return notesPath + "/search/debug?" + v.Encode()
	}
	if cmd.Flags().Changed("limit") {
		l, _ := cmd.Flags().GetInt("limit")
		v.Set("limit", strconv.Itoa(l))
	}
	if cmd.Flags().Changed("threshold") {
		t, _ := cmd.Flags().GetFloat64("threshold")
		v.Set("threshold", strconv.FormatFloat(t, 'f', -1, 64))
	}
	if cmd.Flags().Changed("boost") {
		b, _ := cmd.Flags().GetFloat64("boost")
		v.Set("keyword_boost", strconv.FormatFloat(b, 'f', -1, 64))
	}
	return notesPath + "/search?" + v.Encode()
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 5, "maximum number of results")
	cmd.Flags().Float64("threshold", 0.3, "minimum similarity (0 disables filtering)")
	cmd.Flags().Float64("boost", 0.2, "similarity bonus for notes containing the query text")
	cmd.Flags().Bool("debug", false, "show per-note similarity details")
}

func init() {
	addSearchFlags(searchCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from your notes",
	Long: `Ask a question answered from your notes. Pass --session with the ID
printed by a previous ask to continue the conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		body := map[string]string{"question": strings.Join(args, " ")}
		if sessionID != "" {
			body["session_id"] = sessionID
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), notesPath+"/ask", body)
		if err != nil {
			return err
		}
		var qa rag.QAResponse
		if err := decodeJSON(resp, &qa); err != nil {
			return err
		}

		fmt.Println(qa.Answer)
		if len(qa.Sources) > 0 {
			fmt.Println()
			fmt.Println(colorize(colorBold, "Sources:"))
			for _, s := range qa.Sources {
				fmt.Printf("  - %s (%.2f)\n", s.Metadata.Title, s.Similarity)
			}
		}
		if sessionID != "" && sessionID != qa.SessionID {
			printWarning("session %s expired; started a new one", sessionID)
		}
		printStatus("Session", "%s", qa.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-embed every note and rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Refreshing embeddings...")
		resp, err := client.post(cmd.Context(), notesPath+"/refresh-embeddings", nil)
		if err != nil {
			return err
		}
		var result struct {
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Indexed %d notes", result.Count)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect conversation sessions",
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var s session.Session
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		for _, m := range s.Messages {
			role := colorize(colorCyan, m.Role)
			if m.Role == session.RoleAssistant {
				role = colorize(colorGreen, m.Role)
			}
			fmt.Printf("%s  %s\n  %s\n", m.Timestamp.Local().Format("15:04:05"), role, m.Content)
		}
		return nil
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired sessions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/v1/sessions/cleanup", nil)
		if err != nil {
			return err
		}
		var result struct {
			Purged int `json:"purged"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Purged %d expired sessions", result.Purged)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
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
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
