package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store a memory",
	Long: `Store a memory.

Examples:
  remembot remember "Passport is in the desk drawer"
  remembot remember "Sam's birthday is March 12" --tags people,dates`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		tagsStr, _ := cmd.Flags().GetString("tags")

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"content": content}
		if tags != nil {
			req["tags"] = tags
		}

		resp, err := client.post(cmd.Context(), "/memories", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored memory %s", result.ID)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over stored memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/memories?query=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			ID        string   `json:"id"`
			Content   string   `json:"content"`
			Type      string   `json:"type"`
			Tags      []string `json:"tags"`
			CreatedAt string   `json:"created_at"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No memories found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [%s]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Type)
			if len(r.Tags) > 0 {
				fmt.Printf("  Tags: %s\n", strings.Join(r.Tags, ", "))
			}
			fmt.Printf("  %s\n", truncate(r.Content, 500))
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- memories ---

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List recent memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/memories/list?limit=%d", limit))
		if err != nil {
			return err
		}

		var memories []struct {
			ID        string `json:"id"`
			Content   string `json:"content"`
			Type      string `json:"type"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &memories); err != nil {
			return err
		}

		if len(memories) == 0 {
			fmt.Println("No memories found.")
			return nil
		}

		for _, m := range memories {
			fmt.Printf("%s  %s  %-8s  %s\n",
				colorize(colorCyan, m.ID[:8]),
				m.CreatedAt,
				m.Type,
				truncate(m.Content, 80),
			)
		}
		return nil
	},
}

func init() {
	memoriesCmd.Flags().Int("limit", 20, "maximum number of memories to list")
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/interactions/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			fmt.Printf("%s  %s  %-8s  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.CreatedAt,
				ix.Type,
				truncate(ix.Content, 80),
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
}

// --- analytics ---

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show usage summary as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/analytics/summary")
		if err != nil {
			return err
		}

		var summary any
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}
