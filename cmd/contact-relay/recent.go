package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-relay/internal/config"
	"github.com/shineum/contact-relay/internal/contact"
	"github.com/shineum/contact-relay/internal/supabase"
)

// fetchTimeout bounds a diagnostic REST fetch.
const fetchTimeout = 15 * time.Second

var recentLimit int

func init() {
	recentCmd.Flags().IntVar(&recentLimit, "limit", supabase.DefaultLimit, "number of submissions to show")
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest stored contact submissions",
	Long: `Fetch the newest rows of contact_messages through the Supabase REST API.
Requires SUPABASE_URL and SUPABASE_ANON_KEY.

Examples:
  # Show the five newest submissions
  contact-relay recent

  # Show twenty
  contact-relay recent --limit 20`,
	Args: cobra.NoArgs,
	RunE: runRecent,
}

func runRecent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	recs, err := fetchRecent(cmd.Context(), cfg, recentLimit)
	if err != nil {
		return err
	}

	printRecords(cmd.OutOrStdout(), recs)
	return nil
}

func fetchRecent(ctx context.Context, cfg *config.Config, limit int) ([]contact.Record, error) {
	if !cfg.SupabaseConfigured() {
		return nil, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	}

	client, err := supabase.New(supabase.Config{
		URL:     cfg.Supabase.URL,
		AnonKey: cfg.Supabase.AnonKey,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	recs, err := client.RecentMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact messages: %w", err)
	}
	return recs, nil
}

// printRecords writes one row per submission with the message cut to a
// single short line.
func printRecords(w io.Writer, recs []contact.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no contact messages found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tNAME\tEMAIL\tSUBJECT\tMESSAGE")
	for _, r := range recs {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			created,
			oneLine(r.Name, 30),
			oneLine(r.Email, 40),
			oneLine(r.Subject, 40),
			oneLine(r.Message, 60),
		)
	}
	tw.Flush()
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
