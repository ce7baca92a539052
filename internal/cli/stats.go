package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/store"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/spf13/cobra"
)

var (
	statsMetric string
	statsLimit  int
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show top posts from the local database",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsMetric, "metric", "views", "sort by: "+strings.Join(threads.Metrics, ", "))
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "number of posts to show")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

const maxTextWidth = 40

func statsAction(cmd *cobra.Command, _ []string) error {
	if !slices.Contains(threads.Metrics, statsMetric) {
		return fmt.Errorf("unknown metric %q (want one of %s)", statsMetric, strings.Join(threads.Metrics, ", "))
	}
	if statsLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", statsLimit)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	total, err := db.CountInsights(ctx)
	if err != nil {
		return fmt.Errorf("count insights: %w", err)
	}
	records, err := db.TopInsights(ctx, statsMetric, statsLimit)
	if err != nil {
		return fmt.Errorf("top insights: %w", err)
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, records, total)
	case "terminal", "":
		if len(records) == 0 {
			fmt.Fprintln(os.Stdout, "No insights stored yet. Run 'threadstat sync' first.")
			return nil
		}
		printStats(os.Stdout, records, total, statsMetric)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Total  int              `json:"total"`
	Totals map[string]int64 `json:"totals"`
	Posts  []jsonStatsPost  `json:"posts"`
}

type jsonStatsPost struct {
	ID        string           `json:"id"`
	Permalink string           `json:"permalink"`
	Text      string           `json:"text"`
	PostedAt  string           `json:"posted_at,omitempty"`
	Metrics   map[string]int64 `json:"metrics"`
}

func printStatsJSON(w io.Writer, records []insight.Record, total int) error {
	out := jsonStatsOutput{
		Total:  total,
		Totals: sumMetrics(records),
		Posts:  make([]jsonStatsPost, 0, len(records)),
	}
	for _, r := range records {
		p := jsonStatsPost{
			ID:        r.ID,
			Permalink: r.Permalink,
			Text:      r.Text,
			Metrics:   make(map[string]int64, len(threads.Metrics)),
		}
		if !r.PostedAt.IsZero() {
			p.PostedAt = r.PostedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		for _, m := range threads.Metrics {
			p.Metrics[m] = r.Metric(m)
		}
		out.Posts = append(out.Posts, p)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, records []insight.Record, total int, metric string) {
	fmt.Fprintf(w, "threadstat: top %d of %s posts by %s\n\n", len(records), humanize.Comma(int64(total)), metric)

	fmt.Fprintf(w, "  %3s  %-10s  %9s  %7s  %7s  %7s  %7s  %7s  %s\n",
		"#", "Posted", "Views", "Likes", "Replies", "Reposts", "Quotes", "Shares", "Text")
	for i, r := range records {
		posted := "-"
		if !r.PostedAt.IsZero() {
			posted = r.PostedAt.UTC().Format("2006-01-02")
		}
		fmt.Fprintf(w, "  %3d  %-10s  %9s  %7s  %7s  %7s  %7s  %7s  %s\n",
			i+1, posted,
			humanize.Comma(r.Metric("views")),
			humanize.Comma(r.Metric("likes")),
			humanize.Comma(r.Metric("replies")),
			humanize.Comma(r.Metric("reposts")),
			humanize.Comma(r.Metric("quotes")),
			humanize.Comma(r.Metric("shares")),
			truncate(insight.FirstLine(r.Text), maxTextWidth),
		)
	}
	fmt.Fprintln(w)

	totals := sumMetrics(records)
	fmt.Fprintln(w, "--- Totals (shown posts) ---")
	fmt.Fprintln(w)
	for _, m := range threads.Metrics {
		fmt.Fprintf(w, "  %-8s %s\n", m+":", humanize.Comma(totals[m]))
	}
}

func sumMetrics(records []insight.Record) map[string]int64 {
	totals := make(map[string]int64, len(threads.Metrics))
	for _, m := range threads.Metrics {
		totals[m] = 0
	}
	for _, r := range records {
		for _, m := range threads.Metrics {
			totals[m] += r.Metric(m)
		}
	}
	return totals
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
