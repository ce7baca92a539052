package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/threadstat/internal/insight"
)

const (
	markdownTopPosts  = 10
	markdownTextWidth = 60
)

// MarkdownSink renders a human-readable report: totals, the top posts by
// views, and one line per synced post.
type MarkdownSink struct {
	out Output
}

func NewMarkdownSink(out Output) *MarkdownSink {
	return &MarkdownSink{out: out}
}

func (s *MarkdownSink) Name() string { return "markdown" }

func (s *MarkdownSink) Write(ctx context.Context, records []insight.Record, generatedAt time.Time) error {
	var buf bytes.Buffer
	writeMarkdown(&buf, records, generatedAt)
	return s.out.Put(ctx, buf.Bytes(), "text/markdown")
}

func writeMarkdown(w io.Writer, records []insight.Record, generatedAt time.Time) {
	fmt.Fprintf(w, "# threadstat report\n\n")
	fmt.Fprintf(w, "%d posts, generated %s\n\n", len(records), generatedAt.UTC().Format(time.RFC3339))

	if len(records) == 0 {
		fmt.Fprintln(w, "No posts synced.")
		return
	}

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}

	var total Row
	for _, r := range rows {
		total.Views += r.Views
		total.Likes += r.Likes
		total.Replies += r.Replies
		total.Reposts += r.Reposts
		total.Quotes += r.Quotes
		total.Shares += r.Shares
	}
	fmt.Fprintf(w, "## Totals\n\n")
	for i, v := range total.metricValues() {
		fmt.Fprintf(w, "- **%s**: %s\n", csvHeader[3+i], humanize.Comma(v))
	}
	fmt.Fprintln(w)

	top := make([]Row, len(rows))
	copy(top, rows)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Views > top[j].Views })
	if len(top) > markdownTopPosts {
		top = top[:markdownTopPosts]
	}
	fmt.Fprintf(w, "## Top %d by views\n\n", len(top))
	for i, r := range top {
		fmt.Fprintf(w, "%d. [%s](%s) %s views, %s likes\n",
			i+1, markdownText(r.Text), r.Permalink, humanize.Comma(r.Views), humanize.Comma(r.Likes))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "## All posts (%d)\n\n", len(rows))
	fmt.Fprintln(w, "| post | views | likes | replies | reposts | quotes | shares |")
	fmt.Fprintln(w, "|---|---:|---:|---:|---:|---:|---:|")
	for _, r := range rows {
		cells := []string{fmt.Sprintf("[%s](%s)", markdownText(r.Text), r.Permalink)}
		for _, v := range r.metricValues() {
			cells = append(cells, humanize.Comma(v))
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
}

// markdownText keeps the first line of a post, shortened and safe to place
// inside a link label or table cell.
func markdownText(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "(no text)"
	}
	if runes := []rune(s); len(runes) > markdownTextWidth {
		s = string(runes[:markdownTextWidth-1]) + "…"
	}
	r := strings.NewReplacer("|", `\|`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
