package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/threadstat/internal/insight"
)

type jsonDocument struct {
	GeneratedAt string `json:"generated_at"`
	Total       int    `json:"total"`
	Records     []Row  `json:"records"`
}

// JSONSink renders all records as one indented JSON document.
type JSONSink struct {
	out Output
}

func NewJSONSink(out Output) *JSONSink {
	return &JSONSink{out: out}
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Write(ctx context.Context, records []insight.Record, generatedAt time.Time) error {
	doc := jsonDocument{
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Total:       len(records),
		Records:     make([]Row, 0, len(records)),
	}
	for _, r := range records {
		doc.Records = append(doc.Records, toRow(r))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return s.out.Put(ctx, buf.Bytes(), "application/json")
}
