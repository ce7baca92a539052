package sink

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/sheets/v4"
)

// SheetHeader is the fixed first row of the target tab.
var SheetHeader = []string{"Text (first line)", "Permalink", "Views", "Likes", "Replies", "Reposts", "Quotes", "Shares"}

const (
	numberPattern    = "#,##0"
	firstMetricCol   = 2
	sheetColumnCount = 8
	lastColumn       = "H"
)

var unsafeSheetName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SheetsAPI is the slice of the Sheets service the sink depends on.
type SheetsAPI interface {
	// SheetID finds a tab by title. It wraps ErrTargetNotFound when the
	// spreadsheet itself does not exist.
	SheetID(ctx context.Context, spreadsheetID, title string) (id int64, found bool, err error)
	AddSheet(ctx context.Context, spreadsheetID, title string) (int64, error)
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
	BatchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) error
}

// SheetsSink inserts each batch directly beneath the header, so the latest
// run sits above rows written by earlier runs.
type SheetsSink struct {
	api           SheetsAPI
	spreadsheetID string
	sheetName     string
	sheetID       int64
	written       int
	log           logrus.FieldLogger
}

func NewSheetsSink(api SheetsAPI, spreadsheetID, sheetName string, log logrus.FieldLogger) *SheetsSink {
	return &SheetsSink{
		api:           api,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           logging.Or(log),
	}
}

func (s *SheetsSink) Name() string { return "sheets" }

// URL is the browser link to the target spreadsheet.
func (s *SheetsSink) URL() string {
	return "https://docs.google.com/spreadsheets/d/" + s.spreadsheetID
}

// Written returns the number of rows inserted during this run.
func (s *SheetsSink) Written() int {
	return s.written
}

// Prepare checks the spreadsheet exists, creates the tab when missing and
// writes the header row when it differs.
func (s *SheetsSink) Prepare(ctx context.Context) error {
	if strings.TrimSpace(s.spreadsheetID) == "" {
		return fmt.Errorf("%w: spreadsheet id is empty", ErrUnavailable)
	}
	s.written = 0

	id, found, err := s.api.SheetID(ctx, s.spreadsheetID, s.sheetName)
	if err != nil {
		return fmt.Errorf("look up sheet %q: %w", s.sheetName, err)
	}
	if !found {
		id, err = s.api.AddSheet(ctx, s.spreadsheetID, s.sheetName)
		if err != nil {
			return fmt.Errorf("create sheet %q: %w", s.sheetName, err)
		}
		s.log.WithField("sheet", s.sheetName).Info("created sheet")
	}
	s.sheetID = id

	headerRange := s.rangeRef(fmt.Sprintf("A1:%s1", lastColumn))
	existing, err := s.api.GetValues(ctx, s.spreadsheetID, headerRange)
	if err != nil {
		s.log.WithError(err).Warn("read sheet header, rewriting it")
	}
	if !headerMatches(existing) {
		row := make([]interface{}, 0, len(SheetHeader))
		for _, h := range SheetHeader {
			row = append(row, h)
		}
		if err := s.api.UpdateValues(ctx, s.spreadsheetID, headerRange, [][]interface{}{row}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	return nil
}

// Commit inserts the records added since the previous commit. The final
// batch also applies formatting, whose failures are only logged.
func (s *SheetsSink) Commit(ctx context.Context, batch insight.Batch) error {
	if s.written > len(batch.Records) {
		return fmt.Errorf("batch has %d records but %d rows were already written", len(batch.Records), s.written)
	}
	fresh := batch.Records[s.written:]

	if len(fresh) > 0 {
		start := 1 + s.written
		end := start + len(fresh)

		insert := &sheets.Request{InsertDimension: &sheets.InsertDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:    s.sheetID,
				Dimension:  "ROWS",
				StartIndex: int64(start),
				EndIndex:   int64(end),
			},
		}}
		if err := s.api.BatchUpdate(ctx, s.spreadsheetID, []*sheets.Request{insert}); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}

		values := make([][]interface{}, 0, len(fresh))
		for _, r := range fresh {
			values = append(values, sheetRow(r))
		}
		rng := s.rangeRef(fmt.Sprintf("A%d:%s%d", start+1, lastColumn, end))
		if err := s.api.UpdateValues(ctx, s.spreadsheetID, rng, values); err != nil {
			// Drop the empty rows so the next commit reuses the same anchor.
			remove := &sheets.Request{DeleteDimension: &sheets.DeleteDimensionRequest{Range: insert.InsertDimension.Range}}
			if delErr := s.api.BatchUpdate(ctx, s.spreadsheetID, []*sheets.Request{remove}); delErr != nil {
				s.log.WithError(delErr).WithField("rows", len(fresh)).Warn("remove unwritten rows")
			}
			return fmt.Errorf("write rows: %w", err)
		}
		s.written += len(fresh)
		s.log.WithFields(logrus.Fields{
			"rows":      len(fresh),
			"written":   s.written,
			"processed": batch.Processed,
			"total":     batch.Total,
		}).Info("sheet rows written")
	}

	if batch.Final() {
		if err := s.api.BatchUpdate(ctx, s.spreadsheetID, s.formatRequests()); err != nil {
			s.log.WithError(err).Warn("format sheet")
		}
	}
	return nil
}

func (s *SheetsSink) formatRequests() []*sheets.Request {
	white := &sheets.Color{Red: 1, Green: 1, Blue: 1}
	reqs := []*sheets.Request{
		{RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          s.sheetID,
				StartRowIndex:    0,
				EndRowIndex:      1,
				StartColumnIndex: 0,
				EndColumnIndex:   sheetColumnCount,
			},
			Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
				BackgroundColor: &sheets.Color{Red: 0.26, Green: 0.52, Blue: 0.96},
				TextFormat:      &sheets.TextFormat{Bold: true, ForegroundColor: white},
			}},
			Fields: "userEnteredFormat(backgroundColor,textFormat)",
		}},
		{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:        s.sheetID,
				GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
			},
			Fields: "gridProperties.frozenRowCount",
		}},
	}
	if s.written > 0 {
		reqs = append(reqs, &sheets.Request{RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          s.sheetID,
				StartRowIndex:    1,
				EndRowIndex:      int64(1 + s.written),
				StartColumnIndex: firstMetricCol,
				EndColumnIndex:   sheetColumnCount,
			},
			Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
				NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: numberPattern},
			}},
			Fields: "userEnteredFormat.numberFormat",
		}})
	}
	reqs = append(reqs, &sheets.Request{AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
		Dimensions: &sheets.DimensionRange{
			SheetId:    s.sheetID,
			Dimension:  "COLUMNS",
			StartIndex: 0,
			EndIndex:   sheetColumnCount,
		},
	}})
	return reqs
}

func (s *SheetsSink) rangeRef(cells string) string {
	return EscapeSheetName(s.sheetName) + "!" + cells
}

func sheetRow(r insight.Record) []interface{} {
	row := toRow(r)
	out := []interface{}{row.Text, row.Permalink}
	for _, v := range row.metricValues() {
		out = append(out, v)
	}
	return out
}

func headerMatches(values [][]interface{}) bool {
	if len(values) == 0 || len(values[0]) != len(SheetHeader) {
		return false
	}
	for i, h := range SheetHeader {
		if fmt.Sprint(values[0][i]) != h {
			return false
		}
	}
	return true
}

// EscapeSheetName quotes a tab name for A1 notation when it contains
// anything besides letters, digits and underscores.
func EscapeSheetName(name string) string {
	if !unsafeSheetName.MatchString(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
