package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ppiankov/threadstat/internal/config"
	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/pipeline"
	"github.com/ppiankov/threadstat/internal/privacy"
	"github.com/ppiankov/threadstat/internal/sink"
	"github.com/ppiankov/threadstat/internal/store"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/ppiankov/threadstat/internal/token"
	"github.com/ppiankov/threadstat/internal/watermark"
)

// app holds everything a sync needs, built from config.
type app struct {
	cfg    *config.Config
	store  *store.Store
	redis  *watermark.RedisStore
	sheets *sink.SheetsSink
	syncer *pipeline.Syncer
}

// newSheetsAPI is replaced in tests.
var newSheetsAPI = func(ctx context.Context, credentialsFile string) (sink.SheetsAPI, error) {
	return sink.NewGoogleSheets(ctx, credentialsFile)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.Log
	a := &app{cfg: cfg}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	var source watermark.Source
	var recorders []watermark.Recorder
	switch cfg.Watermark.Source {
	case "store":
		source = st
	case "redis":
		rc := cfg.Watermark.Redis
		rs, err := watermark.DialRedis(ctx, rc.Addr, rc.Password, rc.DB, rc.Key)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.redis = rs
		source = rs
		recorders = append(recorders, rs)
	}

	var patterns []string
	if cfg.Privacy.Redact.Enabled {
		patterns = cfg.Privacy.Redact.Patterns
	}
	redactor, err := privacy.New(patterns)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("compile redact patterns: %w", err)
	}

	batchSinks, sinks, err := a.buildSinks(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Threads.Timeout.Duration}
	syncer, err := pipeline.New(pipeline.Deps{
		Tokens: tokenProvider(cfg),
		NewClient: func(accessToken string) pipeline.Client {
			return threads.NewClient(accessToken,
				threads.WithBaseURL(cfg.Threads.BaseURL),
				threads.WithHTTPClient(httpClient),
				threads.WithPageDelay(cfg.Threads.PageDelay.Duration),
				threads.WithLogger(log),
			)
		},
		Resolver:   watermark.NewResolver(source, watermark.WithLogger(log)),
		Runs:       st,
		Recorders:  recorders,
		BatchSinks: batchSinks,
		Sinks:      sinks,
		EnrichOpts: []insight.Option{
			insight.WithBatchSize(cfg.Sync.BatchSize),
			insight.WithDelay(cfg.Threads.InsightDelay.Duration),
			insight.WithRedactor(redactor),
		},
		Log: log,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.syncer = syncer
	return a, nil
}

// buildSinks turns the sinks section into sink values. A sheets sink whose
// client cannot be built becomes an unavailable placeholder so the run
// reports it after the token check.
func (a *app) buildSinks(ctx context.Context) ([]sink.BatchSink, []sink.Sink, error) {
	cfg := a.cfg
	var batchSinks []sink.BatchSink
	var sinks []sink.Sink

	if cfg.Sinks.StoreEnabled() {
		batchSinks = append(batchSinks, sink.NewStoreSink(a.store))
	}

	if cfg.Sinks.Sheets.Enabled() {
		api, err := newSheetsAPI(ctx, cfg.Sinks.Sheets.CredentialsFile)
		if err != nil {
			batchSinks = append(batchSinks, sink.Unavailable("sheets", err))
		} else {
			a.sheets = sink.NewSheetsSink(api, cfg.Sinks.Sheets.SpreadsheetID, cfg.Sinks.Sheets.SheetName, logging.Log)
			batchSinks = append(batchSinks, a.sheets)
		}
	}

	if cfg.Sinks.JSON.Enabled() {
		out, err := buildOutput(cfg.Sinks.JSON)
		if err != nil {
			return nil, nil, fmt.Errorf("json sink: %w", err)
		}
		sinks = append(sinks, sink.NewJSONSink(out))
	}
	if cfg.Sinks.CSV.Enabled() {
		out, err := buildOutput(cfg.Sinks.CSV)
		if err != nil {
			return nil, nil, fmt.Errorf("csv sink: %w", err)
		}
		sinks = append(sinks, sink.NewCSVSink(out))
	}
	if cfg.Sinks.Markdown.Enabled() {
		out, err := buildOutput(cfg.Sinks.Markdown)
		if err != nil {
			return nil, nil, fmt.Errorf("markdown sink: %w", err)
		}
		sinks = append(sinks, sink.NewMarkdownSink(out))
	}

	return batchSinks, sinks, nil
}

func buildOutput(fc config.FileSinkConfig) (sink.Output, error) {
	if fc.S3Bucket != "" {
		out, err := sink.NewS3Output(fc.S3Bucket, fc.Path, fc.S3Region)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return sink.LocalOutput{Path: filepath.Clean(fc.Path)}, nil
}

// tokenProvider checks the environment first, then the token file.
func tokenProvider(cfg *config.Config) token.Provider {
	return token.Chain{
		token.EnvProvider{Name: cfg.Threads.TokenEnv},
		token.NewFileStorage(cfg.Threads.TokenFile),
	}
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// authHelp is printed when no token is configured.
func authHelp(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("No Threads access token configured.\n")
	fmt.Fprintf(&b, "  export %s=<token>\n", cfg.Threads.TokenEnv)
	b.WriteString("or store it with:\n")
	b.WriteString("  threadstat token set <token>\n")
	return b.String()
}
