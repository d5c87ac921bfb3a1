// Package logs wires the run-scoped logging surface: a tinted console
// handler plus a dated log directory holding a plain-text log, a
// line-delimited JSON event log, and the final run summary document.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// Run owns the log artifacts of a single export run, keyed by a generated
// run ID.
type Run struct {
	ID          string
	Dir         string
	Logger      *slog.Logger
	TextPath    string
	JSONLPath   string
	SummaryPath string

	closers []io.Closer
}

// ConsoleLogger returns a tinted stderr logger for code paths that run before
// a Run exists (flag validation, preflight failures).
func ConsoleLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
}

// NewRun creates the dated log directory and the fan-out logger for one run.
func NewRun(script string, baseDir string) (*Run, error) {
	runID := uuid.NewString()
	if baseDir == "" {
		baseDir = "logs"
	}
	dir := filepath.Join(baseDir, time.Now().UTC().Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	run := &Run{
		ID:          runID,
		Dir:         dir,
		TextPath:    filepath.Join(dir, fmt.Sprintf("%s_%s.log", script, runID)),
		JSONLPath:   filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", script, runID)),
		SummaryPath: filepath.Join(dir, fmt.Sprintf("%s_%s_summary.json", script, runID)),
	}

	textFile, err := os.Create(run.TextPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create text log: %w", err)
	}
	jsonlFile, err := os.Create(run.JSONLPath)
	if err != nil {
		textFile.Close()
		return nil, fmt.Errorf("failed to create jsonl log: %w", err)
	}
	run.closers = []io.Closer{textFile, jsonlFile}

	fileOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
	handler := newFanoutHandler(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.Kitchen,
		}),
		slog.NewTextHandler(textFile, fileOpts),
		slog.NewJSONHandler(jsonlFile, fileOpts),
	)
	run.Logger = slog.New(handler).With("run_id", runID, "script", script)
	slog.SetDefault(run.Logger)

	run.Logger.Info("logging initialized")
	return run, nil
}

// Close flushes and closes the log files.
func (r *Run) Close() {
	for _, c := range r.closers {
		c.Close()
	}
}

// WriteSummary writes the final run summary document.
func (r *Run) WriteSummary(summary any) error {
	file, err := os.Create(r.SummaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	r.Logger.Info("summary written", "path", r.SummaryPath)
	return nil
}

// fanoutHandler dispatches each record to every wrapped handler.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	wrapped := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		wrapped[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: wrapped}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	wrapped := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		wrapped[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: wrapped}
}
