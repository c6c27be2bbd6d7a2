package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"docprep/internal/services"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger = NewComponentLogger(logger, "triage")
	logger.Info("unit routed", String(FieldUnitID, "unit-7"), Int(FieldCycle, 2))

	out := buf.String()
	if !strings.Contains(out, "triage: unit routed") {
		t.Fatalf("expected component prefix in %q", out)
	}
	if !strings.Contains(out, "unit_id=unit-7") {
		t.Fatalf("expected unit_id attr in %q", out)
	}
	if !strings.Contains(out, "cycle=2") {
		t.Fatalf("expected cycle attr in %q", out)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))
	logger.Info("msg", String(FieldFile, "annual report.pdf"))
	if !strings.Contains(buf.String(), `file="annual report.pdf"`) {
		t.Fatalf("expected quoted value in %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsUnitFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	ctx := services.WithUnitID(context.Background(), "unit-42")
	ctx = services.WithCycle(ctx, 3)
	WithContext(ctx, logger).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "unit_id=unit-42") || !strings.Contains(out, "cycle=3") {
		t.Fatalf("expected context fields in %q", out)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("should not panic", Error(nil))
}
