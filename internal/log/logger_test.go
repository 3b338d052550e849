package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerCarriesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf, Component: ComponentApp}).
		WithComponent(ComponentLedger)

	fields := NewFields().
		WithEntry("u1", "e1", "2024-03", "food", 1234).
		WithOperation(OpRecordExpense).
		WithError(errors.New("boom"))
	logger.Info("entry recorded", fields.ToSlice()...)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		FieldComponent:   ComponentLedger,
		FieldUserID:      "u1",
		FieldPeriod:      "2024-03",
		FieldCategory:    "food",
		FieldAmountCents: float64(1234),
		FieldOperation:   OpRecordExpense,
		FieldError:       "boom",
	}
	for k, want := range checks {
		if rec[k] != want {
			t.Errorf("field %s = %v, want %v", k, rec[k], want)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
}
