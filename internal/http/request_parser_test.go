package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finapp/internal/core"
)

func TestAmountTextUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    int64
		wantErr bool
	}{
		{name: "string dot", json: `{"amount":"12.34"}`, want: 1234},
		{name: "string comma", json: `{"amount":"12,34"}`, want: 1234},
		{name: "number", json: `{"amount":12.34}`, want: 1234},
		{name: "integer", json: `{"amount":50}`, want: 5000},
		{name: "exponent", json: `{"amount":1e2}`, want: 10000},
		{name: "many decimals rounds half up", json: `{"amount":"0.125"}`, want: 13},
		{name: "precision beyond float", json: `{"amount":"90071992547409.93"}`, want: 9007199254740993},
		{name: "zero", json: `{"amount":0}`, want: 0},
		{name: "negative", json: `{"amount":"-1"}`, wantErr: true},
		{name: "null", json: `{"amount":null}`, wantErr: true},
		{name: "garbage", json: `{"amount":"abc"}`, wantErr: true},
		{name: "huge exponent", json: `{"amount":"1e30000000"}`, wantErr: true},
		{name: "huge exponent number", json: `{"amount":1e999999999}`, wantErr: true},
		{name: "tiny exponent", json: `{"amount":"1e-999999999"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req contributionRequest
			if err := json.Unmarshal([]byte(tt.json), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			m, err := req.Amount.Money("amount")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d cents", m.Cents)
				}
				if !errors.Is(err, core.ErrInvalidArgument) {
					t.Errorf("error kind = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Cents != tt.want {
				t.Errorf("cents = %d, want %d", m.Cents, tt.want)
			}
		})
	}
}

func TestAmountTextRejectsNonNumbers(t *testing.T) {
	for _, body := range []string{`{"amount":true}`, `{"amount":{}}`, `{"amount":[1]}`} {
		var req expenseRequest
		if err := json.Unmarshal([]byte(body), &req); err == nil {
			t.Errorf("%s: expected unmarshal error", body)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"token":"abc"}`},
		{name: "unknown field", body: `{"token":"abc","x":1}`, wantErr: true},
		{name: "two objects", body: `{"token":"a"}{"token":"b"}`, wantErr: true},
		{name: "not json", body: `token=abc`, wantErr: true},
		{name: "too large", body: `{"token":"` + strings.Repeat("a", maxBodyBytes) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst deviceRequest
			err := decodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidArgument) {
					t.Errorf("err = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.Token != "abc" {
				t.Errorf("token = %q", dst.Token)
			}
		})
	}
}

func TestParseOptionalTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "2024-01-10", want: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{in: "2024-01-31T23:30:00-02:00", want: time.Date(2024, 2, 1, 1, 30, 0, 0, time.UTC)},
		{in: "10/01/2024", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseOptionalTime("occurredAt", tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpenseRequestInput(t *testing.T) {
	req := expenseRequest{
		Amount:      "7.5",
		Category:    "  food\x00 ",
		Description: "lunch\x07",
		OccurredAt:  "2024-01-10",
	}
	in, err := req.input("key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Amount.Cents != 750 {
		t.Errorf("cents = %d, want 750", in.Amount.Cents)
	}
	if in.Category != "food" || in.Description != "lunch" {
		t.Errorf("sanitized = %q / %q", in.Category, in.Description)
	}
	if in.IdempotencyKey != "key-1" {
		t.Errorf("key = %q", in.IdempotencyKey)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"  hello  ", "hello"},
		{"hello\x00world", "helloworld"},
		{"hello\tworld", "hello\tworld"},
		{"line1\nline2", "line1\nline2"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.expected {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
