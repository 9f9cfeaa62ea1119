package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggerErrorIncludesPipelineFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "dropship-api", Output: buf, Format: "json"})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithSaleID(ctx, "sale-1")
	ctx = log.WithLotID(ctx, "lot-9")
	ctx = log.WithFields(ctx, map[string]any{"step": "resume_stuck"})

	log.Error(ctx, "supplier pay failed", errors.New("timeout"))

	entry := decodeEntry(t, buf)
	want := map[string]string{
		"service":    "dropship-api",
		"request_id": "req-123",
		"sale_id":    "sale-1",
		"lot_id":     "lot-9",
		"step":       "resume_stuck",
		"error":      "timeout",
		"level":      "error",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Fatalf("%s = %v, want %q", key, entry[key], value)
		}
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatalf("expected stack on error entry")
	}
}

func TestWithFieldDoesNotLeakToParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})
	parent := log.WithOrderID(context.Background(), "order-1")
	_ = log.WithLotID(parent, "lot-1")

	log.Info(parent, "parent only")
	entry := decodeEntry(t, buf)
	if _, ok := entry["lot_id"]; ok {
		t.Fatalf("child field leaked into parent: %v", entry)
	}
	if entry["order_id"] != "order-1" {
		t.Fatalf("missing order_id: %v", entry)
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})
	log.Warn(context.Background(), "quiet")
	if strings.Contains(buf.String(), `"stack"`) {
		t.Fatalf("did not expect stack without WarnStack; entry=%s", buf.String())
	}

	buf.Reset()
	log = New(Options{ServiceName: "test", Output: buf, Format: "json", WarnStack: true})
	log.Warn(context.Background(), "loud")
	if !strings.Contains(buf.String(), `"stack"`) {
		t.Fatalf("expected stack when warn stack enabled; entry=%s", buf.String())
	}
}

func TestDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %s", buf.String())
	}

	log = New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, Format: "json"})
	log.Debug(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug entry")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
