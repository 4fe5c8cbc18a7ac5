package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	mu.RLock()
	prev := baseLogger
	mu.RUnlock()
	prevLevel := zerolog.GlobalLevel()
	prevTerm := isTerminalFn
	t.Cleanup(func() {
		mu.Lock()
		baseLogger = prev
		log.Logger = prev
		mu.Unlock()
		zerolog.SetGlobalLevel(prevLevel)
		isTerminalFn = prevTerm
	})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var event map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &event); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return event
}

func TestInitJSONStampsComponent(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	if err := Init(Config{Format: FormatJSON, Level: "debug", Component: "control-plane", Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("global level = %s, want debug", zerolog.GlobalLevel())
	}

	log.Debug().Str("subdomain", "acme").Msg("checked")
	event := decodeLine(t, &buf)
	if event["component"] != "control-plane" || event["subdomain"] != "acme" || event["level"] != "debug" {
		t.Fatalf("event = %v", event)
	}
}

func TestInitRejectsUnknownSettings(t *testing.T) {
	restoreGlobals(t)

	if err := Init(Config{Level: "verbose"}); err == nil {
		t.Fatal("expected unknown level to fail")
	}
	if err := Init(Config{Format: "xml"}); err == nil {
		t.Fatal("expected unknown format to fail")
	}
}

func TestSelectWriter(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	w, err := selectWriter(FormatConsole, &buf)
	if err != nil {
		t.Fatalf("selectWriter console: %v", err)
	}
	if _, ok := w.(zerolog.ConsoleWriter); !ok {
		t.Fatalf("console format gave %T", w)
	}

	// Non-file writers are never terminals.
	if w, _ := selectWriter(FormatAuto, &buf); w != &buf {
		t.Fatalf("auto format on a buffer gave %T", w)
	}

	isTerminalFn = func(int) bool { return true }
	if w, _ := selectWriter(FormatAuto, os.Stderr); w == os.Stderr {
		t.Fatal("auto format on a terminal should use the console writer")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warning": zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Error("ParseLevel(bogus) should fail")
	}
}

func TestWithRequestID(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "   ")
	if id == "" {
		t.Fatal("expected generated request id")
	}
	if got := RequestIDFromContext(ctx); got != id {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, id)
	}

	ctx, id = WithRequestID(nil, "  req-123 ") //nolint:staticcheck // nil context is handled
	if id != "req-123" || RequestIDFromContext(ctx) != "req-123" {
		t.Fatalf("id = %q", id)
	}
}

func TestFromContextAttachesScopedFields(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	if err := Init(Config{Format: FormatJSON, Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, _ := WithRequestID(context.Background(), "req-abc")
	ctx = WithSignupSession(ctx, "01JSESSION")
	ctx = WithTenant(ctx, "  ")
	FromContext(ctx).Info().Msg("hello")

	event := decodeLine(t, &buf)
	if event["request_id"] != "req-abc" || event["signup_session_id"] != "01JSESSION" {
		t.Fatalf("event = %v", event)
	}
	if _, ok := event["tenant_id"]; ok {
		t.Fatal("blank tenant id should not be attached")
	}

	buf.Reset()
	FromContext(nil).Info().Msg("bare") //nolint:staticcheck // nil context is handled
	if event := decodeLine(t, &buf); event["message"] != "bare" {
		t.Fatalf("event = %v", event)
	}
}
