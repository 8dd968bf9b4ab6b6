package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.Disabled,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetupJSON(t *testing.T) {
	defer Setup(os.Stderr, FormatConsole)

	var buf bytes.Buffer
	if err := Setup(&buf, "JSON"); err != nil {
		t.Fatal(err)
	}
	Log.Info().Str("session", "s1").Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if entry["message"] != "hello" || entry["session"] != "s1" || entry["level"] != "info" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestSetupConsole(t *testing.T) {
	defer Setup(os.Stderr, FormatConsole)

	var buf bytes.Buffer
	if err := Setup(&buf, ""); err != nil {
		t.Fatal(err)
	}
	Log.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console output = %q", buf.String())
	}

	if err := Setup(&buf, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
