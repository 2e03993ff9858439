package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	Info("hidden line")
	Warn("shown line", "k", 1)
	Error("failure", errors.New("boom"), "id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden line") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown line") || !strings.Contains(out, "k=1") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "err=boom") || !strings.Contains(out, "id=abc") {
		t.Errorf("error line should carry err and kv: %q", out)
	}
}
