package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFormatsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "Scanner")
	l.Info("hypothesis selected", "columns", 4, "quality", 1.5, "dangling")

	out := buf.String()
	for _, want := range []string{"[Scanner] ", "[INFO] hypothesis selected", " columns=4", " quality=1.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "dangling") {
		t.Fatalf("odd trailing key should be dropped: %q", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "x")
	l.SetLevel(LevelWarn)

	l.Debug("d")
	l.Info("i")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	l.Warn("w")
	l.Error("e")
	if !strings.Contains(buf.String(), "[WARN] w") || !strings.Contains(buf.String(), "[ERROR] e") {
		t.Fatalf("missing warn/error lines: %q", buf.String())
	}
}

func TestWithExtendsPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "Worker").With("ocr")
	l.Warn("unavailable")
	if !strings.Contains(buf.String(), "[Worker/ocr] ") {
		t.Fatalf("unexpected prefix: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
