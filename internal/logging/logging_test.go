package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING") != slog.LevelWarn {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("hidden")
	Component(logger, "engine").Warn("shown", "session_id", "s1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered")
	}
	if !strings.Contains(out, `"component":"engine"`) || !strings.Contains(out, `"service":"faceguard"`) {
		t.Fatalf("missing attributes: %s", out)
	}
}

func TestComponentNil(t *testing.T) {
	if Component(nil, "x") != nil {
		t.Fatalf("expected nil logger to stay nil")
	}
}
