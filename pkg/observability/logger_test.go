package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// logLines decodes each JSON line the logger wrote to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatalf("Log line is not valid JSON: %v (line: %s)", err, raw)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestNewLogger(t *testing.T) {
	t.Run("writes JSON lines", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)
		logger.Info("role created")

		lines := logLines(t, &buf)
		if len(lines) != 1 {
			t.Fatalf("Expected 1 log line, got %d", len(lines))
		}
		if msg := lines[0]["msg"]; msg != "role created" {
			t.Errorf("Expected msg %q, got %v", "role created", msg)
		}
		if level := lines[0]["level"]; level != "INFO" {
			t.Errorf("Expected level INFO, got %v", level)
		}
	})

	t.Run("nil output falls back to stdout", func(t *testing.T) {
		logger := NewLogger(InfoLevel, nil)
		if logger == nil {
			t.Fatal("Expected non-nil logger")
		}
	})
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("suppressed")
	logger.Info("suppressed")
	logger.Warn("kept")
	logger.Error("kept")

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines at WarnLevel, got %d", len(lines))
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("Expected WARN then ERROR, got %v then %v", lines[0]["level"], lines[1]["level"])
	}
}

func TestChildLoggerInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf).WithComponent("kv")

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("Expected child logger to keep ErrorLevel, got output: %s", buf.String())
	}
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	child := logger.WithField("tenant_id", "acme")

	child.Info("scoped")
	logger.Info("unscoped")

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["tenant_id"] != "acme" {
		t.Errorf("Expected tenant_id on child line, got %v", lines[0]["tenant_id"])
	}
	if _, ok := lines[1]["tenant_id"]; ok {
		t.Error("Parent logger must not inherit the child's field")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf).WithFields(map[string]interface{}{
		"tenant_id": "acme",
		"role_id":   "editor",
	})
	logger.Info("assignment created")

	lines := logLines(t, &buf)
	if lines[0]["tenant_id"] != "acme" {
		t.Errorf("Expected tenant_id acme, got %v", lines[0]["tenant_id"])
	}
	if lines[0]["role_id"] != "editor" {
		t.Errorf("Expected role_id editor, got %v", lines[0]["role_id"])
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(InfoLevel, &buf).WithComponent("ratelimit").Info("window armed")

	lines := logLines(t, &buf)
	if lines[0]["component"] != "ratelimit" {
		t.Errorf("Expected component ratelimit, got %v", lines[0]["component"])
	}
}

func TestWithError(t *testing.T) {
	t.Run("records the error field", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(InfoLevel, &buf).WithError(errors.New("dial refused")).Error("store unreachable")

		lines := logLines(t, &buf)
		if lines[0]["error"] != "dial refused" {
			t.Errorf("Expected error field, got %v", lines[0]["error"])
		}
	})

	t.Run("nil error returns the receiver", func(t *testing.T) {
		logger := NewLogger(InfoLevel, &bytes.Buffer{})
		if logger.WithError(nil) != logger {
			t.Error("Expected WithError(nil) to return the same logger")
		}
	})
}

func TestFormattedEmitters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Debugf("seeded %d roles", 3)
	logger.Infof("sweep took %s", "40ms")
	logger.Warnf("retry %d", 2)
	logger.Errorf("lost %q", "conn")

	lines := logLines(t, &buf)
	want := []string{`seeded 3 roles`, `sweep took 40ms`, `retry 2`, `lost "conn"`}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d log lines, got %d", len(want), len(lines))
	}
	for i, w := range want {
		if lines[i]["msg"] != w {
			t.Errorf("Line %d: expected msg %q, got %v", i, w, lines[i]["msg"])
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{" warn ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "INFO"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
