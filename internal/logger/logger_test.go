package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quotegate/internal/models"
	"quotegate/internal/version"
)

var testVersion = version.Info{
	Version:    "1.2.3",
	GitCommit:  "abc1234",
	BuildDate:  "2026-02-21T10:00:00Z",
	InstanceID: "instance-1",
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "uppercase", input: "DEBUG", expected: slog.LevelDebug},
		{name: "invalid", input: "invalid", expectErr: true},
		{name: "empty", input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestNewJSONCarriesBuildFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelInfo, testVersion)

	Component(logger, "quotes").Info("Quote cached", "quote_id", 5)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}

	want := map[string]any{
		"msg":         "Quote cached",
		"version":     "1.2.3",
		"git_commit":  "abc1234",
		"build_date":  "2026-02-21T10:00:00Z",
		"instance_id": "instance-1",
		"component":   "quotes",
		"quote_id":    float64(5),
	}
	for key, value := range want {
		if record[key] != value {
			t.Errorf("record[%q] = %v, want %v", key, record[key], value)
		}
	}
}

func TestNewTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "text", slog.LevelWarn, testVersion)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text record, got %q", out)
	}
}

func TestSetupStdout(t *testing.T) {
	cfg := models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}

	logger, closer, err := Setup(cfg, testVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer != nil {
		t.Error("expected nil closer for stdout")
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestSetupFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotegate.log")
	cfg := models.LoggingConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}

	logger, closer, err := Setup(cfg, testVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer == nil {
		t.Fatal("expected closer for file output")
	}

	logger.Debug("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.LoggingConfig
	}{
		{name: "bad level", cfg: models.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"}},
		{name: "file without path", cfg: models.LoggingConfig{Level: "info", Format: "json", Output: "file"}},
		{name: "unwritable file", cfg: models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Setup(tt.cfg, testVersion); err == nil {
				t.Error("expected error")
			}
		})
	}
}
