package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, env := range []string{"DBCOP_LISTEN_ADDR", "DBCOP_DB_PATH", "DBCOP_LOG_LEVEL", "DBCOP_DELAY"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg := Load(NewViper())

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Delay != 100*time.Millisecond {
		t.Errorf("Delay = %v, want 100ms", cfg.Delay)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DBCOP_LISTEN_ADDR", ":9090")
	t.Setenv("DBCOP_DB_PATH", "/tmp/test.db")
	t.Setenv("DBCOP_LOG_LEVEL", "debug")
	t.Setenv("DBCOP_DELAY", "2s")
	t.Setenv("DBCOP_USER", "test")
	t.Setenv("DBCOP_BOLT_PATH", "/tmp/x.bolt")

	cfg := Load(NewViper())

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", cfg.Delay)
	}
	if cfg.User != "test" {
		t.Errorf("User = %q, want test", cfg.User)
	}
	if cfg.BoltPath != "/tmp/x.bolt" {
		t.Errorf("BoltPath = %q, want /tmp/x.bolt", cfg.BoltPath)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("hello", "history_id", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not a single JSON object: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["history_id"] != float64(3) {
		t.Errorf("history_id = %v, want 3", entry["history_id"])
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNewDriverLogger(t *testing.T) {
	var buf bytes.Buffer
	NewDriverLogger(&buf, slog.LevelDebug).Print("connection reset")
	if !strings.Contains(buf.String(), "connection reset") || !strings.Contains(buf.String(), `"component":"driver"`) {
		t.Errorf("driver log = %q", buf.String())
	}

	buf.Reset()
	NewDriverLogger(&buf, slog.LevelInfo).Print("connection reset")
	if buf.Len() != 0 {
		t.Errorf("driver log at info = %q, want nothing", buf.String())
	}
}

func TestParseClusterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	data := `backend: tdsql
nodes:
  - 10.0.0.1:3306
  - 10.0.0.2:3306
user: test
password: test123
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cf, err := ParseClusterFile(path)
	if err != nil {
		t.Fatalf("ParseClusterFile: %v", err)
	}
	if cf.Backend != "tdsql" {
		t.Errorf("Backend = %q, want tdsql", cf.Backend)
	}
	if len(cf.Nodes) != 2 || cf.Nodes[1] != "10.0.0.2:3306" {
		t.Errorf("Nodes = %v", cf.Nodes)
	}
	if cf.User != "test" || cf.Password != "test123" {
		t.Errorf("credentials = %q/%q", cf.User, cf.Password)
	}
}

func TestParseClusterFileErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing-backend.yaml": "nodes: [a:1]\n",
		"no-nodes.yaml":        "backend: mysql\n",
		"invalid.yaml":         "backend: [\n",
	}
	for name, data := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ParseClusterFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ParseClusterFile(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("absent file: expected error")
	}
}
