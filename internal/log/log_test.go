package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitStderrLevels(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		interactive bool
		wantDebug   bool
	}{
		{"default hides debug", false, false, false},
		{"verbose shows debug", true, false, true},
		{"interactive suppresses debug even when verbose", true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Init(Options{Verbose: tt.verbose, Interactive: tt.interactive, Stderr: &buf}); err != nil {
				t.Fatalf("Init: %v", err)
			}
			Debug("debug message")
			Warn("warn message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v (output: %q)", got, tt.wantDebug, out)
			}
			if !strings.Contains(out, "warn message") {
				t.Errorf("warn message missing from output: %q", out)
			}
		})
	}
}

func TestInitFileHandlerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := Init(Options{DebugDir: dir, Stderr: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Info("file test", "key", "value")

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading debug file: %v", err)
	}

	var record map[string]any
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("debug file is not JSON lines: %v", err)
	}
	if record["msg"] != "file test" {
		t.Errorf("msg = %v, want %q", record["msg"], "file test")
	}
	if record["key"] != "value" {
		t.Errorf("key attr = %v, want %q", record["key"], "value")
	}
}

func TestSetTaskIDCorrelatesRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetTaskID("task_abc123def456")

	Info("correlated")

	if !strings.Contains(buf.String(), "task_abc123def456") {
		t.Errorf("expected task_id attr in output, got %q", buf.String())
	}
}
