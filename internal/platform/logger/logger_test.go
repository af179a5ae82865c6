package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelsGoToTheirWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	l := New(&out, &errOut)

	l.Info("hello")
	l.Warnf("unit %s waiting", "B1")
	l.Errorf("boom: %d", 42)
	l.Event("UNIT_MOVED", "B1", "(0,0)->(1,0)")

	if !strings.Contains(out.String(), "[COA-INFO] ") || !strings.Contains(out.String(), "hello") {
		t.Errorf("info line missing: %q", out.String())
	}
	if !strings.Contains(out.String(), "[COA-WARN] ") || !strings.Contains(out.String(), "unit B1 waiting") {
		t.Errorf("warn line missing: %q", out.String())
	}
	if !strings.Contains(out.String(), "[EVENT:UNIT_MOVED] Actor:B1 | (0,0)->(1,0)") {
		t.Errorf("event line missing: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "[COA-ERROR] ") || !strings.Contains(errOut.String(), "boom: 42") {
		t.Errorf("error line missing: %q", errOut.String())
	}
	if strings.Contains(out.String(), "boom") {
		t.Errorf("errors must not go to the info writer")
	}
	// Lshortfile should point at the caller, not at logger.go.
	if !strings.Contains(out.String(), "logger_test.go") {
		t.Errorf("expected caller file in output: %q", out.String())
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "coa.log")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Info("persisted")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Errorf("log file = %q", data)
	}
}

func TestDiscardCloseIsNoop(t *testing.T) {
	if err := Discard().Close(); err != nil {
		t.Errorf("Close on non-file logger: %v", err)
	}
}
