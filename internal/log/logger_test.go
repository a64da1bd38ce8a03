// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupBuffer(t *testing.T, opts Options) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	opts.Output = &buf
	if err := Setup(opts); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() {
		Setup(Options{Level: LevelInfo})
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   LogLevel
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"Warning", LevelWarn, true},
		{"warn", LevelWarn, true},
		{"error", LevelError, true},
		{"fatal", LevelFatal, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := setupBuffer(t, Options{Level: LevelWarn})

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	for _, hidden := range []string{"debug 1", "info 2"} {
		if strings.Contains(out, hidden) {
			t.Errorf("output contains %q below the level:\n%s", hidden, out)
		}
	}
	for _, shown := range []string{"warn 3", "error 4"} {
		if !strings.Contains(out, shown) {
			t.Errorf("output missing %q:\n%s", shown, out)
		}
	}

	SetLevel(LevelDebug)
	if GetLevel() != LevelDebug {
		t.Fatalf("GetLevel = %v after SetLevel(Debug)", GetLevel())
	}
	Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("debug message missing after lowering the level")
	}
}

func TestJSONFormat(t *testing.T) {
	buf := setupBuffer(t, Options{Level: LevelInfo, Format: "json"})
	Infof("hello %s", "world")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf)
	}
	if rec["msg"] != "hello world" || rec["level"] != "INFO" {
		t.Errorf("record = %v", rec)
	}
}

func TestUnknownFormat(t *testing.T) {
	if err := Setup(Options{Format: "xml"}); err == nil {
		t.Error("Setup accepted an unknown format")
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvrec.log")
	setupBuffer(t, Options{Level: LevelInfo, File: path, MaxSizeMB: 1})

	Infof("to the file")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "to the file") {
		t.Errorf("log file = %q", b)
	}
}

func TestFatalfExits(t *testing.T) {
	buf := setupBuffer(t, Options{Level: LevelError})
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	Fatalf("boom")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("fatal message not logged")
	}
}

func TestLevelString(t *testing.T) {
	if LevelWarn.String() != "WARN" || LogLevel(99).String() != "UNKNOWN" {
		t.Error("unexpected LogLevel strings")
	}
}
