package debuglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// capture sets up logging into a temp file and returns a func that closes
// the log and yields its lines.
func capture(t *testing.T, level LogLevel) func() []string {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "pollsync.log")
	if err := Setup(level, logPath); err != nil {
		t.Fatalf("Setup(%v): %v", level, err)
	}
	t.Cleanup(func() { _ = Close() })

	return func() []string {
		t.Helper()
		if err := Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatal(err)
		}
		var lines []string
		for _, line := range strings.Split(string(content), "\n") {
			if line != "" {
				lines = append(lines, line)
			}
		}
		return lines
	}
}

// levelOf returns the logrus level field of a text-formatted line.
func levelOf(line string) string {
	for _, field := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(field, "level="); ok {
			return v
		}
	}
	return ""
}

func TestLevelMapping(t *testing.T) {
	tests := []struct {
		level LogLevel
		name  string
		lr    logrus.Level
	}{
		{LevelDebug, "DEBUG", logrus.DebugLevel},
		{LevelInfo, "INFO", logrus.InfoLevel},
		{LevelWarn, "WARN", logrus.WarnLevel},
		{LevelError, "ERROR", logrus.ErrorLevel},
		{LevelOff, "OFF", logrus.PanicLevel},
		{LogLevel(42), "UNKNOWN", logrus.InfoLevel},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.name {
			t.Errorf("%d.String() = %q, want %q", tt.level, got, tt.name)
		}
		if got := tt.level.logrusLevel(); got != tt.lr {
			t.Errorf("%s maps to logrus %v, want %v", tt.name, got, tt.lr)
		}
	}
}

func TestParseLogLevel_RoundTrips(t *testing.T) {
	for _, level := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelOff} {
		if got := ParseLogLevel(strings.ToLower(level.String())); got != level {
			t.Errorf("ParseLogLevel(%q) = %v", level.String(), got)
		}
	}
	for in, want := range map[string]LogLevel{" warning ": LevelWarn, "bogus": LevelInfo, "": LevelInfo} {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LevelDebug, []string{"debug", "info", "warning", "error"}},
		{LevelInfo, []string{"info", "warning", "error"}},
		{LevelWarn, []string{"warning", "error"}},
		{LevelError, []string{"error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			read := capture(t, tt.level)
			if GetLevel() != tt.level {
				t.Errorf("GetLevel() = %v, want %v", GetLevel(), tt.level)
			}

			Debugf("drain %d", 1)
			Infof("drain %d", 2)
			Warnf("drain %d", 3)
			Errorf("drain %d", 4)

			var got []string
			for _, line := range read() {
				got = append(got, levelOf(line))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("levels written = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetupWithLevelOffStopsWriting(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "off.log")
	if err := Setup(LevelInfo, logPath); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Infof("before off")

	if err := Setup(LevelOff); err != nil {
		t.Fatalf("Setup with LevelOff failed: %v", err)
	}
	if GetLevel() != LevelOff {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelOff)
	}
	Errorf("after off")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "before off") {
		t.Error("message logged before OFF is missing")
	}
	if strings.Contains(string(content), "after off") {
		t.Error("message logged after OFF was written")
	}
}

func TestSetup_UnwritablePath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "pollsync.log")
	if err := Setup(LevelInfo, missing); err == nil {
		t.Fatal("expected an error for a log file in a missing directory")
	}
	t.Cleanup(func() { _ = Close() })

	// the logger falls back to discarding instead of failing later calls
	Errorf("dropped")
}

func TestModuleTagsComponent(t *testing.T) {
	read := capture(t, LevelDebug)

	Module("queue").WithField("item", "q_1").Info("item sent")

	lines := read()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), lines)
	}
	for _, want := range []string{"module=pollsync.queue", "item=q_1", `msg="item sent"`, "level=info"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("log line missing %q: %s", want, lines[0])
		}
	}
}

func TestModuleFollowsLevelChanges(t *testing.T) {
	read := capture(t, LevelInfo)
	log := Module("netstate")

	log.Debug("probe scheduled")
	SetLevel(LevelDebug)
	log.Debug("probe sent")
	SetLevel(LevelError)
	log.Warn("probe failed")

	lines := read()
	if len(lines) != 1 || !strings.Contains(lines[0], "probe sent") {
		t.Errorf("expected only the debug line logged at DEBUG, got %q", lines)
	}
	if GetLevel() != LevelError {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelError)
	}
}

func TestWithFields(t *testing.T) {
	read := capture(t, LevelWarn)

	logger := WithFields(map[string]any{
		"item":     "q_7",
		"attempts": 3,
	})
	logger.Infof("retry scheduled")
	logger.Warnf("retry %s", "failed")

	lines := read()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), lines)
	}
	line := lines[0]
	if levelOf(line) != "warning" {
		t.Errorf("level = %q, want warning", levelOf(line))
	}
	for _, want := range []string{"item=q_7", "attempts=3", `msg="retry failed"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}
