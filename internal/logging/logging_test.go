package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"INFO", logrus.InfoLevel, false},
		{"", logrus.InfoLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"trace", logrus.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_WritesComponentLinesToFileAndExtras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "walkingpad.log")
	lines := NewLineWriter(8)

	l, err := New(Options{File: path, Level: "info", MaxSizeMB: 1, MaxBackups: 1}, lines)
	require.NoError(t, err)
	defer l.Close()

	l.Std.Printf("Controller: state -> %s", "Ready")

	select {
	case line := <-lines.Lines():
		assert.Contains(t, line, "Controller: state -> Ready")
		assert.Contains(t, line, "level=info")
	case <-time.After(time.Second):
		t.Fatal("no line reached the extra writer")
	}

	assert.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(raw), "Controller: state -> Ready")
	}, time.Second, 10*time.Millisecond)
}

func TestNew_LevelFiltersComponentLines(t *testing.T) {
	lines := NewLineWriter(8)
	l, err := New(Options{Level: "warn"}, lines)
	require.NoError(t, err)
	defer l.Close()

	l.Std.Printf("Scanner: found device")
	l.Logrus.Warn("belt jammed")

	select {
	case line := <-lines.Lines():
		assert.Contains(t, line, "belt jammed")
	case <-time.After(time.Second):
		t.Fatal("warning not written")
	}
	assert.Empty(t, lines.Lines())
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		msg  string
		want logrus.Level
	}{
		{"PANIC: boom", logrus.ErrorLevel},
		{"Poller: Request failed: treadmill is not ready", logrus.WarnLevel},
		{"Controller: Link to C0:FF:EE:00:00:01 lost", logrus.WarnLevel},
		{"Supervisor: Refusing illegal transition Ready -> Scanning", logrus.WarnLevel},
		{"Controller: Data from fe01 (svc fe00): [F8 A2]", logrus.DebugLevel},
		{"Dispatcher: Legacy write [F7 A2 01 01 A4 FD]", logrus.DebugLevel},
		{"Scanner: Starting scan", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFor(tt.msg))
		})
	}
}

func TestNew_ComponentLinesFollowLevel(t *testing.T) {
	lines := NewLineWriter(8)
	l, err := New(Options{Level: "warn"}, lines)
	require.NoError(t, err)
	defer l.Close()

	l.Std.Printf("Controller: Data from fe01: [F8]")
	l.Std.Printf("Scanner: Starting scan")
	l.Std.Printf("Poller: Request failed: %v", "not ready")

	line := <-lines.Lines()
	assert.Contains(t, line, "level=warning")
	assert.Contains(t, line, "Poller: Request failed: not ready")
	assert.Empty(t, lines.Lines())

	debug := NewLineWriter(8)
	d, err := New(Options{Level: "debug"}, debug)
	require.NoError(t, err)
	defer d.Close()

	d.Std.Printf("Controller: Data from fe01: [F8]")
	assert.Contains(t, <-debug.Lines(), "level=debug")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	l, err := New(Options{})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestLineWriter_SplitsAndDropsWhenFull(t *testing.T) {
	w := NewLineWriter(2)
	n, err := w.Write([]byte("one\ntw"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = w.Write([]byte("o\nthree\nfour\n"))

	assert.Equal(t, "one\n", <-w.Lines())
	assert.Equal(t, "two\n", <-w.Lines())
	assert.Empty(t, w.Lines())
}
