package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// levelWriter turns plain "Component: message" lines into logrus entries,
// picking the level from the message
type levelWriter struct {
	logger *logrus.Logger
}

var (
	errorMarkers = []string{"PANIC"}
	warnMarkers  = []string{"failed", "error", "timeout", "lost", "refusing", "cancelled", "not supported"}
	debugMarkers = []string{"Data from", ": Read ", "Char ", "Reply on", "Write [", "write ["}
)

func (w *levelWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Log(LevelFor(msg), msg)
	return len(p), nil
}

// LevelFor classifies a component log line: panics are errors, failures
// are warnings, raw traffic is debug and everything else is info
func LevelFor(msg string) logrus.Level {
	if containsAny(msg, errorMarkers) {
		return logrus.ErrorLevel
	}
	if containsAny(strings.ToLower(msg), warnMarkers) {
		return logrus.WarnLevel
	}
	if containsAny(msg, debugMarkers) {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
