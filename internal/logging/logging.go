// Package logging builds the process logger: logrus formatting into a
// lumberjack rotating file, bridged to the *log.Logger every component takes.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string // empty disables the file sink
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// Logging owns the sinks behind Std; Close flushes and releases them
type Logging struct {
	Logrus *logrus.Logger
	Std    *log.Logger

	file      *lumberjack.Logger
	closeOnce sync.Once
}

// ParseLevel accepts debug, info, warn and error
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New wires the sinks. Extra writers (the console log pane) receive the same
// formatted lines as the file.
func New(opts Options, extra ...io.Writer) (*Logging, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	writers := make([]io.Writer, 0, len(extra)+1)
	var file *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, file)
	}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	return &Logging{
		Logrus: logger,
		Std:    log.New(&levelWriter{logger: logger}, "", 0),
		file:   file,
	}, nil
}

func (l *Logging) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
