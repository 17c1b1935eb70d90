package logging

import (
	"bytes"
	"sync"
)

// LineWriter splits writes into lines and hands each one to a channel
// without blocking; lines are dropped while the reader is behind.
type LineWriter struct {
	mu      sync.Mutex
	pending []byte
	lines   chan string
}

func NewLineWriter(buffer int) *LineWriter {
	return &LineWriter{lines: make(chan string, buffer)}
}

func (w *LineWriter) Lines() <-chan string {
	return w.lines
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := string(w.pending[:i+1])
		w.pending = w.pending[i+1:]
		select {
		case w.lines <- line:
		default:
		}
	}
	return len(p), nil
}
