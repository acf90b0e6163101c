package local

import (
	"bytes"
	"sync"

	"github.com/Iron-Ham/roombot/internal/logging"
)

const maxPartialLine = 64 * 1024

// outputWriter receives a worker's stdout or stderr. Every write counts as
// activity for the watchdog, and complete lines are logged at debug level.
type outputWriter struct {
	mu       sync.Mutex
	stream   string
	logger   *logging.Logger
	activity func()
	partial  []byte
	lastLine string
}

func newOutputWriter(stream string, logger *logging.Logger, activity func()) *outputWriter {
	return &outputWriter{stream: stream, logger: logger, activity: activity}
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.activity != nil {
		w.activity()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > maxPartialLine {
		w.emit(w.partial)
		w.partial = nil
	}
	return len(p), nil
}

// flush logs any trailing output that was not newline terminated.
func (w *outputWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *outputWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.lastLine = string(line)
	w.logger.Debug("worker output", "stream", w.stream, "line", w.lastLine)
}

func (w *outputWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLine
}
