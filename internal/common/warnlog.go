package common

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// WarnLog records non-fatal failures both to the structured logger and to a
// persistent append-only log file, so a long batch leaves an auditable trail
// of every identifier it gave up on. A nil WarnLog logs to slog only.
type WarnLog struct {
	mu   sync.Mutex
	path string
}

// NewWarnLog creates a warning log backed by the given file. The file is
// created on first write.
func NewWarnLog(path string) *WarnLog {
	return &WarnLog{path: path}
}

// Warn reports a warning with the originating operation and the input it was
// processing when the failure occurred.
func (w *WarnLog) Warn(msg, origin, load string) {
	slog.Warn(msg, "origin", origin, "load", load)
	if w == nil || w.path == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		slog.Error("Failed to open warning log", "path", w.path, "error", err)
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Error("Failed to close warning log", "path", w.path, "error", cerr)
		}
	}()

	line := fmt.Sprintf("%s; Origin: %s; Load: %s; Time: %s\n",
		msg, origin, load, time.Now().Format("2006-01-02 15:04:05"))
	if _, err := f.WriteString(line); err != nil {
		slog.Error("Failed to append to warning log", "path", w.path, "error", err)
	}
}
