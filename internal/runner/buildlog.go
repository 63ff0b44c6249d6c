package runner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/farbot/farbot/internal/logging"
)

// BuildLog is the per-runner log file. Tool output and narrative progress
// lines both land in it.
type BuildLog struct {
	Path   string
	Logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// OpenBuildLog truncates or creates the log at path.
func OpenBuildLog(path string) (*BuildLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}
	log := &BuildLog{Path: path, file: file}
	log.Logger = logging.NewNarrative(log)
	return log, nil
}

func (l *BuildLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, os.ErrClosed
	}
	return l.file.Write(p)
}

// Close is safe to call more than once.
func (l *BuildLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

func (l *BuildLog) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
