package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ReasoningLogger persists streamed reasoning to daily files under its
// directory. Reasoning chunks are display-only during a turn and never
// land in conversation history, so these files are the only place they
// survive a run. Files rotate by calendar day as reasoning-YYYY-MM-DD.log.
type ReasoningLogger struct {
	dir string

	mu   sync.Mutex
	file *os.File
	path string
	day  string
}

// NewReasoningLogger opens today's reasoning log under dir, creating the
// directory if needed.
func NewReasoningLogger(dir string) (*ReasoningLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create reasoning log dir: %w", err)
	}
	l := &ReasoningLogger{dir: dir}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openToday(); err != nil {
		return nil, err
	}
	return l, nil
}

// LogTurn appends one turn's accumulated reasoning as a headed block.
func (l *ReasoningLogger) LogTurn(model, runID, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if day := time.Now().Format("2006-01-02"); day != l.day {
		if err := l.openToday(); err != nil {
			return err
		}
	}
	if l.file == nil {
		return nil
	}

	header := fmt.Sprintf("=== %s model=%s run=%s ===\n", time.Now().Format("15:04:05"), model, runID)
	if _, err := l.file.WriteString(header); err != nil {
		return err
	}
	_, err := fmt.Fprintf(l.file, "%s\n\n", content)
	return err
}

// Path returns the file currently being written.
func (l *ReasoningLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *ReasoningLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// openToday swaps the handle to the current day's file. Caller holds mu.
func (l *ReasoningLogger) openToday() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.day = time.Now().Format("2006-01-02")
	l.path = filepath.Join(l.dir, "reasoning-"+l.day+".log")
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open reasoning log: %w", err)
	}
	l.file = file
	return nil
}
