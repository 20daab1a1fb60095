package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		runID   string
		wantErr bool
	}{
		{
			name:    "valid directory and run ID",
			baseDir: t.TempDir(),
			runID:   "run-123",
			wantErr: false,
		},
		{
			name:    "creates directories if not exist",
			baseDir: filepath.Join(t.TempDir(), "nested", "path"),
			runID:   "run-456",
			wantErr: false,
		},
		{
			name:    "empty run ID",
			baseDir: t.TempDir(),
			runID:   "",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, tt.runID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer logger.Close()

			if logger.runID != tt.runID {
				t.Errorf("runID = %v, want %v", logger.runID, tt.runID)
			}
			if logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", logger.minLevel, LevelInfo)
			}

			runsDir := filepath.Join(tt.baseDir, "runs")
			if _, err := os.Stat(runsDir); os.IsNotExist(err) {
				t.Errorf("runs directory not created")
			}

			runFile := filepath.Join(runsDir, tt.runID+".jsonl")
			if _, err := os.Stat(runFile); os.IsNotExist(err) {
				t.Errorf("run log file not created")
			}

			errorFile := filepath.Join(tt.baseDir, "errors.jsonl")
			if _, err := os.Stat(errorFile); os.IsNotExist(err) {
				t.Errorf("errors.jsonl not created")
			}

			costFile := filepath.Join(tt.baseDir, "costs.jsonl")
			if _, err := os.Stat(costFile); os.IsNotExist(err) {
				t.Errorf("costs.jsonl not created")
			}
		})
	}
}

func TestNewLoggerInvalidDirectory(t *testing.T) {
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "file-not-dir")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, err := NewLogger(filePath, "run-1")
	if err == nil {
		t.Fatal("expected error when baseDir is a file, got nil")
	}
}

func TestLogEvent(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-1"
	logger, err := NewLogger(baseDir, runID)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	event := Event{
		Level:     LevelInfo,
		Category:  CategoryBackend,
		EventType: "stream_started",
		Message:   "test message",
		Details: map[string]any{
			"model": "big-model",
			"count": 42,
		},
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", runID+".jsonl")
	events, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	logged := events[0]
	if logged.Level != event.Level {
		t.Errorf("Level = %v, want %v", logged.Level, event.Level)
	}
	if logged.Category != event.Category {
		t.Errorf("Category = %v, want %v", logged.Category, event.Category)
	}
	if logged.EventType != event.EventType {
		t.Errorf("EventType = %v, want %v", logged.EventType, event.EventType)
	}
	if logged.Message != event.Message {
		t.Errorf("Message = %v, want %v", logged.Message, event.Message)
	}
	if logged.RunID != runID {
		t.Errorf("RunID = %v, want %v", logged.RunID, runID)
	}
}

func TestLogEventWithTimestamp(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	before := time.Now()
	event := Event{
		Level:     LevelInfo,
		Category:  CategoryBackend,
		EventType: "timestamp_test",
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}
	after := time.Now()

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	logged := events[0]
	if logged.Timestamp.IsZero() {
		t.Error("Timestamp should be set automatically")
	}
	if logged.Timestamp.Before(before) || logged.Timestamp.After(after) {
		t.Errorf("Timestamp %v not in expected range [%v, %v]", logged.Timestamp, before, after)
	}
}

func TestLogErrorEvent(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-1"
	logger, err := NewLogger(baseDir, runID)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	event := Event{
		Level:     LevelError,
		Category:  CategoryBackend,
		EventType: "stream_error",
		Message:   "something went wrong",
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", runID+".jsonl")
	runEvents, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents (run) failed: %v", err)
	}
	if len(runEvents) != 1 {
		t.Errorf("expected 1 event in run log, got %d", len(runEvents))
	}

	errorFile := filepath.Join(baseDir, "errors.jsonl")
	errorEvents, err := ReadRecentEvents(errorFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents (error) failed: %v", err)
	}
	if len(errorEvents) != 1 {
		t.Errorf("expected 1 event in error log, got %d", len(errorEvents))
	}

	if errorEvents[0].Message != event.Message {
		t.Errorf("error log message = %v, want %v", errorEvents[0].Message, event.Message)
	}
}

func TestLogCostEvent(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-1"
	logger, err := NewLogger(baseDir, runID)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	event := Event{
		Level:     LevelInfo,
		Category:  CategoryCost,
		EventType: "turn_cost",
		Message:   "API call cost",
		Details: map[string]any{
			"cost": 0.0042,
		},
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}

	costFile := filepath.Join(baseDir, "costs.jsonl")
	costEvents, err := ReadRecentEvents(costFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents (cost) failed: %v", err)
	}
	if len(costEvents) != 1 {
		t.Errorf("expected 1 event in cost log, got %d", len(costEvents))
	}

	if costEvents[0].Category != CategoryCost {
		t.Errorf("cost log category = %v, want %v", costEvents[0].Category, CategoryCost)
	}
}

func TestSetMinLevel(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	// Default level is Info, so Debug should be filtered
	logger.Log(Event{
		Level:     LevelDebug,
		Category:  CategoryBackend,
		EventType: "debug_event",
	})

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, _ := ReadRecentEvents(runFile, 10)
	if len(events) != 0 {
		t.Errorf("expected 0 events (debug filtered), got %d", len(events))
	}

	logger.SetMinLevel(LevelDebug)

	logger.Log(Event{
		Level:     LevelDebug,
		Category:  CategoryBackend,
		EventType: "debug_event_2",
	})

	events, _ = ReadRecentEvents(runFile, 10)
	if len(events) != 1 {
		t.Errorf("expected 1 event after SetMinLevel(Debug), got %d", len(events))
	}

	logger.SetMinLevel(LevelError)

	logger.Log(Event{
		Level:     LevelInfo,
		Category:  CategoryBackend,
		EventType: "info_event",
	})

	events, _ = ReadRecentEvents(runFile, 10)
	if len(events) != 1 {
		t.Errorf("expected 1 event (info filtered), got %d", len(events))
	}

	logger.Log(Event{
		Level:     LevelError,
		Category:  CategoryBackend,
		EventType: "error_event",
	})

	events, _ = ReadRecentEvents(runFile, 10)
	if len(events) != 2 {
		t.Errorf("expected 2 events (error logged), got %d", len(events))
	}
}

func TestShouldLog(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	tests := []struct {
		name      string
		minLevel  Level
		logLevel  Level
		shouldLog bool
	}{
		{"debug level allows debug", LevelDebug, LevelDebug, true},
		{"debug level allows error", LevelDebug, LevelError, true},
		{"info level blocks debug", LevelInfo, LevelDebug, false},
		{"info level allows info", LevelInfo, LevelInfo, true},
		{"warn level blocks info", LevelWarn, LevelInfo, false},
		{"warn level allows warn", LevelWarn, LevelWarn, true},
		{"error level blocks warn", LevelError, LevelWarn, false},
		{"error level allows error", LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger.SetMinLevel(tt.minLevel)
			result := logger.shouldLog(tt.logLevel)
			if result != tt.shouldLog {
				t.Errorf("shouldLog(%v) with minLevel %v = %v, want %v",
					tt.logLevel, tt.minLevel, result, tt.shouldLog)
			}
		})
	}
}

func TestHelperMethods(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.SetMinLevel(LevelDebug)

	if err := logger.Debug(CategoryTool, "debug_type", "debug msg", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Debug() failed: %v", err)
	}
	if err := logger.Info(CategoryTurn, "info_type", "info msg", nil); err != nil {
		t.Fatalf("Info() failed: %v", err)
	}
	if err := logger.Warn(CategoryApproval, "warn_type", "warn msg", nil); err != nil {
		t.Fatalf("Warn() failed: %v", err)
	}
	if err := logger.Error(CategoryConversation, "error_type", "error msg", nil); err != nil {
		t.Fatalf("Error() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	wantLevels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	wantCategories := []Category{CategoryTool, CategoryTurn, CategoryApproval, CategoryConversation}
	for i, event := range events {
		if event.Level != wantLevels[i] {
			t.Errorf("event %d Level = %v, want %v", i, event.Level, wantLevels[i])
		}
		if event.Category != wantCategories[i] {
			t.Errorf("event %d Category = %v, want %v", i, event.Category, wantCategories[i])
		}
	}
}

func TestSetConversationID(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.SetConversationID(7)

	if err := logger.Info(CategoryTurn, "test", "test", nil); err != nil {
		t.Fatalf("Info() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if events[0].ConversationID != 7 {
		t.Errorf("ConversationID = %v, want 7", events[0].ConversationID)
	}
}

func TestEventWithExplicitIDs(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "default-run")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	logger.SetConversationID(1)

	event := Event{
		Level:          LevelInfo,
		Category:       CategoryBackend,
		EventType:      "test",
		RunID:          "explicit-run",
		ConversationID: 9,
	}

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", "default-run.jsonl")
	events, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	logged := events[0]
	if logged.RunID != "explicit-run" {
		t.Errorf("RunID = %v, want explicit-run", logged.RunID)
	}
	if logged.ConversationID != 9 {
		t.Errorf("ConversationID = %v, want 9", logged.ConversationID)
	}
}

func TestClose(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info(CategoryBackend, "test", "test", nil)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 1)
	if err != nil {
		t.Fatalf("ReadRecentEvents after Close() failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event after Close(), got %d", len(events))
	}
}

func TestReadRecentEvents(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 10; i++ {
		logger.Info(CategoryBackend, "test", "message", map[string]any{
			"index": i,
		})
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")

	tests := []struct {
		name      string
		count     int
		wantCount int
	}{
		{"read last 5", 5, 5},
		{"read last 10", 10, 10},
		{"read more than exist", 20, 10},
		{"read 1", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ReadRecentEvents(runFile, tt.count)
			if err != nil {
				t.Fatalf("ReadRecentEvents failed: %v", err)
			}
			if len(events) != tt.wantCount {
				t.Errorf("got %d events, want %d", len(events), tt.wantCount)
			}
		})
	}
}

func TestReadRecentEventsNonexistent(t *testing.T) {
	_, err := ReadRecentEvents("/nonexistent/path/file.jsonl", 10)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestReadRecentEventsOrder(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 5; i++ {
		logger.Info(CategoryBackend, "test", "", map[string]any{
			"seq": float64(i),
		})
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 5)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	for i, event := range events {
		seq, ok := event.Details["seq"]
		if !ok {
			t.Fatalf("event %d missing seq in Details", i)
		}
		seqFloat, ok := seq.(float64)
		if !ok {
			t.Fatalf("event %d seq is not float64: %T", i, seq)
		}
		if int(seqFloat) != i {
			t.Errorf("event %d has seq=%v, want %d", i, seqFloat, i)
		}
	}
}

func TestConcurrentWrites(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				logger.Info(CategoryBackend, "concurrent", "", map[string]any{
					"goroutine": id,
					"iteration": j,
				})
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	events, err := ReadRecentEvents(runFile, 200)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}

	if len(events) != 100 {
		t.Errorf("expected 100 events, got %d", len(events))
	}
}

func TestJSONLFormat(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 3; i++ {
		logger.Info(CategoryBackend, "test", "", nil)
	}

	runFile := filepath.Join(baseDir, "runs", "run-1.jsonl")
	data, err := os.ReadFile(runFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	file, err := os.Open(runFile)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()

	lines := 0
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		lines++
	}

	if lines != 3 {
		t.Errorf("expected 3 valid JSON lines, got %d", lines)
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		t.Error("JSONL file should end with newline")
	}
}
