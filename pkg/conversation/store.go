package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/errors"
)

const (
	metadataFileName = "metadata.json"
	logFilePrefix    = "conversation_"
	logFileSuffix    = ".jsonl"

	// Message lines can carry base64 image payloads, so the scanner buffer
	// has to go well past bufio's 64KB default.
	maxLineBytes = 64 * 1024 * 1024
)

// Store reads and writes conversation files under a single directory.
// Appends reopen the file per message so a crash never leaves a handle
// holding buffered lines; at worst the final line is torn and the loader
// drops it.
type Store struct {
	dir string
}

// NewStore creates the conversations directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreWrite, "creating conversations directory")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the conversations directory.
func (s *Store) Dir() string {
	return s.dir
}

// LogPath returns the JSONL file for a conversation id.
func (s *Store) LogPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", logFilePrefix, id, logFileSuffix))
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dir, metadataFileName)
}

// AppendMessage serializes the message as one line and appends it to the
// conversation log. The line and its newline go out in a single write.
func (s *Store) AppendMessage(id int64, msg backend.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "encoding message").
			WithContext("conversation_id", id)
	}
	f, err := os.OpenFile(s.LogPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "opening conversation log").
			WithContext("conversation_id", id)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "appending message").
			WithContext("conversation_id", id)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "closing conversation log").
			WithContext("conversation_id", id)
	}
	return nil
}

// LoadMessages reads a conversation log line by line. Empty lines are
// skipped and lines that fail to parse are dropped, so a torn tail from a
// crash costs at most the final message. A missing file is an empty history.
func (s *Store) LoadMessages(id int64) ([]backend.Message, error) {
	f, err := os.Open(s.LogPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "opening conversation log").
			WithContext("conversation_id", id)
	}
	defer f.Close()

	var messages []backend.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg backend.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return messages, errors.Wrap(err, errors.ErrCodeStoreRead, "reading conversation log").
			WithContext("conversation_id", id)
	}
	return messages, nil
}

// Remove deletes a conversation log. A missing file is not an error.
func (s *Store) Remove(id int64) error {
	if err := os.Remove(s.LogPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "removing conversation log").
			WithContext("conversation_id", id)
	}
	return nil
}

// LoadIndex reads metadata.json. A missing file yields an empty index with
// NextID 1.
func (s *Store) LoadIndex() (Index, error) {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Index{NextID: 1}, nil
		}
		return Index{}, errors.Wrap(err, errors.ErrCodeStoreRead, "reading metadata")
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, errors.Wrap(err, errors.ErrCodeStoreCorrupt, "parsing metadata")
	}
	if idx.NextID < 1 {
		idx.NextID = 1
	}
	return idx, nil
}

// SaveIndex rewrites metadata.json in full, through a temp file and rename
// so a crash mid-write cannot lose next_id.
func (s *Store) SaveIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "encoding metadata")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, metadataFileName+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "creating metadata temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "writing metadata")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "closing metadata temp file")
	}
	if err := os.Rename(tmp.Name(), s.metadataPath()); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "replacing metadata")
	}
	return nil
}

// RecoverNextID scans the log files on disk and returns one past the highest
// conversation id found. Used when metadata.json is unreadable, so a fresh
// index never hands out an id that still has a log file.
func (s *Store) RecoverNextID() int64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 1
	}
	var next int64 = 1
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), logFileSuffix)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		if id >= next {
			next = id + 1
		}
	}
	return next
}
