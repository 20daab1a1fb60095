package conversation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

// Manager owns the process's conversation state: the metadata index, the
// current conversation, and its loaded history. All methods are safe for
// concurrent use. Disk failures on the write path are logged and swallowed;
// the in-memory state stays consistent so the session keeps working.
type Manager struct {
	mu     sync.Mutex
	store  *Store
	index  *SearchIndex
	logger *logging.Logger

	currentID int64
	messages  []backend.Message
	metadata  []Metadata
	nextID    int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a session logger.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithSearchIndex attaches a search index fed on every append.
func WithSearchIndex(index *SearchIndex) ManagerOption {
	return func(m *Manager) { m.index = index }
}

// NewManager loads the metadata index from the store. An unreadable index
// recovers next_id from the log files on disk rather than reusing ids.
func NewManager(store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, nextID: 1}
	for _, opt := range opts {
		opt(m)
	}

	idx, err := store.LoadIndex()
	if err != nil {
		m.logEvent(logging.LevelError, "metadata_load_failed", err.Error(), nil)
		telemetry.RecordStoreError("load_metadata")
		idx = Index{NextID: store.RecoverNextID()}
	}
	m.metadata = idx.Conversations
	m.nextID = idx.NextID
	if m.nextID < 1 {
		m.nextID = 1
	}
	// next_id must stay above every id on record.
	for _, meta := range m.metadata {
		if meta.ID >= m.nextID {
			m.nextID = meta.ID + 1
		}
	}
	return m
}

// Create starts a new conversation with the given title (may be empty) and
// makes it current. Returns the new id. Creation always succeeds in memory;
// a failed metadata write is logged and retried on the next mutation.
func (m *Manager) Create(title string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(title)
}

func (m *Manager) createLocked(title string) int64 {
	id := m.nextID
	m.nextID++
	now := time.Now().UTC()
	m.metadata = append(m.metadata, Metadata{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	})
	m.currentID = id
	m.messages = nil
	m.saveIndexLocked()
	telemetry.RecordStoreOperation("create")
	m.logEvent(logging.LevelInfo, "conversation_created", title, map[string]any{
		"conversation_id": id,
	})
	return id
}

// SetCurrent switches to an existing conversation and loads its history
// from disk. A failed history read logs and falls back to empty history;
// the conversation still becomes current.
func (m *Manager) SetCurrent(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.currentID {
		return nil
	}
	if m.findMetaLocked(id) == nil {
		return errors.New(errors.ErrCodeConversationGone, "conversation not found").
			WithContext("conversation_id", id)
	}
	msgs, err := m.store.LoadMessages(id)
	if err != nil {
		m.logEvent(logging.LevelWarn, "history_load_failed", err.Error(), map[string]any{
			"conversation_id": id,
		})
		telemetry.RecordStoreError("load_history")
		msgs = nil
	}
	m.currentID = id
	m.messages = msgs
	telemetry.RecordStoreOperation("open")
	return nil
}

// AppendMessage appends to the current conversation, creating one first
// when none is open. For a brand-new conversation the title comes from the
// first user message; a conversation created with an empty title picks up
// its title from the first user message appended to it.
func (m *Manager) AppendMessage(msg backend.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentID == 0 {
		title := ""
		if msg.Role == "user" {
			title = DeriveTitle(msg.Content)
		}
		m.createLocked(title)
	}

	m.messages = append(m.messages, msg)
	if err := m.store.AppendMessage(m.currentID, msg); err != nil {
		m.logEvent(logging.LevelError, "append_failed", err.Error(), map[string]any{
			"conversation_id": m.currentID,
			"role":            msg.Role,
		})
		telemetry.RecordStoreError("append")
	} else {
		telemetry.RecordStoreOperation("append")
	}

	meta := m.findMetaLocked(m.currentID)
	meta.MessageCount++
	meta.UpdatedAt = time.Now().UTC()
	if meta.Title == "" && msg.Role == "user" {
		meta.Title = DeriveTitle(msg.Content)
	}
	m.saveIndexLocked()

	if m.index != nil && strings.TrimSpace(msg.Content) != "" {
		seq := len(m.messages) - 1
		if err := m.index.IndexMessage(m.currentID, seq, msg.Role, msg.Content); err != nil {
			m.logEvent(logging.LevelWarn, "search_index_failed", err.Error(), map[string]any{
				"conversation_id": m.currentID,
			})
		}
	}
}

// List returns conversation metadata sorted by most recent activity. The
// order is a view; the stored index keeps insertion order.
func (m *Manager) List() []Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Metadata, len(m.metadata))
	copy(out, m.metadata)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a conversation's log file and metadata entry. Deleting the
// current conversation leaves no conversation selected.
func (m *Manager) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := -1
	for i := range m.metadata {
		if m.metadata[i].ID == id {
			at = i
			break
		}
	}
	if at < 0 {
		return errors.New(errors.ErrCodeConversationGone, "conversation not found").
			WithContext("conversation_id", id)
	}

	if err := m.store.Remove(id); err != nil {
		m.logEvent(logging.LevelWarn, "remove_failed", err.Error(), map[string]any{
			"conversation_id": id,
		})
		telemetry.RecordStoreError("delete")
	}
	m.metadata = append(m.metadata[:at], m.metadata[at+1:]...)
	if m.currentID == id {
		m.currentID = 0
		m.messages = nil
	}
	m.saveIndexLocked()

	if m.index != nil {
		if err := m.index.RemoveConversation(id); err != nil {
			m.logEvent(logging.LevelWarn, "search_unindex_failed", err.Error(), map[string]any{
				"conversation_id": id,
			})
		}
	}
	telemetry.RecordStoreOperation("delete")
	m.logEvent(logging.LevelInfo, "conversation_deleted", "", map[string]any{
		"conversation_id": id,
	})
	return nil
}

// CurrentID returns the current conversation id, 0 when none is selected.
func (m *Manager) CurrentID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Messages returns a copy of the current conversation's history.
func (m *Manager) Messages() []backend.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]backend.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// CurrentMetadata returns the current conversation's metadata entry.
func (m *Manager) CurrentMetadata() (Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta := m.findMetaLocked(m.currentID); meta != nil {
		return *meta, true
	}
	return Metadata{}, false
}

// Get returns the metadata entry for an id.
func (m *Manager) Get(id int64) (Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta := m.findMetaLocked(id); meta != nil {
		return *meta, true
	}
	return Metadata{}, false
}

// Store exposes the underlying store, for reindexing and status reporting.
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) findMetaLocked(id int64) *Metadata {
	for i := range m.metadata {
		if m.metadata[i].ID == id {
			return &m.metadata[i]
		}
	}
	return nil
}

func (m *Manager) saveIndexLocked() {
	if err := m.store.SaveIndex(Index{NextID: m.nextID, Conversations: m.metadata}); err != nil {
		m.logEvent(logging.LevelError, "metadata_save_failed", err.Error(), nil)
		telemetry.RecordStoreError("save_metadata")
	}
}

func (m *Manager) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if m.logger == nil {
		return
	}
	m.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryConversation,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
