package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SearchIndex mirrors message text into a SQLite FTS5 table. The JSONL logs
// stay the source of truth; the index can be rebuilt from them at any time,
// so index writes are best-effort.
type SearchIndex struct {
	db *sql.DB
}

// OpenSearchIndex opens the index database, creating it and its schema if
// needed.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure search index: %w", err)
		}
	}

	schema := `CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		conversation_id UNINDEXED,
		role UNINDEXED,
		seq UNINDEXED
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages_fts: %w", err)
	}
	return &SearchIndex{db: db}, nil
}

// Close closes the database.
func (si *SearchIndex) Close() error {
	if si == nil || si.db == nil {
		return nil
	}
	return si.db.Close()
}

// IndexMessage adds one message's text to the index. Blank content is not
// indexed.
func (si *SearchIndex) IndexMessage(conversationID int64, seq int, role, content string) error {
	if si == nil || si.db == nil {
		return nil
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	_, err := si.db.Exec(
		`INSERT INTO messages_fts (content, conversation_id, role, seq) VALUES (?, ?, ?, ?)`,
		content, conversationID, role, seq,
	)
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	return nil
}

// RemoveConversation drops all indexed rows for a conversation.
func (si *SearchIndex) RemoveConversation(conversationID int64) error {
	if si == nil || si.db == nil {
		return nil
	}
	_, err := si.db.Exec(`DELETE FROM messages_fts WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("unindex conversation: %w", err)
	}
	return nil
}

// SearchResult is one FTS5 hit.
type SearchResult struct {
	ConversationID int64   `json:"conversation_id"`
	Seq            int     `json:"seq"`
	Role           string  `json:"role"`
	Snippet        string  `json:"snippet"`
	Score          float64 `json:"score"`
}

// Search runs an FTS5 match ranked by bm25. A conversationID of 0 searches
// every conversation.
func (si *SearchIndex) Search(ctx context.Context, query string, conversationID int64, limit int) ([]SearchResult, error) {
	if si == nil || si.db == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := si.db.QueryContext(ctx, `
		SELECT conversation_id, seq, role,
			snippet(messages_fts, 0, '', '', '...', 12) AS snippet,
			bm25(messages_fts) AS rank
		FROM messages_fts
		WHERE messages_fts MATCH ?
			AND (? = 0 OR conversation_id = ?)
		ORDER BY rank
		LIMIT ?`,
		query, conversationID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ConversationID, &r.Seq, &r.Role, &r.Snippet, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

// Reindex rebuilds the index from the store's logs. Conversations whose log
// cannot be read are skipped.
func (si *SearchIndex) Reindex(store *Store, metas []Metadata) error {
	if si == nil || si.db == nil {
		return nil
	}
	if _, err := si.db.Exec(`DELETE FROM messages_fts`); err != nil {
		return fmt.Errorf("clear search index: %w", err)
	}
	for _, meta := range metas {
		messages, err := store.LoadMessages(meta.ID)
		if err != nil {
			continue
		}
		for seq, msg := range messages {
			if err := si.IndexMessage(meta.ID, seq, msg.Role, msg.Content); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExtractSnippet returns a short context window around the first query term
// in content, for callers rendering hits without FTS5 snippets.
func ExtractSnippet(content, query string) string {
	const window = 200

	normalized := strings.Join(strings.Fields(content), " ")
	if len(normalized) <= window {
		return normalized
	}

	lower := strings.ToLower(normalized)
	at := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 {
			at = i
			break
		}
	}
	if at < 0 {
		return normalized[:window] + "..."
	}

	start := at - 40
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(normalized) {
		end = len(normalized)
		start = end - window
		if start < 0 {
			start = 0
		}
	}

	snippet := normalized[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(normalized) {
		snippet = snippet + "..."
	}
	return snippet
}
