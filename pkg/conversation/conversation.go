// Package conversation persists chat history as JSON-Lines logs under a
// Conversations directory, one file per conversation plus a metadata index.
// The Manager owns the in-memory state for the process; the Store owns the
// files; the SearchIndex mirrors message text into SQLite FTS5 for search.
package conversation

import (
	"strings"
	"time"
)

// titleMaxRunes caps auto-derived conversation titles.
const titleMaxRunes = 50

// Metadata describes one conversation in the index.
type Metadata struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Index is the on-disk shape of metadata.json. NextID is strictly greater
// than every id ever allocated, so deleted ids are never reused.
type Index struct {
	NextID        int64      `json:"next_id"`
	Conversations []Metadata `json:"conversations"`
}

// DeriveTitle builds a conversation title from the first user message:
// whitespace collapsed, truncated to 50 runes.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	return title
}
