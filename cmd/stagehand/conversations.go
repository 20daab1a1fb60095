package main

import (
	"encoding/json"
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
)

var conversationsLoadConfigFn = loadConfig

// runConversationsCommand lists saved conversations without touching
// the backend.
func runConversationsCommand(args []string) error {
	fs := flag.NewFlagSet("conversations", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the listing as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := conversationsLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}

	store, err := conversation.NewStore(conversationsDir(cfg))
	if err != nil {
		return err
	}
	manager := conversation.NewManager(store)

	return listSavedConversations(terminal.New(), manager, *asJSON, os.Stdout)
}

func listSavedConversations(w *terminal.Writer, manager *conversation.Manager, asJSON bool, out io.Writer) error {
	metas := manager.List()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	}

	if len(metas) == 0 {
		w.Dim("no conversations yet")
		return nil
	}

	rows := make([][]string, 0, len(metas))
	for _, meta := range metas {
		rows = append(rows, []string{
			strconv.FormatInt(meta.ID, 10),
			meta.Title,
			strconv.Itoa(meta.MessageCount),
			relativeTime(meta.UpdatedAt),
		})
	}
	w.Table([]string{"ID", "Title", "Msgs", "Updated"}, rows)
	return nil
}
