package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/cost"
	"github.com/stagehand-dev/stagehand/pkg/image"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
)

// historyWindow caps how many messages :open replays.
const historyWindow = 12

// repl drives the interactive console session.
type repl struct {
	app    *app
	w      *terminal.Writer
	input  *bufio.Reader
	images []*image.Image
}

func runInteractive(ctx context.Context, cfg *config.Config, w *terminal.Writer) error {
	input := bufio.NewReader(os.Stdin)
	spinner := terminal.NewSpinner("thinking")

	sink := newConsoleSink(w, spinner, input)
	a, err := initAppFn(cfg, sink)
	if err != nil {
		return err
	}
	defer a.Close()
	sink.resolver = a.orch

	a.costs.Notifier().OnAlert(func(alert cost.Alert) {
		w.Warn("%s", alert.Message())
	})

	r := &repl{app: a, w: w, input: input}
	r.printBanner()
	return r.loop(ctx)
}

func (r *repl) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.w.Print("%s", r.promptLabel())
		line, err := r.input.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.w.Newline()
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := r.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}
		r.sendTurn(ctx, line)
	}
}

func (r *repl) promptLabel() string {
	if id := r.app.manager.CurrentID(); id != 0 {
		return fmt.Sprintf("[%d]> ", id)
	}
	return "> "
}

func (r *repl) sendTurn(ctx context.Context, text string) {
	input := orchestrator.TurnInput{Text: text, Images: r.images}
	r.images = nil

	if err := r.app.orch.Send(ctx, input); err != nil {
		if errors.Is(err, orchestrator.ErrTurnInFlight) {
			r.w.Warn("a turn is already running")
			return
		}
		r.w.Error("%v", err)
		return
	}

	if !quietMode {
		if turn := r.app.costs.TurnCost(); turn > 0 {
			r.w.Dim("cost: $%.4f this turn · $%.4f this run", turn, r.app.costs.RunCost())
		}
	}
}

// handleCommand executes one : command. It returns true when the
// console should exit.
func (r *repl) handleCommand(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case ":help", ":h":
		r.printCommandHelp()
	case ":quit", ":q", ":exit":
		return true
	case ":list", ":ls":
		r.listConversations()
	case ":new":
		id := r.app.manager.Create(rest)
		r.w.Success("conversation %d created", id)
	case ":open":
		r.openConversation(rest)
	case ":delete", ":del":
		r.deleteConversation(rest)
	case ":search":
		r.searchMessages(ctx, rest)
	case ":allow":
		r.allowTool(rest)
	case ":cost":
		r.showCost()
	case ":attach":
		r.attachImage(rest)
	default:
		r.w.Warn("unknown command %s (:help lists commands)", cmd)
	}
	return false
}

func (r *repl) printBanner() {
	if quietMode {
		return
	}
	r.w.Header("stagehand " + version)
	r.w.Dim("model %s · agent %s · run %s", r.app.cfg.Defaults.Model, r.app.cfg.Defaults.Agent, r.app.runID)
	if n := len(r.app.manager.List()); n > 0 {
		r.w.Dim("%d saved conversations · :list to browse", n)
	}
	r.w.Dim(":help for commands, :quit to leave")
	r.w.Newline()
}

func (r *repl) printCommandHelp() {
	r.w.Table([]string{"Command", "Action"}, [][]string{
		{":list", "list saved conversations"},
		{":open <id>", "switch conversation and replay recent messages"},
		{":new [title]", "start a fresh conversation"},
		{":delete <id>", "delete a conversation"},
		{":search <query>", "full-text search across conversations"},
		{":allow [tool]", "always-allow a tool (no argument lists the set)"},
		{":cost", "show turn/run spend against the budget"},
		{":attach <path>", "attach an image to the next message"},
		{":quit", "exit"},
	})
}

func (r *repl) listConversations() {
	metas := r.app.manager.List()
	if len(metas) == 0 {
		r.w.Dim("no conversations yet")
		return
	}
	current := r.app.manager.CurrentID()
	rows := make([][]string, 0, len(metas))
	for _, meta := range metas {
		marker := ""
		if meta.ID == current {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			strconv.FormatInt(meta.ID, 10),
			meta.Title,
			strconv.Itoa(meta.MessageCount),
			relativeTime(meta.UpdatedAt),
		})
	}
	r.w.Table([]string{"", "ID", "Title", "Msgs", "Updated"}, rows)
}

func (r *repl) openConversation(arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		r.w.Warn("usage: :open <id>")
		return
	}
	if err := r.app.manager.SetCurrent(id); err != nil {
		r.w.Warn("no conversation %d", id)
		return
	}
	meta, _ := r.app.manager.Get(id)
	r.w.Success("opened %d: %s", id, meta.Title)
	messages := r.app.manager.Messages()
	r.renderHistory(messages)
	if len(messages) > 0 {
		r.w.Dim("%d messages · ~%d prompt tokens", len(messages), conversation.CountMessageTokens(messages))
	}
}

func (r *repl) renderHistory(messages []backend.Message) {
	if len(messages) == 0 {
		r.w.Dim("(empty conversation)")
		return
	}
	start := 0
	if len(messages) > historyWindow {
		start = len(messages) - historyWindow
		r.w.Dim("… %d earlier messages", start)
	}
	for _, msg := range messages[start:] {
		switch msg.Role {
		case "user":
			r.w.Bold("you:")
			r.w.Println("%s", msg.Content)
		case "assistant":
			if msg.Content == "" && len(msg.ToolCalls) > 0 {
				for _, call := range msg.ToolCalls {
					r.w.Dim("tool call: %s", call.Function.Name)
				}
				continue
			}
			r.w.Bold("assistant:")
			_ = r.w.Markdown(msg.Content)
		case "tool":
			r.w.Dim("tool result: %s", resultPreview(msg.Content))
		}
	}
}

func (r *repl) deleteConversation(arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		r.w.Warn("usage: :delete <id>")
		return
	}
	meta, ok := r.app.manager.Get(id)
	if !ok {
		r.w.Warn("no conversation %d", id)
		return
	}
	if !r.confirm(fmt.Sprintf("Delete conversation %d (%q)?", id, meta.Title)) {
		return
	}
	if err := r.app.manager.Delete(id); err != nil {
		r.w.Error("%v", err)
		return
	}
	r.w.Success("conversation %d deleted", id)
}

func (r *repl) confirm(prompt string) bool {
	r.w.Print("%s [y/N]: ", prompt)
	line, err := r.input.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (r *repl) searchMessages(ctx context.Context, query string) {
	if query == "" {
		r.w.Warn("usage: :search <query>")
		return
	}
	if r.app.search == nil {
		r.w.Warn("search index disabled (enable storage.search_index in config.yaml)")
		return
	}
	results, err := r.app.search.Search(ctx, query, 0, 20)
	if err != nil {
		r.w.Error("%v", err)
		return
	}
	if len(results) == 0 {
		r.w.Dim("no matches")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{
			strconv.FormatInt(res.ConversationID, 10),
			res.Role,
			res.Snippet,
		})
	}
	r.w.Table([]string{"Conv", "Role", "Match"}, rows)
}

func (r *repl) allowTool(name string) {
	if name == "" {
		allowed := r.app.gate.AlwaysAllowed()
		if len(allowed) == 0 {
			r.w.Dim("no tools always allowed; :allow <tool> adds one")
		} else {
			r.w.List(allowed)
		}
		r.w.Dim("available: %s", strings.Join(r.app.registry.Names(), ", "))
		return
	}
	if !r.toolRegistered(name) {
		r.w.Warn("no tool named %s is registered", name)
		return
	}
	r.app.gate.AllowAlways(name)
	r.w.Success("%s always allowed for this run", name)
}

func (r *repl) toolRegistered(name string) bool {
	for _, registered := range r.app.registry.Names() {
		if registered == name {
			return true
		}
	}
	return false
}

func (r *repl) showCost() {
	status := r.app.costs.CurrentStatus()
	r.w.Println("turn:         $%.4f", status.TurnCost)
	r.w.Println("conversation: $%.4f", status.ConversationCost)
	r.w.Println("run:          $%.4f", status.RunCost)
	if status.Budget > 0 {
		r.w.Gauge("budget", status.Percent)
	} else {
		r.w.Dim("no per-query budget set (MaxCostPerQuery in settings.json)")
	}
}

func (r *repl) attachImage(path string) {
	if path == "" {
		r.w.Warn("usage: :attach <image-path>")
		return
	}
	img, err := image.FromFile(path)
	if err != nil {
		r.w.Error("%v", err)
		return
	}
	r.images = append(r.images, img)
	r.w.Success("attached %s (%s, %d bytes); sends with your next message",
		filepath.Base(path), img.MimeType, len(img.Data))
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
