package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/image"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
)

var sendLoadConfigFn = loadConfig

type sendOptions struct {
	conversationID int64
	plain          bool
	contextFiles   []string
	imagePaths     []string
	allowTools     []string
}

func runSendCommand(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	conversationID := fs.Int64("conversation", 0, "append to an existing conversation instead of starting fresh")
	plain := fs.Bool("plain", false, "stream raw text instead of rendering markdown at the end")
	var contextFiles []string
	fs.Var(&stringListValue{target: &contextFiles}, "context", "context file folded into the prompt (repeatable, accepts comma-separated list)")
	var imagePaths []string
	fs.Var(&stringListValue{target: &imagePaths}, "image", "image attachment (repeatable, accepts comma-separated list)")
	var allowTools []string
	fs.Var(&stringListValue{target: &allowTools}, "allow", "tool to run without an approval prompt (repeatable, accepts comma-separated list)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		piped, err := readPipedStdin()
		if err != nil {
			return err
		}
		prompt = piped
	}
	if prompt == "" {
		return fmt.Errorf("usage: stagehand send [flags] <prompt>")
	}

	cfg, err := sendLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}
	if strings.TrimSpace(cfg.Backend.APIKey) == "" {
		return withExitCode(fmt.Errorf("no API key configured (set STAGEHAND_API_KEY or backend.api_key in config.yaml)"), 2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return sendOneShot(ctx, cfg, prompt, sendOptions{
		conversationID: *conversationID,
		plain:          *plain || !stdoutIsTerminal(),
		contextFiles:   contextFiles,
		imagePaths:     imagePaths,
		allowTools:     allowTools,
	})
}

// sendOneShot runs a single turn and exits. The reply renders as
// markdown once complete; plain mode streams chunks raw instead, which
// is also what a piped stdout gets.
func sendOneShot(ctx context.Context, cfg *config.Config, prompt string, opts sendOptions) error {
	images := make([]*image.Image, 0, len(opts.imagePaths))
	for _, path := range opts.imagePaths {
		img, err := image.FromFile(path)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		images = append(images, img)
	}

	sink := newOneShotSink(opts.plain, os.Stdout, os.Stderr)
	a, err := initAppFn(cfg, sink)
	if err != nil {
		return err
	}
	defer a.Close()
	sink.resolver = a.orch

	for _, name := range opts.allowTools {
		a.gate.AllowAlways(name)
	}

	if opts.conversationID != 0 {
		if err := a.manager.SetCurrent(opts.conversationID); err != nil {
			return err
		}
	}

	if !quietMode {
		fmt.Fprintf(os.Stderr, "model: %s\n", cfg.Defaults.Model)
	}

	if err := a.orch.Send(ctx, orchestrator.TurnInput{
		Text:         prompt,
		Images:       images,
		ContextFiles: opts.contextFiles,
	}); err != nil {
		return err
	}

	sink.Finish()

	if !quietMode {
		if turn := a.costs.TurnCost(); turn > 0 {
			fmt.Fprintf(os.Stderr, "cost: $%.4f\n", turn)
		}
	}
	return nil
}

// oneShotSink collects one reply for a single rendered print, or
// streams chunks raw in plain mode. Host tool calls run only when
// pre-allowed; anything needing a prompt is rejected, since stdin may
// be the prompt itself.
type oneShotSink struct {
	orchestrator.NopSink

	mu       sync.Mutex
	plain    bool
	out      io.Writer
	errw     *terminal.Writer
	content  strings.Builder
	reasoned bool
	resolver turnResolver
}

func newOneShotSink(plain bool, out, errOut io.Writer) *oneShotSink {
	return &oneShotSink{plain: plain, out: out, errw: terminal.NewWithOutput(errOut)}
}

func (s *oneShotSink) OnContentChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plain {
		fmt.Fprint(s.out, chunk)
		return
	}
	s.content.WriteString(chunk)
}

func (s *oneShotSink) OnReasoningChunk(chunk string) {
	if quietMode {
		return
	}
	s.mu.Lock()
	s.reasoned = true
	s.mu.Unlock()
	s.errw.Reasoning(chunk)
}

func (s *oneShotSink) OnAssistantEnd() {
	s.mu.Lock()
	reasoned := s.reasoned
	s.reasoned = false
	s.mu.Unlock()
	if reasoned {
		s.errw.Newline()
	}
}

func (s *oneShotSink) OnToolCall(name, argsJSON, callID string, requiresApproval bool) {
	if !requiresApproval {
		s.errw.Dim("tool: %s", name)
		return
	}
	s.errw.Warn("rejected tool call %s (no prompt in one-shot mode; pass --allow %s)", name, name)
	if s.resolver == nil {
		return
	}
	if err := s.resolver.Resolve(context.Background(), callID, approval.Reject); err != nil {
		s.errw.Error("%v", err)
	}
}

func (s *oneShotSink) OnError(msg string) {
	s.errw.Error("%s", msg)
}

// Finish renders the accumulated reply. Plain mode already streamed it
// and is only owed the trailing newline.
func (s *oneShotSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plain {
		fmt.Fprintln(s.out)
		return
	}
	if s.content.Len() == 0 {
		return
	}
	_ = terminal.NewWithOutput(s.out).Markdown(s.content.String())
}

func readPipedStdin() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
