package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var quietMode bool
var noColor bool
var configPath string
var modelOverride string
var agentOverride string

type startupOptions struct {
	prompt     string
	args       []string
	quiet      bool
	noColor    bool
	configPath string
	model      string
	agent      string
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	quietMode = opts.quiet
	noColor = opts.noColor
	configPath = opts.configPath
	modelOverride = opts.model
	agentOverride = opts.agent

	if handled, exitCode := dispatchSubcommand(opts.args); handled {
		os.Exit(exitCode)
	}

	args := opts.args
	if len(args) > 0 && args[0] == "chat" {
		args = args[1:]
	}
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected argument: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'stagehand --help' for usage.")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	w := terminal.New()
	if err := resolveAPIKey(cfg, w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One-shot prompt via -p.
	if opts.prompt != "" {
		sendOpts := sendOptions{plain: !stdoutIsTerminal()}
		if err := sendOneShot(ctx, cfg, opts.prompt, sendOpts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitCodeForError(err))
		}
		os.Exit(0)
	}

	// Piped stdin reads as a one-shot prompt.
	if !stdinIsTerminalFn() {
		prompt, err := readPipedStdin()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if prompt != "" {
			sendOpts := sendOptions{plain: !stdoutIsTerminal()}
			if err := sendOneShot(ctx, cfg, prompt, sendOpts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitCodeForError(err))
			}
			os.Exit(0)
		}
	}

	if !isInteractiveTerminal() {
		fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal (pipe a prompt or use -p)")
		os.Exit(1)
	}

	if err := runInteractive(ctx, cfg, w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "send":
		return true, runCommand(runSendCommand, args[1:])
	case "serve":
		return true, runCommand(runServeCommand, args[1:])
	case "conversations":
		return true, runCommand(runConversationsCommand, args[1:])
	case "chat":
		// Alias for the default interactive mode.
		return false, 0
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(os.Stderr, "Run 'stagehand --help' for usage.")
		return true, 1
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func parseStartupOptions(raw []string) (*startupOptions, error) {
	opts := &startupOptions{}
	if val, ok := parseBoolEnv("STAGEHAND_QUIET"); ok {
		opts.quiet = val
	}
	if val, ok := parseBoolEnv("NO_COLOR"); ok {
		opts.noColor = val
	}

	filtered := make([]string, 0, len(raw))
	var nextPrompt bool
	var nextConfig bool
	var nextModel bool
	var nextAgent bool

	for _, arg := range raw {
		if nextPrompt {
			opts.prompt = arg
			nextPrompt = false
			continue
		}
		if nextConfig {
			opts.configPath = arg
			nextConfig = false
			continue
		}
		if nextModel {
			opts.model = arg
			nextModel = false
			continue
		}
		if nextAgent {
			opts.agent = arg
			nextAgent = false
			continue
		}

		switch arg {
		case "-p":
			nextPrompt = true
		case "--config", "-c":
			nextConfig = true
		case "--model", "-m":
			nextModel = true
		case "--agent":
			nextAgent = true
		case "--quiet", "-q":
			opts.quiet = true
		case "--no-color":
			opts.noColor = true
		default:
			switch {
			case strings.HasPrefix(arg, "--config="):
				opts.configPath = strings.TrimPrefix(arg, "--config=")
			case strings.HasPrefix(arg, "--model="):
				opts.model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--agent="):
				opts.agent = strings.TrimPrefix(arg, "--agent=")
			default:
				filtered = append(filtered, arg)
			}
		}
	}

	if nextPrompt {
		return nil, fmt.Errorf("-p requires a prompt argument")
	}
	if nextConfig {
		return nil, fmt.Errorf("--config requires a path argument")
	}
	if nextModel {
		return nil, fmt.Errorf("--model requires a model id")
	}
	if nextAgent {
		return nil, fmt.Errorf("--agent requires an agent name")
	}

	opts.args = filtered
	return opts, nil
}

func parseBoolEnv(key string) (bool, bool) {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return false, false
	}
	switch val {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	applyStartupOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyStartupOverrides(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if modelOverride != "" {
		cfg.Defaults.Model = modelOverride
	}
	if agentOverride != "" {
		cfg.Defaults.Agent = agentOverride
	}
}

// resolveAPIKey prompts for a backend key when none is configured and a
// terminal is attached. The key is read without echo.
func resolveAPIKey(cfg *config.Config, w *terminal.Writer) error {
	if strings.TrimSpace(cfg.Backend.APIKey) != "" {
		return nil
	}
	if !stdinIsTerminalFn() {
		return fmt.Errorf("no API key configured (set STAGEHAND_API_KEY or backend.api_key in config.yaml)")
	}

	fmt.Fprint(os.Stderr, "Backend API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read API key: %w", err)
	}
	trimmed := strings.TrimSpace(string(key))
	if trimmed == "" {
		return fmt.Errorf("no API key configured (set STAGEHAND_API_KEY or backend.api_key in config.yaml)")
	}
	cfg.Backend.APIKey = trimmed

	if w.Confirm("Save the key to ~/.stagehand/config.env?", false) {
		if err := saveAPIKey(trimmed); err != nil {
			w.Warn("could not save key: %v", err)
		} else {
			w.Success("saved")
		}
	}
	return nil
}

func saveAPIKey(key string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dir := filepath.Join(home, ".stagehand")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "config.env"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "STAGEHAND_API_KEY=%s\n", key)
	return err
}

func printHelp() {
	fmt.Println("Stagehand - AI Agent Bridge")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  stagehand [FLAGS] [COMMAND]")
	fmt.Println()
	fmt.Println("MODES:")
	fmt.Println("  stagehand                        Start the interactive chat console")
	fmt.Println("  stagehand -p \"prompt\"            One-shot mode: send prompt, print reply, exit")
	fmt.Println("  echo \"prompt\" | stagehand        Same, reading the prompt from stdin")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  send [flags] <prompt>            One-shot send with attachments and tool pre-approval")
	fmt.Println("  serve [--bind host:port]         Run the panel relay (HTTP + SSE/WebSocket)")
	fmt.Println("  conversations [--json]           List saved conversations")
	fmt.Println()
	fmt.Println("CONSOLE COMMANDS:")
	fmt.Println("  :list                            List saved conversations")
	fmt.Println("  :open <id>                       Switch conversation and replay recent messages")
	fmt.Println("  :new [title]                     Start a fresh conversation")
	fmt.Println("  :delete <id>                     Delete a conversation")
	fmt.Println("  :search <query>                  Full-text search across conversations")
	fmt.Println("  :allow [tool]                    Always-allow a tool for this run")
	fmt.Println("  :cost                            Show spend against the query budget")
	fmt.Println("  :attach <path>                   Attach an image to the next message")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -p <prompt>                      Run prompt in one-shot mode")
	fmt.Println("  -c, --config <path>              Use custom config file")
	fmt.Println("  -m, --model <id>                 Override the default model")
	fmt.Println("  --agent <name>                   Override the default agent")
	fmt.Println("  -q, --quiet                      Suppress non-essential output")
	fmt.Println("  --no-color                       Disable colored output")
	fmt.Println("  -v, --version                    Show version information")
	fmt.Println("  -h, --help                       Show this help")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  STAGEHAND_API_KEY                Backend API key (required)")
	fmt.Println("  STAGEHAND_BACKEND_URL            Backend base URL")
	fmt.Println("  STAGEHAND_MODEL                  Override the default model")
	fmt.Println("  STAGEHAND_AGENT                  Override the default agent")
	fmt.Println("  STAGEHAND_DATA_DIR               Directory for conversations, settings, and the search index")
	fmt.Println("  STAGEHAND_LOG_DIR                Override the JSONL log directory")
	fmt.Println("  STAGEHAND_RELAY_TOKEN            Relay auth token (serve mode)")
	fmt.Println("  STAGEHAND_RELAY_TOKEN_FILE       Read/write the relay token from this path (serve mode)")
	fmt.Println("  STAGEHAND_GENERATE_RELAY_TOKEN   Auto-generate a relay token when missing (serve mode)")
	fmt.Println("  STAGEHAND_NATS_URL               Mirror turn events to this NATS server")
	fmt.Println("  STAGEHAND_QUIET                  Suppress non-essential output")
	fmt.Println("  NO_COLOR                         Disable colored output")
	fmt.Println()
	fmt.Println("CONFIGURATION:")
	fmt.Println("  User config:    ~/.stagehand/config.yaml")
	fmt.Println("  Project config: ./.stagehand/config.yaml")
	fmt.Println("  Per-model settings: ~/.stagehand/settings.json (hot reloaded)")
	fmt.Println()
	fmt.Println("GETTING STARTED:")
	fmt.Println(`  1. Run: export STAGEHAND_API_KEY="<YOUR_API_KEY>"`)
	fmt.Println("  2. Start: stagehand")
	fmt.Println("  3. Type :help for console commands")
}

func printVersion() {
	fmt.Printf("Stagehand %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) &&
		term.IsTerminal(int(os.Stdout.Fd()))
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// stdinIsTerminalFn allows tests to stub terminal detection.
var stdinIsTerminalFn = stdinIsTerminal

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
