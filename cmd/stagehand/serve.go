package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	iofs "io/fs"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stagehand-dev/stagehand/pkg/paths"
	"github.com/stagehand-dev/stagehand/pkg/relay"
)

const (
	envGenerateRelayToken = "STAGEHAND_GENERATE_RELAY_TOKEN"
	// #nosec G101 -- env var name (not a credential)
	envRelayTokenFile  = "STAGEHAND_RELAY_TOKEN_FILE"
	envPrintRelayToken = "STAGEHAND_PRINT_GENERATED_RELAY_TOKEN"
)

type relayServer interface {
	Start(ctx context.Context) error
}

var serveLoadConfigFn = loadConfig
var serveNewServerFn = func(cfg relay.Config, a *app) relayServer {
	return relay.NewServer(cfg, a.orch, a.manager, a.eventBus,
		relay.WithLogger(a.logger),
		relay.WithSearchIndex(a.search),
		relay.WithCostTracker(a.costs),
		relay.WithBackend(a.client),
	)
}

func runServeCommand(args []string) error {
	cfg, err := serveLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}

	bindDefault := strings.TrimSpace(cfg.Relay.Bind)
	if bindDefault == "" {
		bindDefault = relay.DefaultBindAddress
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bind := fs.String("bind", bindDefault, "address to bind the relay server")
	requireToken := fs.Bool("require-token", cfg.Relay.RequireToken, "reject clients that do not supply an auth token")
	publicMetrics := fs.Bool("public-metrics", false, "expose /metrics without authentication (useful for Prometheus scraping)")
	authTokenFlag := fs.String("auth-token", "", "token clients must supply (default: STAGEHAND_RELAY_TOKEN)")
	tokenFile := fs.String("token-file", "", "path to a file containing the relay auth token (supports ~)")
	generateToken := fs.Bool("generate-token", false, "generate and persist a relay auth token when missing")
	printToken := fs.Bool("print-token", false, "print generated relay auth token to stderr (use cautiously; may leak via logs)")
	var extraOrigins []string
	fs.Var(&stringListValue{target: &extraOrigins}, "allow-origin", "additional allowed Origin (repeatable, accepts comma-separated list)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token := strings.TrimSpace(*authTokenFlag)
	if token == "" {
		// Config already folds in STAGEHAND_RELAY_TOKEN.
		token = strings.TrimSpace(cfg.Relay.Token)
	}

	generateTokenFinal := *generateToken
	if v, ok := parseBoolEnv(envGenerateRelayToken); ok {
		generateTokenFinal = v
	}
	printTokenFinal := *printToken
	if v, ok := parseBoolEnv(envPrintRelayToken); ok {
		printTokenFinal = v
	}

	tokenFilePath := strings.TrimSpace(*tokenFile)
	if tokenFilePath == "" {
		tokenFilePath = strings.TrimSpace(os.Getenv(envRelayTokenFile))
	}
	if tokenFilePath != "" {
		expanded, err := expandHomePath(tokenFilePath)
		if err != nil {
			return err
		}
		tokenFilePath = expanded
	} else {
		tokenFilePath = filepath.Join(paths.DataDir(), "relay-token")
	}

	if *requireToken && token == "" {
		stored, readErr := readTokenFile(tokenFilePath)
		switch {
		case readErr == nil:
			token = stored
		case errors.Is(readErr, iofs.ErrNotExist):
			if !generateTokenFinal {
				return fmt.Errorf("--require-token set but no token provided (set STAGEHAND_RELAY_TOKEN, --auth-token, or use --generate-token)")
			}
			generated, err := generateTokenFile(tokenFilePath)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved relay token to %s\n", tokenFilePath)
			if printTokenFinal {
				fmt.Fprintf(os.Stderr, "Generated relay token (store this securely): %s\n", generated)
			}
			token = generated
		default:
			return readErr
		}
	}

	if *requireToken && token == "" {
		return fmt.Errorf("--require-token set but no token provided (set STAGEHAND_RELAY_TOKEN or --auth-token)")
	}

	bindAddr := strings.TrimSpace(*bind)
	if !isLoopbackAddress(bindAddr) && token == "" {
		return fmt.Errorf("refusing to bind the relay to %q without authentication (set --require-token or an auth token)", bindAddr)
	}

	a, err := initAppFn(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	relayCfg := relay.Config{
		BindAddress:    bindAddr,
		AuthToken:      token,
		AllowedOrigins: extraOrigins,
		PublicMetrics:  *publicMetrics,
		Version:        version,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !quietMode {
		fmt.Fprintf(os.Stderr, "stagehand relay listening on %s (run %s)\n", relayCfg.BindAddress, a.runID)
	}

	server := serveNewServerFn(relayCfg, a)
	return server.Start(ctx)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "", "0.0.0.0", "::":
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func expandHomePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func readTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func generateTokenFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("token file path cannot be empty")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	parts := strings.Split(value, ",")
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		*s.target = append(*s.target, trimmed)
	}
	return nil
}
