package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stagehand-dev/stagehand/pkg/approval"
	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/bus"
	"github.com/stagehand-dev/stagehand/pkg/config"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/cost"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
	"github.com/stagehand-dev/stagehand/pkg/paths"
	"github.com/stagehand-dev/stagehand/pkg/session"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
	"github.com/stagehand-dev/stagehand/pkg/tool"
	"github.com/stagehand-dev/stagehand/pkg/tool/builtin"
)

// app bundles the components every mode shares: the backend client,
// conversation manager, tool registry behind its approval gate, cost
// tracker, event bus, and the orchestrator tying them together. The
// console sink is optional; serve mode runs with the bus sink alone.
type app struct {
	cfg       *config.Config
	runID     string
	logger    *logging.Logger
	reasoning *logging.ReasoningLogger
	settings  *config.SettingsWatcher
	client    *backend.Client
	search    *conversation.SearchIndex
	manager   *conversation.Manager
	registry  *tool.Registry
	gate      *approval.Gate
	costs     *cost.Tracker
	eventBus  bus.MessageBus
	orch      *orchestrator.Orchestrator
	tracing   *telemetry.TracerProvider
}

// initAppFn allows tests to stub application wiring.
var initAppFn = initApp

func initApp(cfg *config.Config, sink orchestrator.EventSink) (*app, error) {
	a := &app{cfg: cfg, runID: session.NewRunID(session.DefaultRunBase())}

	logDir := strings.TrimSpace(cfg.Logging.Dir)
	if logDir == "" {
		logDir = paths.LogsBaseDir()
	}
	logger, err := logging.NewLogger(logDir, a.runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
	} else {
		a.logger = logger
	}

	if cfg.Logging.ReasoningLog {
		rl, err := logging.NewReasoningLogger(filepath.Join(logDir, "reasoning"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: reasoning log disabled: %v\n", err)
		} else {
			a.reasoning = rl
		}
	}

	a.costs = cost.NewTracker(cost.WithLogger(a.logger))
	watcher, err := config.NewSettingsWatcher(paths.SettingsPath(), func(s *config.Settings) {
		a.costs.SetBudget(s.MaxCostPerQuery)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: settings hot reload disabled: %v\n", err)
	} else {
		a.settings = watcher
		a.costs.SetBudget(watcher.Current().MaxCostPerQuery)
	}

	a.client = backend.NewClientWithOptions(cfg.Backend.BaseURL, cfg.Backend.APIKey, backend.Options{
		NetworkLogsEnabled: cfg.Logging.NetworkLogs,
		Timeout:            cfg.Backend.Timeout(),
		RateLimit:          rate.Limit(cfg.Backend.RequestsPerSecond),
		Burst:              cfg.Backend.RequestBurst,
		Logger:             a.logger,
	})

	store, err := conversation.NewStore(conversationsDir(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	if cfg.Storage.SearchIndex {
		index, err := conversation.OpenSearchIndex(searchIndexPath(cfg))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: search index disabled: %v\n", err)
		} else {
			a.search = index
		}
	}

	a.manager = conversation.NewManager(store,
		conversation.WithLogger(a.logger),
		conversation.WithSearchIndex(a.search),
	)

	a.registry = tool.NewRegistry(tool.WithLogger(a.logger))
	a.registry.RegisterAll(builtin.All(builtin.Options{
		WorkDir:      config.ResolveWorkspaceRoot(cfg),
		MaxReadBytes: cfg.Tools.MaxReadBytes,
		FetchTimeout: cfg.Tools.FetchTimeout(),
	})...)

	a.gate = approval.NewGate(a.registry,
		approval.WithSubmitter(a.client),
		approval.WithLogger(a.logger),
	)

	a.eventBus = newEventBus(cfg, a.runID)

	sinks := []orchestrator.EventSink{orchestrator.NewBusSink(a.eventBus)}
	if a.reasoning != nil {
		sinks = append(sinks, &reasoningSink{log: a.reasoning, model: cfg.Defaults.Model, runID: a.runID})
	}
	if sink != nil {
		sinks = append([]orchestrator.EventSink{sink}, sinks...)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithSink(orchestrator.Combine(sinks...)),
		orchestrator.WithDefaults(cfg.Defaults.Agent, cfg.Defaults.Model),
		orchestrator.WithCostTracker(a.costs),
		orchestrator.WithLogger(a.logger),
	}
	if a.settings != nil {
		orchOpts = append(orchOpts, orchestrator.WithSettings(a.settings))
	}
	a.orch = orchestrator.New(a.client, a.manager, a.gate, orchOpts...)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider("stagehand", version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: tracing disabled: %v\n", err)
		} else {
			a.tracing = tp
		}
	}

	return a, nil
}

// Close releases resources in reverse wiring order. Safe on a
// partially initialized app.
func (a *app) Close() {
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.tracing.Shutdown(ctx)
		cancel()
	}
	if a.settings != nil {
		_ = a.settings.Close()
	}
	if a.eventBus != nil {
		_ = a.eventBus.Close()
	}
	if a.search != nil {
		_ = a.search.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.reasoning != nil {
		_ = a.reasoning.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func newEventBus(cfg *config.Config, runID string) bus.MessageBus {
	if !cfg.Bus.NATS.Enabled {
		return bus.NewMemoryBus()
	}
	b, err := bus.New(bus.Config{
		URL:     natsURL(cfg.Bus.NATS),
		Name:    "stagehand-" + runID,
		Timeout: cfg.Bus.NATS.ConnectTimeoutDuration(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: NATS unavailable, using the in-process bus: %v\n", err)
		return bus.NewMemoryBus()
	}
	return b
}

// natsURL embeds configured credentials into the server URL. A URL that
// already carries userinfo wins over the config fields.
func natsURL(nc config.NATSConfig) string {
	raw := strings.TrimSpace(nc.URL)
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return raw
	}
	switch {
	case strings.TrimSpace(nc.Username) != "":
		u.User = url.UserPassword(nc.Username, nc.Password)
	case strings.TrimSpace(nc.Token) != "":
		u.User = url.User(nc.Token)
	default:
		return raw
	}
	return u.String()
}

func conversationsDir(cfg *config.Config) string {
	if dir := strings.TrimSpace(cfg.Storage.DataDir); dir != "" {
		return filepath.Join(dir, "conversations")
	}
	return paths.ConversationsDir()
}

func searchIndexPath(cfg *config.Config) string {
	if dir := strings.TrimSpace(cfg.Storage.DataDir); dir != "" {
		return filepath.Join(dir, "index.db")
	}
	return paths.SearchIndexPath()
}

// reasoningSink buffers a turn's reasoning chunks and appends the whole
// block to the reasoning log when the assistant output ends. Turns with
// no reasoning write nothing.
type reasoningSink struct {
	orchestrator.NopSink
	log   *logging.ReasoningLogger
	model string
	runID string

	mu  sync.Mutex
	buf strings.Builder
}

func (s *reasoningSink) OnReasoningChunk(chunk string) {
	s.mu.Lock()
	s.buf.WriteString(chunk)
	s.mu.Unlock()
}

func (s *reasoningSink) OnAssistantEnd() {
	s.mu.Lock()
	content := s.buf.String()
	s.buf.Reset()
	s.mu.Unlock()
	if strings.TrimSpace(content) == "" {
		return
	}
	_ = s.log.LogTurn(s.model, s.runID, content)
}
