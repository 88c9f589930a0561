// Copyright 2025 Trinity Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command trinity is the CLI for the Trinity orchestrator.
//
// Usage:
//
//	trinity run --config config.json "відкрий браузер і знайди погоду"
//	trinity run --config config.json            (interactive)
//	trinity validate --config config.json
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/trinitylabs/trinity/pkg/agents/auditor"
	"github.com/trinitylabs/trinity/pkg/agents/executor"
	"github.com/trinitylabs/trinity/pkg/agents/strategist"
	"github.com/trinitylabs/trinity/pkg/bus"
	"github.com/trinitylabs/trinity/pkg/checkpoint"
	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/dispatch"
	"github.com/trinitylabs/trinity/pkg/execlog"
	"github.com/trinitylabs/trinity/pkg/llm"
	"github.com/trinitylabs/trinity/pkg/logger"
	"github.com/trinitylabs/trinity/pkg/mode"
	"github.com/trinitylabs/trinity/pkg/observability"
	"github.com/trinitylabs/trinity/pkg/orchestrator"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/segment"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Handle a request, or start the interactive loop."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and tool schemas."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("trinity version %s\n", version)
	return nil
}

// ValidateCmd loads the config, builds the tool registry, and reports what
// it found. A zero exit status means the files are consistent.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	registry, err := schema.Load(&cfg.Schemas, &cfg.Servers)
	if err != nil {
		return err
	}

	enabled := 0
	for _, srv := range cfg.Servers.Servers {
		if srv != nil && !srv.Disabled {
			enabled++
		}
	}
	fmt.Printf("Config OK: %d servers (%d enabled), %d modes, %d tool schemas\n",
		len(cfg.Servers.Servers), enabled, len(cfg.Modes.Modes), len(registry.ToolNames()))
	return nil
}

// RunCmd wires the full stack and handles one request, or starts the
// interactive stdin loop when no request argument is given.
type RunCmd struct {
	Request []string `arg:"" optional:"" help:"Request text. Empty starts the interactive loop."`

	Session     string `help:"Session ID (default: random)."`
	MetricsAddr string `name:"metrics-addr" help:"Metrics listen address." default:":9464"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Metrics {
		if _, err := observability.InitMetrics(ctx); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		go serveMetrics(ctx, c.MetricsAddr)
	}

	llms, err := llm.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create llm registry: %w", err)
	}

	registry, err := schema.Load(&cfg.Schemas, &cfg.Servers)
	if err != nil {
		return fmt.Errorf("failed to load tool schemas: %w", err)
	}

	execStore, err := execlog.Open(cfg.ExecLog.Path)
	if err != nil {
		return fmt.Errorf("failed to open execution log: %w", err)
	}
	defer execStore.Close()

	manager := toolserver.NewManager(&cfg.Servers, execStore)
	defer manager.Shutdown()

	shared := sharedctx.New()
	mapState := sharedctx.NewMapState()
	dispatcher := dispatch.New(registry, manager, shared, mapState, dispatch.Options{})

	router := mode.NewRouter(&cfg.Modes)
	splitter := segment.NewSplitter(&cfg.Modes, router, llms)
	msgBus := bus.New(0)

	store := newCheckpointStore(ctx, cfg)
	defer store.Close()

	strat := strategist.New(llms, dispatcher, registry, router, shared, cfg)
	exec := executor.New(llms, dispatcher, msgBus, shared, registry, cfg.Language)
	aud := auditor.New(llms, dispatcher, manager, msgBus, cfg)

	orch := orchestrator.New(cfg, splitter, strat, exec, aud, store, msgBus, shared, consoleVoice{})

	if request := strings.TrimSpace(strings.Join(c.Request, " ")); request != "" {
		return c.handleOnce(ctx, orch, request)
	}
	return c.interact(ctx, orch)
}

func (c *RunCmd) sessionID() string {
	if c.Session != "" {
		return c.Session
	}
	return uuid.NewString()
}

func (c *RunCmd) handleOnce(ctx context.Context, orch *orchestrator.Orchestrator, request string) error {
	result, err := orch.HandleRequest(ctx, c.sessionID(), request, nil)
	if err != nil {
		return err
	}
	failed := printReports(result)
	if failed {
		return fmt.Errorf("request did not complete successfully")
	}
	return nil
}

// interact reads requests from stdin. Requests run in the background so that
// a line typed while a step waits for consent reaches the waiting step
// instead of starting a new request.
func (c *RunCmd) interact(ctx context.Context, orch *orchestrator.Orchestrator) error {
	sessionID := c.sessionID()
	fmt.Println("trinity interactive mode, Ctrl+D to exit")

	var history []llm.Message
	inFlight := make(chan *orchestrator.SessionResult, 1)
	busy := false

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Print("> ")
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case result := <-inFlight:
			busy = false
			if result != nil {
				printReports(result)
				for _, report := range result.Reports {
					if report.Response != "" {
						history = append(history, llm.Message{Role: "assistant", Content: report.Response})
					}
				}
			}
			fmt.Print("> ")

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if busy {
				if orch.State() == orchestrator.StateAwaitingInput {
					orch.ProvideUserInput(text)
				} else {
					fmt.Println("(a request is already running)")
				}
				continue
			}

			busy = true
			history = append(history, llm.Message{Role: "user", Content: text})
			go func(request string, turnHistory []llm.Message) {
				result, err := orch.HandleRequest(ctx, sessionID, request, turnHistory)
				if err != nil {
					slog.Error("Request failed", "error", err)
				}
				inFlight <- result
			}(text, append([]llm.Message(nil), history...))
		}
	}
}

func printReports(result *orchestrator.SessionResult) bool {
	failed := false
	for _, report := range result.Reports {
		status := "ok"
		if report.Failed {
			status = "failed"
			failed = true
		}
		fmt.Printf("\n[%s/%s] %s\n", report.Mode, status, report.Response)
		if report.Evaluation != nil {
			fmt.Printf("  quality: %.2f\n", report.Evaluation.QualityScore)
		}
	}
	return failed
}

// newCheckpointStore falls back to the in-memory store when Redis is
// disabled or unreachable; a broken checkpoint backend never blocks a run.
func newCheckpointStore(ctx context.Context, cfg *config.Config) checkpoint.Store {
	if !cfg.Checkpoint.Enabled {
		return checkpoint.NewMemoryStore()
	}
	store, err := checkpoint.NewRedisStore(ctx, &cfg.Checkpoint)
	if err != nil {
		slog.Warn("Checkpoint store unavailable, continuing without persistence",
			"addr", cfg.Checkpoint.Addr, "error", err)
		return checkpoint.NewMemoryStore()
	}
	slog.Info("Checkpointing enabled", "addr", cfg.Checkpoint.Addr)
	return store
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Metrics endpoint failed", "error", err)
	}
}

// consoleVoice prints spoken agent messages to stdout.
type consoleVoice struct{}

func (consoleVoice) Speak(text string) {
	if text != "" {
		fmt.Printf("🗣  %s\n", text)
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("trinity"),
		kong.Description("Trinity - multi-agent task orchestrator"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
