// Package main provides the CLI entry point for agentloopctl, an
// interactive driver for the agent runtime loop.
//
// agentloopctl wires up a single Runtime against a local, API-key-free demo
// provider and a terminal REPL: every line typed at stdin becomes a prompt,
// every published event is printed as it arrives, and a handful of slash
// commands exercise the rest of the Runtime surface (abort, state
// inspection, model/tool reconfiguration).
//
// # Basic usage
//
//	agentloopctl run --config agentloop.yaml
//
// Inside the REPL:
//
//	/abort            cancel the turn in flight
//	/state            print the current FSM state
//	/model <name>     switch models for the next turn
//	/tools a,b,c      restrict the enabled tool set
//	/quit             exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arvo-systems/agentloop/internal/config"
	"github.com/arvo-systems/agentloop/internal/eventbus"
	"github.com/arvo-systems/agentloop/internal/observability"
	"github.com/arvo-systems/agentloop/internal/retrypolicy"
	"github.com/arvo-systems/agentloop/internal/runtime"
	"github.com/arvo-systems/agentloop/internal/store"
	"github.com/arvo-systems/agentloop/internal/tools"
	"github.com/google/uuid"
)

// main is the entry point for the agentloopctl CLI.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentloopctl",
		Short:        "Interactive driver for the agent runtime loop",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session against the demo provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), configPath, sessionID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file (optional)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session ID (random if omitted)")
	return cmd
}

func runREPL(ctx context.Context, configPath, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRatio,
	})
	defer shutdownTracer(context.Background())

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{tools.NewEchoTool(), tools.NewSleepTool()} {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register tool %s: %w", t.Name(), err)
		}
	}
	runner := tools.NewRunner(registry, tools.RunnerConfig{
		Concurrency:    cfg.Tools.Concurrency,
		PerCallTimeout: cfg.Tools.PerCallTimeout,
	})

	st := store.NewMemoryStore()
	bus := eventbus.New()

	base, ceiling, jitter, maxAttempts := cfg.Retry.Durations()
	opts := runtime.Options{
		SessionID:           sessionID,
		Provider:            cfg.Provider.Name,
		Model:               cfg.Provider.Model,
		ContextWindow:       cfg.Provider.ContextWindow,
		EnabledTools:        cfg.Tools.Enabled,
		MaxTokens:           cfg.Provider.MaxTokens,
		CompactionKeepTurns: cfg.Compaction.KeepRecentTurns,
		RetryPolicy:         &retrypolicy.Policy{Base: base, Ceiling: ceiling, Jitter: jitter, MaxAttempts: maxAttempts},
	}

	rt := runtime.New(newDemoProvider(), registry, runner, st, bus, metrics, logger, tracer, opts)
	defer rt.Close()

	sub := bus.Subscribe(sessionID)
	defer sub.Unsubscribe()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printEvents(sub)

	fmt.Fprintf(os.Stderr, "session %s ready. Type a prompt, or /quit to exit.\n", sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-sigCtx.Done():
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handleSlashCommand(sigCtx, rt, line) {
				return nil
			}
			continue
		}
		res, err := rt.Prompt(sigCtx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prompt error: %v\n", err)
			continue
		}
		if res.Queued {
			fmt.Fprintln(os.Stderr, "(queued behind the current turn)")
		}
	}
	return scanner.Err()
}

// handleSlashCommand executes one "/"-prefixed REPL command, returning true
// if the REPL should exit.
func handleSlashCommand(ctx context.Context, rt *runtime.Runtime, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/abort":
		if err := rt.Abort(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "abort error: %v\n", err)
		}
	case "/state":
		st, err := rt.GetState(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "state error: %v\n", err)
			return false
		}
		fmt.Fprintln(os.Stderr, st)
	case "/model":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /model <name>")
			return false
		}
		if err := rt.SetModel(ctx, fields[1]); err != nil {
			fmt.Fprintf(os.Stderr, "set_model error: %v\n", err)
		}
	case "/tools":
		var enabled []string
		if len(fields) > 1 {
			enabled = strings.Split(fields[1], ",")
		}
		if err := rt.Configure(ctx, enabled); err != nil {
			fmt.Fprintf(os.Stderr, "configure error: %v\n", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", fields[0])
	}
	return false
}

// printEvents renders every event published on sub until it is unsubscribed.
func printEvents(sub *eventbus.Subscription) {
	for evt := range sub.Events() {
		switch evt.Kind {
		case eventbus.KindMessageDelta, eventbus.KindThinkingDelta:
			fmt.Print(evt.Text)
		case eventbus.KindMessageEnd:
			fmt.Println()
		case eventbus.KindToolStart:
			fmt.Fprintf(os.Stderr, "[tool_start %s %s]\n", evt.ToolName, evt.ToolCallID)
		case eventbus.KindToolEnd:
			fmt.Fprintf(os.Stderr, "[tool_end %s %s]\n", evt.ToolName, evt.ToolCallID)
		case eventbus.KindError:
			fmt.Fprintf(os.Stderr, "[error retry=%v %s]\n", evt.Retry, evt.Text)
		case eventbus.KindAgentAbort:
			fmt.Fprintln(os.Stderr, "[aborted]")
		}
	}
}
