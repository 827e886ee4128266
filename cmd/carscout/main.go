// CarScout is a conversational car-recommendation backend.
//
// It exposes a WebSocket chat endpoint backed by an LLM with read-only
// vehicle-data tools (NHTSA vPIC, safety ratings, fueleconomy.gov, and
// optional price search), plus a CLI for one-shot questions.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	carscout serve              Start the chat server
//	carscout init [dir]         Initialize a working directory with defaults
//	carscout ask <question>     Ask a single question (for testing)
//	carscout version            Print version and build information
//	carscout -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/openroad-labs/carscout/internal/agent"
	"github.com/openroad-labs/carscout/internal/api"
	"github.com/openroad-labs/carscout/internal/buildinfo"
	"github.com/openroad-labs/carscout/internal/config"
	"github.com/openroad-labs/carscout/internal/defaults"
	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
	"github.com/openroad-labs/carscout/internal/tools"
	"github.com/openroad-labs/carscout/internal/vehicledata"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the carscout command. All OS-level
// dependencies are injected as parameters so the startup-to-shutdown
// lifecycle can be driven from tests. Arguments are parsed by hand:
// the flag package relies on package-level globals (flag.CommandLine),
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: carscout ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// carscout is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CarScout - Conversational car recommendation backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: carscout [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the chat server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/carscout/config.yaml, /etc/carscout/config.yaml")
	return nil
}

// runInit writes the example config into dir, refusing to overwrite an
// existing one.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; not overwriting", path)
	}
	if err := os.WriteFile(path, defaults.ConfigYAML, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(w, "wrote %s\n", path)
	fmt.Fprintln(w, "Set ANTHROPIC_API_KEY and run: carscout serve")
	return nil
}

// runAsk handles the "carscout ask <question>" subcommand. It boots
// the full tool stack against a throwaway session database and runs a
// single exchange, printing every emitted line to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Throwaway database: one-shot questions have nothing to resume.
	store, err := memory.Open(filepath.Join(os.TempDir(), fmt.Sprintf("carscout-ask-%d.db", os.Getpid())), logger)
	if err != nil {
		return fmt.Errorf("open session database: %w", err)
	}
	defer store.Close()

	loop, _, err := buildLoop(cfg, store, logger)
	if err != nil {
		return err
	}

	const sessionID = "cli-ask"
	if err := store.AppendMessage(ctx, sessionID, llm.UserText(question)); err != nil {
		return fmt.Errorf("record question: %w", err)
	}

	return loop.Run(ctx, sessionID, agent.EmitFunc(func(text string) {
		fmt.Fprintln(stdout, text)
	}))
}

// runServe starts the chat server and blocks until the context is
// cancelled or the listener fails.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting CarScout", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the banner
	// and config errors.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			level, err = config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
	)

	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is not set")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "carscout.db")
	store, err := memory.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("session database opened", "path", dbPath)

	loop, model, err := buildLoop(cfg, store, logger)
	if err != nil {
		return err
	}

	// Fail fast on a bad key rather than on the first user message.
	pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
	err = model.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, store, logger)
	server.SetDebugEmit(cfg.DebugEmit)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildLoop wires the model client, vehicle-data clients, and tool
// registry into a turn loop. Returns the model client too so serve
// can ping it.
func buildLoop(cfg *config.Config, store *memory.Store, logger *slog.Logger) (*agent.Loop, llm.Client, error) {
	model := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)

	registry := tools.NewRegistry()

	err := tools.RegisterVehicleTools(registry, tools.VehicleToolDeps{
		VPIC:        vehicledata.NewVPICClient(cfg.VehicleData.VPICBaseURL, logger),
		Safety:      vehicledata.NewSafetyClient(cfg.VehicleData.SafetyBaseURL, logger),
		FuelEconomy: vehicledata.NewFuelEconomyClient(cfg.VehicleData.FuelEconomyBaseURL, logger),
		Price:       vehicledata.NewPriceClient(cfg.VehicleData.Google.APIKey, cfg.VehicleData.Google.CX, "", logger),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register vehicle tools: %w", err)
	}

	err = tools.RegisterPreferenceTool(registry, tools.PreferenceToolDeps{
		Model:   model,
		ModelID: cfg.Anthropic.Model,
		Transcript: func(ctx context.Context) ([]llm.Message, error) {
			sessionID, ok := tools.SessionID(ctx)
			if !ok {
				return nil, errors.New("no session in context")
			}
			return store.History(ctx, sessionID)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register preference tool: %w", err)
	}

	if names := registry.Names(); len(names) > 0 {
		logger.Info("tools registered", "tools", names)
	}

	loop := agent.New(model, registry, tools.NewExecutor(registry, logger), store, agent.Config{
		Model:         cfg.Anthropic.Model,
		MaxTurns:      cfg.Loop.MaxTurns,
		HistoryWindow: cfg.Loop.HistoryWindow,
		ToolTimeout:   time.Duration(cfg.Loop.ToolTimeoutSec) * time.Second,
		ToolWorkers:   cfg.Loop.ToolWorkers,
	}, logger)

	return loop, model, nil
}

// newLogger builds a slog logger writing to w at the given level.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
