// CoachSim runs a coaching scenario in the terminal. The parent types each
// turn; the child and facilitator replies come from the configured models.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	configDir := flag.String("config-dir", "scenarios", "directory holding scenario configs")
	lng := flag.String("lng", "", "scenario language (defaults to the catalog default)")
	debug := flag.Bool("debug", util.ParseBoolEnv("COACHPIPE_DEBUG", false), "enable debug logging and model call capture")
	dsn := flag.String("db", "", "store DSN (empty keeps the conversation in memory)")
	provider := flag.String("llm-provider", os.Getenv("LLM_PROVIDER"), "LLM provider: openai or together")
	traceDir := flag.String("trace-dir", "traces", "directory for YAML traces")
	csvDir := flag.String("csv-dir", "csv", "directory for CSV exports")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	catalog, err := scenario.LoadCatalog(*configDir, "")
	if err != nil {
		slog.Error("Failed to load scenario catalog", "error", err, "dir", *configDir)
		os.Exit(1)
	}
	cfg := catalog.Get(*lng)

	key := os.Getenv("OPENAI_API_KEY")
	if *provider == genai.ProviderTogether {
		key = os.Getenv("TOGETHER_AI_API_KEY")
	}
	genaiOpts := []genai.Option{genai.WithAPIKey(key)}
	if base := os.Getenv("LLM_BASE_URL"); base != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(base))
	}
	if *debug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir("."))
	}
	gen, err := flow.NewModelGenerator(cfg, *provider, genaiOpts...)
	if err != nil {
		slog.Error("Failed to create model clients", "error", err)
		os.Exit(1)
	}

	var storeOpts []store.Option
	if *dsn != "" {
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*dsn))
	}
	st, err := store.New(storeOpts...)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim := newSimulator(flow.NewOrchestrator(st, gen, cfg), *traceDir, *csvDir)
	if err := sim.run(ctx, os.Stdin, os.Stdout); err != nil {
		slog.Error("Simulator stopped", "error", err)
		os.Exit(1)
	}
}
