package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachpipe.db"
	// DefaultScenarioDir holds config.yaml and config-<lng>.yaml
	DefaultScenarioDir = "scenarios"
)

// logLevel is raised to Debug once flags are parsed.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)
	if *flags.debug {
		logLevel.Set(slog.LevelDebug)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	catalog, err := scenario.LoadCatalog(*flags.scenarioDir, *flags.defaultLanguage)
	if err != nil {
		slog.Error("Failed to load scenario catalog", "error", err, "dir", *flags.scenarioDir)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts, err := buildAPIOptions(flags, config)
	if err != nil {
		slog.Error("Failed to configure API", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the service
	slog.Info("Bootstrapping CoachPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "provider", *flags.provider)
	if err := api.Run(ctx, catalog, *flags.provider, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	RedisKeyPrefix   string
	StateDir         string
	ScenarioDir      string
	DefaultLanguage  string
	Provider         string
	OpenAIKey        string
	TogetherKey      string
	LLMBaseURL       string
	APIAddr          string
	APIKey           string
	LatestMsgDelay   time.Duration
	GenAIDebug       bool
	Debug            bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	TwilioLanguage   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	redisKeyPrefix  *string
	scenarioDir     *string
	defaultLanguage *string
	provider        *string
	llmKey          *string
	llmBaseURL      *string
	apiAddr         *string
	apiKey          *string
	latestMsgDelay  *time.Duration
	genaiDebug      *bool
	debug           *bool
}

// initializeLogger sets up structured logging; the level starts at Info.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisKeyPrefix:   os.Getenv("REDIS_KEY_PREFIX"),
		StateDir:         util.GetenvDefault("COACHPIPE_STATE_DIR", DefaultStateDir),
		ScenarioDir:      util.GetenvDefault("SCENARIO_DIR", DefaultScenarioDir),
		DefaultLanguage:  os.Getenv("DEFAULT_LANGUAGE"),
		Provider:         util.GetenvDefault("LLM_PROVIDER", genai.ProviderOpenAI),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		TogetherKey:      os.Getenv("TOGETHER_AI_API_KEY"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		APIKey:           os.Getenv("API_KEY"),
		LatestMsgDelay:   util.ParseDurationEnv("LATEST_MSG_DELAY", api.DefaultLatestMessageDelay),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		Debug:            util.ParseBoolEnv("COACHPIPE_DEBUG", false),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		TwilioLanguage:   os.Getenv("TWILIO_LANGUAGE"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"COACHPIPE_STATE_DIR", config.StateDir,
		"SCENARIO_DIR", config.ScenarioDir,
		"DEFAULT_LANGUAGE", config.DefaultLanguage,
		"LLM_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TOGETHER_AI_API_KEY_SET", config.TogetherKey != "",
		"API_ADDR", config.APIAddr,
		"API_KEY_SET", config.APIKey != "",
		"TWILIO_CONFIGURED", config.TwilioAccountSID != "" && config.TwilioAuthToken != "")

	return config
}

// providerKey picks the API key matching the provider.
func providerKey(config Config) string {
	if config.Provider == genai.ProviderTogether {
		return config.TogetherKey
	}
	return config.OpenAIKey
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "store DSN: SQLite path, postgres:// or redis:// URL (overrides $DATABASE_URL)"),
		redisKeyPrefix:  flag.String("redis-key-prefix", config.RedisKeyPrefix, "namespace for Redis store keys (overrides $REDIS_KEY_PREFIX)"),
		scenarioDir:     flag.String("scenario-dir", config.ScenarioDir, "directory holding scenario configs (overrides $SCENARIO_DIR)"),
		defaultLanguage: flag.String("default-language", config.DefaultLanguage, "default scenario language (overrides $DEFAULT_LANGUAGE)"),
		provider:        flag.String("llm-provider", config.Provider, "LLM provider: openai or together (overrides $LLM_PROVIDER)"),
		llmKey:          flag.String("llm-api-key", providerKey(config), "LLM API key (overrides $OPENAI_API_KEY or $TOGETHER_AI_API_KEY)"),
		llmBaseURL:      flag.String("llm-base-url", config.LLMBaseURL, "OpenAI-compatible base URL (overrides $LLM_BASE_URL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		apiKey:          flag.String("api-key", config.APIKey, "required x-api-key for chat routes (overrides $API_KEY)"),
		latestMsgDelay:  flag.Duration("latest-msg-delay", config.LatestMsgDelay, "wait before /latest-chat-msg reads history (overrides $LATEST_MSG_DELAY)"),
		genaiDebug:      flag.Bool("genai-debug", config.GenAIDebug, "capture every model call under <state-dir>/debug (overrides $GENAI_DEBUG)"),
		debug:           flag.Bool("debug", config.Debug, "enable debug logging (overrides $COACHPIPE_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"scenarioDir", *flags.scenarioDir,
		"defaultLanguage", *flags.defaultLanguage,
		"provider", *flags.provider,
		"llmKeySet", *flags.llmKey != "",
		"apiAddr", *flags.apiAddr,
		"latestMsgDelay", *flags.latestMsgDelay,
		"genaiDebug", *flags.genaiDebug)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypeSQLite {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dbDir)
			return err
		}
	}
	if *flags.genaiDebug {
		if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch store.DetectDSNType(*flags.dbDSN) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	case store.DSNTypeRedis:
		slog.Debug("Detected Redis URL, configuring Redis store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithRedisURL(*flags.dbDSN))
		if *flags.redisKeyPrefix != "" {
			storeOpts = append(storeOpts, store.WithKeyPrefix(*flags.redisKeyPrefix))
		}
	case store.DSNTypeSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	default:
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options shared by every model client
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.llmKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.llmKey))
	}
	if *flags.llmBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.llmBaseURL))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options. The Twilio
// webhook is enabled only when credentials and the public webhook URL are set.
func buildAPIOptions(flags Flags, config Config) ([]api.Option, error) {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.apiKey != "" {
		apiOpts = append(apiOpts, api.WithAPIKey(*flags.apiKey))
	}
	apiOpts = append(apiOpts, api.WithLatestMessageDelay(*flags.latestMsgDelay))

	if config.TwilioAccountSID == "" || config.TwilioAuthToken == "" {
		slog.Debug("Twilio credentials not set, WhatsApp webhook disabled")
		return apiOpts, nil
	}
	if config.TwilioWebhookURL == "" {
		slog.Warn("TWILIO_WEBHOOK_URL not set, WhatsApp webhook disabled")
		return apiOpts, nil
	}
	sender, err := messaging.NewTwilioSender(
		messaging.WithAccountSID(config.TwilioAccountSID),
		messaging.WithAuthToken(config.TwilioAuthToken),
		messaging.WithFromWhats(config.TwilioFrom),
	)
	if err != nil {
		return nil, err
	}
	validator := messaging.NewSignatureValidator(config.TwilioAuthToken)
	apiOpts = append(apiOpts, api.WithTwilioWebhook(sender, validator, config.TwilioWebhookURL))
	if config.TwilioLanguage != "" {
		apiOpts = append(apiOpts, api.WithWebhookLanguage(config.TwilioLanguage))
	}
	return apiOpts, nil
}
