package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/metrics"
	"github.com/joescharf/callsage/internal/output"
	"github.com/joescharf/callsage/internal/review"
	"github.com/joescharf/callsage/internal/sessions"
	"github.com/joescharf/callsage/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	appLog    *logger.Logger
	dataStore store.Store
	manager   *sessions.Manager

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "callsage",
	Short: "Call Sage - AI quality reviews for customer-service calls",
	Long: `callsage reviews customer-service calls against a weighted scoring matrix.
It takes a transcript and/or a recording, asks a language model for a
per-criterion evaluation, computes the weighted overall score itself, and
lets you discuss and amend the review in a chat.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/callsage/config.yaml)")
}

func initConfig() {
	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "callsage")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CALLSAGE")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "callsage"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "callsage.db"))
	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("gateway.url", "")
	viper.SetDefault("gateway.api_key", "")
	viper.SetDefault("gateway.model", "")
	viper.SetDefault("chat.temperature", 0.2)
	viper.SetDefault("chat.cache_size", sessions.DefaultCacheSize)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.max_elapsed", "90s")
	viper.SetDefault("review.default_profile", "default")
	viper.SetDefault("review.concurrency", 4)
	viper.SetDefault("port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	appLog = logger.New(logger.Options{
		Level:  level,
		Format: viper.GetString("log.format"),
	})

	// Store and model are initialized lazily, only when commands need them.
	// This allows config/version commands to run without a db or API key.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getManager returns the shared sessions manager used by CLI commands.
func getManager() (*sessions.Manager, error) {
	if manager != nil {
		return manager, nil
	}
	m, err := newManager(nil)
	if err != nil {
		return nil, err
	}
	manager = m
	return manager, nil
}

// chatTemperature returns nil when chat.temperature is not configured at all,
// so an explicit 0 is passed through.
func chatTemperature() *float64 {
	if !viper.IsSet("chat.temperature") {
		return nil
	}
	t := viper.GetFloat64("chat.temperature")
	return &t
}

// newManager builds a sessions manager over the shared store and model.
// met may be nil.
func newManager(met *metrics.Metrics) (*sessions.Manager, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return sessions.NewManager(s, newModelProvider(), sessions.Options{
		CacheSize:       viper.GetInt("chat.cache_size"),
		ChatTemperature: chatTemperature(),
		DefaultProfile:  viper.GetString("review.default_profile"),
		Generation:      review.DefaultConfig(),
		Metrics:         met,
		Log:             logOrDiscard(),
	})
}

func logOrDiscard() *logger.Logger {
	if appLog == nil {
		return logger.Discard()
	}
	return appLog
}
