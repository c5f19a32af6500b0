package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"jamsession/looper/internal/config"
	"jamsession/looper/internal/db"
	"jamsession/looper/internal/dispatch"
	"jamsession/looper/internal/generate"
	"jamsession/looper/internal/history"
	"jamsession/looper/internal/intent"
	"jamsession/looper/internal/kv"
	"jamsession/looper/internal/service"
)

const dbFileName = ".looper.db"

var (
	configPath string
	dbPath     string
	storeKind  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "looper",
	Short:         "Voice-commanded loop session backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to "+dbFileName+" database")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "History store: sqlite, badger or memory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file and environment, then applies any
// persistent flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store = storeKind
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

// DiscoverDB finds the database path using priority:
// env > flag > config file > walk-up > XDG fallback.
// Unlike the other sources, the XDG path need not exist yet; it is created
// on first open.
func DiscoverDB(cfg config.Config) (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("LOOPER_DB"); envPath != "" {
		return envPath, nil
	}

	// 2. CLI flag
	if dbPath != "" {
		return dbPath, nil
	}

	// 3. Config file
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}

	// 4. Walk up from CWD
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, dbFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	// 5. XDG fallback
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "looper", "looper.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no %s found and no home directory (set LOOPER_DB or use --db): %w", dbFileName, err)
	}
	return filepath.Join(home, ".local", "share", "looper", "looper.db"), nil
}

// openStore opens the history store cfg names.
func openStore(cfg config.Config, logger *slog.Logger) (history.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return history.NewMemStore(), nil
	case config.StoreBadger:
		dir := cfg.BadgerDir
		if dir == "" {
			path, err := DiscoverDB(cfg)
			if err != nil {
				return nil, err
			}
			dir = path + ".badger"
		}
		kcfg := kv.DefaultConfig(dir)
		kcfg.Logger = logger
		return kv.Open(kcfg)
	default:
		path, err := DiscoverDB(cfg)
		if err != nil {
			return nil, err
		}
		logger.Debug("opening database", "path", path)
		return db.OpenDB(path)
	}
}

// app is everything a command needs, built from config.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  history.Store
	tree   *history.Manager
	svc    *service.Service
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store, err)
	}
	tree := history.NewManager(store, history.WithLogger(logger))

	gen, err := generate.New(generate.Options{
		Kind:        generate.Kind(cfg.Generator.Kind),
		Placeholder: cfg.Generator.Placeholder,
		Command:     cfg.Generator.Command,
		Args:        cfg.Generator.Args,
		Timeout:     cfg.Generator.Timeout,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	table := dispatch.NewTable(dispatch.Deps{
		Tree:      tree,
		Generator: gen,
		AssetPath: func(n int) string {
			return generate.AssetPath(cfg.Generator.AssetDir, n, cfg.Generator.Extension)
		},
		GenerateTimeout: cfg.Generator.Timeout,
		Logger:          logger,
	})
	engine, err := dispatch.NewEngine(tree, table, dispatch.Config{MaxChain: cfg.MaxChain, Logger: logger})
	if err != nil {
		store.Close()
		return nil, err
	}

	resolver, err := newResolver(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	svc, err := service.New(ctx, tree, engine, resolver, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, tree: tree, svc: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newResolver wraps the configured resolver in the fast path. Without an
// API key the openai kind degrades to keyword matching.
func newResolver(cfg config.Config, logger *slog.Logger) (intent.Resolver, error) {
	var next intent.Resolver = intent.Keyword{}
	if cfg.Resolver.Kind == config.ResolverOpenAI {
		o, err := intent.NewOpenAI(intent.OpenAIConfig{
			APIKey:  cfg.Resolver.APIKey,
			Model:   cfg.Resolver.Model,
			BaseURL: cfg.Resolver.BaseURL,
			Timeout: cfg.Resolver.Timeout,
		}, logger)
		switch {
		case err == nil:
			next = o
		case errors.Is(err, intent.ErrNoAPIKey):
			logger.Warn("no OpenAI API key configured, using keyword resolver")
		default:
			return nil, err
		}
	}
	return intent.FastPath{Next: next, Logger: logger}, nil
}
