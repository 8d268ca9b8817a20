package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/samijaber1/inquisitor-gate/internal/api"
	"github.com/samijaber1/inquisitor-gate/internal/config"
	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/gatekeeper"
	"github.com/samijaber1/inquisitor-gate/internal/logging"
	"github.com/samijaber1/inquisitor-gate/internal/storage/sqlite"
)

func main() {
	defaults := config.DefaultConfig()

	app := cli.App{
		Name:    "gate-server",
		Usage:   "policy gate HTTP service",
		Version: versioninfo.Short(),
		Action:  runServer,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "HTTP server host",
				Value:   defaults.Host,
				EnvVars: []string{"GATE_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP server port",
				Value:   defaults.Port,
				EnvVars: []string{"GATE_PORT"},
			},
			&cli.StringFlag{
				Name:    "rules",
				Usage:   "rule-set YAML file, or a directory of rule files",
				Value:   defaults.RulesPath,
				EnvVars: []string{"GATE_RULES"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the SQLite database",
				Value:   defaults.DatabasePath,
				EnvVars: []string{"GATE_DB"},
			},
			&cli.StringFlag{
				Name:    "reload-interval",
				Usage:   "how often to reload rules (0s disables)",
				Value:   config.FormatDuration(defaults.ReloadInterval),
				EnvVars: []string{"GATE_RELOAD_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "match-timeout",
				Usage:   "time budget per rule per draft (0s disables)",
				Value:   config.FormatDuration(defaults.MatchTimeout),
				EnvVars: []string{"GATE_MATCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "max-matches",
				Usage:   "matches recorded per rule (0 is unlimited)",
				Value:   defaults.MaxMatchesPerRule,
				EnvVars: []string{"GATE_MAX_MATCHES"},
			},
			&cli.Int64Flag{
				Name:    "max-draft-bytes",
				Usage:   "maximum request body size for gate checks",
				Value:   defaults.MaxDraftBytes,
				EnvVars: []string{"GATE_MAX_DRAFT_BYTES"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   defaults.LogLevel,
				EnvVars: []string{"GATE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "json or console",
				Value:   defaults.LogFormat,
				EnvVars: []string{"GATE_LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "shutdown-timeout",
				Value:   config.FormatDuration(defaults.GracefulShutdownTimeout),
				EnvVars: []string{"GATE_SHUTDOWN_TIMEOUT"},
			},
		},
	}
	app.RunAndExitOnError()
}

func configFromFlags(cctx *cli.Context) (config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Host = cctx.String("host")
	cfg.Port = cctx.Int("port")
	cfg.RulesPath = cctx.String("rules")
	cfg.DatabasePath = cctx.String("db")
	cfg.MaxMatchesPerRule = cctx.Int("max-matches")
	cfg.MaxDraftBytes = cctx.Int64("max-draft-bytes")
	cfg.LogLevel = cctx.String("log-level")
	cfg.LogFormat = cctx.String("log-format")

	var err error
	if cfg.ReloadInterval, err = config.ParseDuration(cctx.String("reload-interval")); err != nil {
		return cfg, fmt.Errorf("reload-interval: %w", err)
	}
	if cfg.MatchTimeout, err = config.ParseDuration(cctx.String("match-timeout")); err != nil {
		return cfg, fmt.Errorf("match-timeout: %w", err)
	}
	if cfg.GracefulShutdownTimeout, err = config.ParseDuration(cctx.String("shutdown-timeout")); err != nil {
		return cfg, fmt.Errorf("shutdown-timeout: %w", err)
	}

	return cfg, cfg.Validate()
}

func runServer(cctx *cli.Context) error {
	cfg, err := configFromFlags(cctx)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", versioninfo.Short()).
		Int("port", cfg.Port).
		Str("rules", cfg.RulesPath).
		Str("db", cfg.DatabasePath).
		Msg("starting policy gate server")

	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	engine := gate.NewEngine(
		gate.WithLogger(logger),
		gate.WithMatchTimeout(cfg.MatchTimeout),
		gate.WithMaxMatchesPerRule(cfg.MaxMatchesPerRule),
	)

	gk := gatekeeper.New(engine, cfg.RulesPath, logger)
	gk.SetStorage(store)

	// A broken rule set at startup is fatal
	if err := gk.LoadRules(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	if cfg.ReloadInterval > 0 {
		if err := gk.Start(cfg.ReloadInterval); err != nil {
			return fmt.Errorf("failed to start rule reloader: %w", err)
		}
		defer gk.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.NewServer(gk, addr, cfg.MaxDraftBytes, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("received signal")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error shutting down server")
		}

		logger.Info().Msg("shutdown complete")
	}

	return nil
}
