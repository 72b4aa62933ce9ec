package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bananagen/artifacts"
	"bananagen/core"
	"bananagen/db"
	"bananagen/imagegen"
	"bananagen/logging"
	"bananagen/pgstore"
	"bananagen/secrets"
	"bananagen/shutdown"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the collaborators shared by the subcommands. Every resource it
// opens is registered with the shutdown manager, so close releases them in
// order.
type app struct {
	cfg      *core.Config
	logger   *logging.Logger
	manager  *shutdown.Manager
	database *db.Database
	repo     *db.Repository

	stdout io.Writer
	stderr io.Writer
}

// newApp loads configuration, starts logging and signal handling, and opens
// the SQLite database. defaultLevel applies when BANANAGEN_LOG_LEVEL is unset.
func newApp(stdout, stderr io.Writer, defaultLevel zapcore.Level) (*app, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}

	level := logging.ParseLogLevel("BANANAGEN_LOG_LEVEL", defaultLevel)
	if cfg.DevMode {
		level = logging.ParseLogLevel("BANANAGEN_LOG_LEVEL", zapcore.DebugLevel)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       &level,
		File:        logging.DefaultFileWriterConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	manager := shutdown.NewManager(logger.Zap().Named("shutdown"))
	manager.Listen()
	manager.Add("logger", shutdown.StageLogs, func(ctx context.Context) error {
		// Sync on a terminal stderr reports EINVAL; nothing is lost.
		_ = logger.Sync()
		return nil
	})

	database, err := db.NewDatabase(cfg.DBPath)
	if err != nil {
		manager.Shutdown()
		return nil, err
	}
	manager.Add("database", shutdown.StageStorage, func(ctx context.Context) error {
		return database.Close()
	})

	logger.Debug("configuration loaded", zap.Stringer("config", cfg), zap.String("db", cfg.DBPath))
	return &app{
		cfg:      cfg,
		logger:   logger,
		manager:  manager,
		database: database,
		repo:     db.NewRepository(database),
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

// ctx is cancelled on the first SIGINT/SIGTERM.
func (a *app) ctx() context.Context {
	return a.manager.Context()
}

func (a *app) close() error {
	return a.manager.Shutdown()
}

// keyRepository opens the sealed key store. BANANAGEN_SECRET_KEY is required.
func (a *app) keyRepository() (*db.KeyRepository, error) {
	if a.cfg.SecretKey == "" {
		return nil, core.ErrMissingSecret()
	}
	sealer, err := secrets.NewSealer(a.cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	return db.NewKeyRepository(a.database, sealer)
}

// applyStoredKeys fills provider keys missing from the environment with
// keys saved by 'configure set-key'. Without a secret key it does nothing.
// When a stored key is applied and mock mode was only on by default, mock
// mode is turned off.
func (a *app) applyStoredKeys(ctx context.Context) error {
	if a.cfg.SecretKey == "" {
		return nil
	}
	keys, err := a.keyRepository()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range []string{core.ProviderGemini, core.ProviderOpenRouter, core.ProviderRequesty} {
		settings, err := a.cfg.Provider(name)
		if err != nil {
			return err
		}
		if settings.Configured() {
			continue
		}
		key, err := keys.LoadKey(ctx, name, a.cfg.Environment)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := a.cfg.ApplyStoredKey(name, key); err != nil {
			return err
		}
		applied++
		a.logger.Debug("using stored provider key", zap.String("provider", name), zap.String("environment", a.cfg.Environment))
	}

	explicit := strings.TrimSpace(os.Getenv("BANANAGEN_MOCK_MODE")) != ""
	if applied > 0 && !explicit {
		a.cfg.MockMode = false
	}
	return nil
}

// resultStore returns the Postgres store when DATABASE_URL is set and the
// SQLite generations table otherwise.
func (a *app) resultStore(ctx context.Context) (imagegen.ResultStore, error) {
	if a.cfg.DatabaseURL == "" {
		return db.NewGenerationStore(a.database), nil
	}
	pgCfg, err := pgstore.ConfigFromEnv(a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store, err := pgstore.Open(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	a.manager.Add("postgres", shutdown.StageStorage, func(context.Context) error {
		store.Close()
		return nil
	})
	a.logger.Info("using postgres generation cache")
	return store, nil
}

// artifactSink returns the MinIO sink when MINIO_ENDPOINT is set and a file
// sink under the output directory otherwise.
func (a *app) artifactSink(ctx context.Context) (imagegen.ArtifactSink, error) {
	if a.cfg.MinIO.Enabled() {
		sink, err := artifacts.NewMinIOSink(a.cfg.MinIO)
		if err != nil {
			return nil, err
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := sink.EnsureBucket(ensureCtx); err != nil {
			return nil, err
		}
		a.logger.Info("storing artifacts in bucket", zap.String("bucket", sink.Bucket()))
		return sink, nil
	}

	sink, err := imagegen.NewFileSink(a.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	a.manager.Add("staging-files", shutdown.StageFiles, shutdown.RemoveStaging(a.logger.Zap(), sink.Dir()))
	return sink, nil
}

// orchestrator wires stored keys, providers, the result store and the sink.
func (a *app) orchestrator(ctx context.Context) (*imagegen.Orchestrator, error) {
	if err := a.applyStoredKeys(ctx); err != nil {
		return nil, err
	}
	providers, err := imagegen.NewProviderSet(a.cfg)
	if err != nil {
		return nil, err
	}
	store, err := a.resultStore(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.artifactSink(ctx)
	if err != nil {
		return nil, err
	}

	a.logger.Info("providers ready",
		zap.Strings("registered", imagegen.ProviderNames(providers)),
		zap.Strings("order", a.cfg.EffectiveOrder()),
		zap.Bool("mock_mode", a.cfg.MockMode))
	return imagegen.NewOrchestrator(store, sink, providers, a.logger)
}

// batchConfig maps configuration onto one Submit call.
func (a *app) batchConfig() imagegen.BatchConfig {
	return imagegen.BatchConfig{
		Concurrency:   a.cfg.Concurrency,
		RateInterval:  a.cfg.RateInterval,
		MaxRetries:    a.cfg.MaxRetries,
		RetryDelay:    a.cfg.RetryDelay,
		ProviderOrder: a.cfg.EffectiveOrder(),
		Fallback:      a.cfg.Fallback,
	}
}

// fail prints err and returns the error exit code.
func fail(stderr io.Writer, err error) int {
	printError(stderr, err)
	return core.ExitCodeError
}
