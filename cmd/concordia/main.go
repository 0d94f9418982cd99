package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/handlers"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/server"
	"github.com/ternarybob/concordia/internal/services/extract"
	"github.com/ternarybob/concordia/internal/services/processing"
	"github.com/ternarybob/concordia/internal/services/sync"
	"github.com/ternarybob/concordia/internal/services/targets"
	"github.com/ternarybob/concordia/internal/storage/sqlite"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Concordia version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("concordia.toml"); err == nil {
			configFiles = append(configFiles, "concordia.toml")
		}
	}

	// Startup sequence: defaults -> config files -> env -> CLI flags
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *serverPort, *serverHost)

	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(common.GetFullVersion())
	common.InstallCrashHandler("logs")

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("sqlite_path", config.Storage.SQLite.Path).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	// Relational store: datasource configs + document sync state
	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite, config.Sync.WatchInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open SQLite storage")
	}
	defer storage.Close()

	// Index targets
	var vectorTarget, searchTarget, graphTarget interfaces.IndexTarget
	var searchStore *targets.SearchTarget
	var badgerDB *targets.BadgerDB

	if config.Targets.Vector || config.Targets.Graph {
		badgerDB, err = targets.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open Badger storage")
		}
		defer badgerDB.Close()
	}
	if config.Targets.Vector {
		vectorTarget = targets.NewVectorTarget(badgerDB, logger)
	}
	if config.Targets.Search {
		searchStore = targets.NewSearchTarget(storage.DB().DB(), logger)
		searchTarget = searchStore
	}
	if config.Targets.Graph {
		extractor, err := extract.NewClaudeExtractor(&config.Extractor, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Graph target disabled: entity extractor unavailable")
		} else {
			graphTarget = targets.NewGraphTarget(badgerDB, extractor, logger)
		}
	}

	processor := processing.NewPlaintextProcessor(logger)

	// Sync orchestrator: one worker per active datasource
	orchestrator := sync.NewOrchestrator(logger, &config.Sync, storage, processor,
		vectorTarget, searchTarget, graphTarget)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start sync orchestrator")
	}

	// Admin API
	datasourceHandler := handlers.NewDataSourceHandler(storage.ConfigStorage(), orchestrator, logger)
	searchHandler := handlers.NewSearchHandler(searchStore, logger)
	apiHandler := handlers.NewAPIHandler(logger)
	srv := server.New(logger, config, datasourceHandler, searchHandler, apiHandler)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Int("workers", orchestrator.WorkerCount()).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	// Graceful shutdown: stop workers first so no writes race the store teardown
	orchestrator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
