// Command ingestord runs the ingestion engine as a long-lived process: it
// loads configuration, wires the fetch/structure/extraction pipeline, and
// hands it to the scheduler for periodic execution until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/fetchengine"
	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/opsapi"
	"github.com/brinkhollow/ingestor/repository"
	"github.com/brinkhollow/ingestor/scheduler"
	"github.com/brinkhollow/ingestor/selectorcache"
	"github.com/brinkhollow/ingestor/snapshot"
	"github.com/brinkhollow/ingestor/structure"
)

const (
	defaultConfigFile = "./config.yaml"
	defaultLogLevel   = "info"
)

type appConfig struct {
	configFile string
	logLevel   string
}

func main() {
	cfg := parseFlags()

	log := setupLogger(cfg.logLevel)
	log.Info("starting ingestord", "config_file", cfg.configFile, "log_level", cfg.logLevel)

	var engineCfg *config.Config
	if _, err := os.Stat(cfg.configFile); err == nil {
		engineCfg, err = config.Load(cfg.configFile)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	} else {
		log.Info("config file not found, using defaults", "checked", cfg.configFile)
		engineCfg = config.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := fetchengine.New(*engineCfg, log)
	defer fetcher.Close()

	llmClient := llm.NewProvider(engineCfg.LLM, engineCfg.Retry)

	cacheStore := buildSelectorCache(engineCfg.Cache, log)
	structEngine := structure.New(llmClient, cacheStore)

	sources := make([]model.Source, 0, len(engineCfg.Sources))
	for _, seed := range engineCfg.Sources {
		sources = append(sources, model.Source{ID: seed.ID, URL: seed.URL, Name: seed.Name})
	}
	store := repository.NewInMemoryStore(sources)

	s3Archiver, err := snapshot.NewS3Archiver(ctx, engineCfg.Snapshot, log)
	if err != nil {
		log.Error("failed to initialise snapshot archiver", "error", err)
		os.Exit(1)
	}
	// s3Archiver is a typed *S3Archiver; assigning a nil pointer straight
	// into the snapshot.Archiver interface field would produce a non-nil
	// interface holding a nil value, defeating StoreBestEffort's nil check.
	var archiver snapshot.Archiver
	if s3Archiver != nil {
		archiver = s3Archiver
	}

	sched := scheduler.New(scheduler.Deps{
		Fetcher:   fetcher,
		Structure: structEngine,
		LLMClient: llmClient,
		Sources:   store,
		Articles:  store,
		Archiver:  archiver,
	}, engineCfg.Scheduler, log)

	sched.Initialize(ctx)
	log.Info("scheduler initialised", "interval_hours", engineCfg.Scheduler.GetIntervalHours(), "sources", len(sources))

	var opsServer *http.Server
	if engineCfg.OpsAPI.Enabled {
		srv, err := opsapi.NewServer(engineCfg.OpsAPI, sched, log)
		if err != nil {
			log.Error("failed to build ops API", "error", err)
			os.Exit(1)
		}
		opsServer = &http.Server{
			Addr:         engineCfg.OpsAPI.GetListenAddr(),
			Handler:      srv.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("starting ops API", "addr", opsServer.Addr)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("ops API server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig.String())
	cancel()

	sched.Stop()

	if opsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("ops API shutdown error", "error", err)
		}
	}

	log.Info("ingestord shutdown complete")
}

// buildSelectorCache picks a Redis-backed cache when a URL is configured,
// falling back to the in-process store otherwise.
func buildSelectorCache(cfg config.CacheConfig, log *slog.Logger) selectorcache.Store {
	if cfg.RedisURL == "" {
		log.Info("selector cache disabled (no redis URL configured), using in-memory store")
		return selectorcache.NewMemoryStore()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("failed to parse selector cache redis URL, falling back to in-memory", "error", err)
		return selectorcache.NewMemoryStore()
	}
	client := redis.NewClient(opts)
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	log.Info("selector cache using redis", "ttl", ttl)
	return selectorcache.NewRedisStore(client, ttl)
}

func parseFlags() *appConfig {
	cfg := &appConfig{}

	flag.StringVar(&cfg.configFile, "config", getEnv("CONFIG_FILE", defaultConfigFile),
		"Path to config file (optional)")
	flag.StringVar(&cfg.logLevel, "log-level", getEnv("LOG_LEVEL", defaultLogLevel),
		"Log level: debug, info, warn, error")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ingestord - adaptive web-content ingestion engine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CONFIG_FILE   Path to config file (default: %s)\n", defaultConfigFile)
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL     Log level: debug, info, warn, error (default: %s)\n", defaultLogLevel)
	}

	flag.Parse()
	return cfg
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		slog.Warn("unknown log level, using info", "level", level)
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
