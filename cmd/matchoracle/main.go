package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/matchoracle/internal/aggregator"
	"github.com/rewired-gh/matchoracle/internal/api"
	"github.com/rewired-gh/matchoracle/internal/breaker"
	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/ensemble"
	"github.com/rewired-gh/matchoracle/internal/learning"
	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/pipeline"
	"github.com/rewired-gh/matchoracle/internal/predictor"
	"github.com/rewired-gh/matchoracle/internal/sources"
	"github.com/rewired-gh/matchoracle/internal/storage"
	"github.com/rewired-gh/matchoracle/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var kv learning.Store = store
	if cfg.Storage.KV == "redis" {
		redisKV, err := storage.NewRedisKV(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal("Failed to initialize Redis: %v", err)
		}
		defer redisKV.Close()
		kv = redisKV
	}

	providers := make([]sources.Provider, 0, len(cfg.Sources))
	registered := make([]breaker.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if sc.Disabled {
			registered = append(registered, breaker.Source{Name: sc.Name, Priority: sc.Priority, Capabilities: sc.Capabilities})
			continue
		}
		p, err := sources.New(sc)
		if err != nil {
			logger.Fatal("Failed to initialize source %s: %v", sc.Name, err)
		}
		providers = append(providers, p)
		registered = append(registered, breaker.Source{
			Name:               sc.Name,
			Priority:           sc.Priority,
			RateLimitPerWindow: sc.RateLimitPerHour,
			Enabled:            true,
			Capabilities:       p.Capabilities(),
		})
	}
	registry := breaker.New(registered, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		Window:           cfg.Breaker.Window,
	})
	agg := aggregator.New(registry, providers, aggregator.Config{
		CallTimeout:    cfg.Aggregator.CallTimeout,
		MaxConcurrency: cfg.Aggregator.MaxConcurrency,
	})
	logger.Info("Registered %d sources in priority order: %v", len(providers), registry.Sources())

	engine := learning.New(ctx, kv, learning.ConfigFromConfig(cfg.Learning))
	synth := predictor.New(predictor.PolicyFromConfig(cfg.Policy), engine)
	ens := ensemble.New(synth, cfg.Ensemble.Weights)

	var opts []pipeline.Option
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		opts = append(opts, pipeline.WithNotifier(telegramClient))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	runner := pipeline.New(agg, ens, store, engine, pipeline.Config{
		PollInterval:       cfg.Pipeline.PollInterval,
		TopK:               cfg.Pipeline.TopK,
		CooldownMultiplier: cfg.Pipeline.CooldownMultiplier,
		MinQuality:         cfg.Pipeline.MinQuality,
	}, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, agg, engine)
	}

	if cfg.Server.Enabled {
		server := api.New(agg, engine, store, cfg.Server.AllowedOrigins)
		go func() {
			if err := server.ListenAndServe(ctx, cfg.Server.Port); err != nil {
				logger.Error("HTTP API stopped: %v", err)
			}
		}()
	}

	logger.Info("Starting pipeline (interval: %v, top_k: %d, min_quality: %d)",
		cfg.Pipeline.PollInterval,
		cfg.Pipeline.TopK,
		cfg.Pipeline.MinQuality,
	)

	ticker := time.NewTicker(cfg.Pipeline.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Pipeline cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	runCycle := func() {
		if _, err := runner.RunCycle(ctx); err != nil && ctx.Err() == nil {
			handleCycleResult(err)
			return
		}
		handleCycleResult(nil)
	}

	logger.Debug("Running initial pipeline cycle")
	runCycle()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled pipeline cycle")
			runCycle()
		}
	}
}
