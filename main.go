package main

import (
	"context"
	"log" // Only for fatal errors before the structured logger is ready

	"derivbot/config"
	"derivbot/internal/adapters/deriv"
	"derivbot/internal/adapters/jsonstore"
	applogger "derivbot/internal/adapters/logger"
	"derivbot/internal/adapters/sqlite"
	"derivbot/internal/aggregator"
	"derivbot/internal/app"
	"derivbot/internal/ports"
	"derivbot/internal/position"
	"derivbot/internal/strategy/strategies"
	"derivbot/internal/supervisor"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := applogger.New(applogger.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Position State Store
	store, err := jsonstore.New(jsonstore.Config{
		Path:   cfg.StatePath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize state store")
		log.Fatalf("FATAL: Failed to initialize state store: %v", err)
	}

	// 4. Initialize Trade History Repository
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 5. Initialize Broker Client (Deriv Adapter)
	broker, err := deriv.New(deriv.Config{
		Endpoint: cfg.Endpoint,
		AppID:    cfg.AppID,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Deriv client")
		log.Fatalf("FATAL: Failed to initialize Deriv client: %v", err)
	}

	// 6. Initialize Strategies
	var strats []ports.Strategy
	if cfg.EnableReversal {
		reversal, err := strategies.NewReversalRun(strategies.ReversalRunConfig{
			UseVolumeGate:   cfg.UseVolumeGate,
			VolumeThreshold: cfg.VolumeThreshold,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize reversal strategy: %v", err)
		}
		strats = append(strats, reversal)
	}
	if cfg.EnableSupportResistance {
		sr, err := strategies.NewSupportResistance(strategies.SupportResistanceConfig{
			Lookback:    cfg.SRLookback,
			Proximity:   cfg.SRProximity,
			VolumeRatio: cfg.SRVolumeRatio,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize support/resistance strategy: %v", err)
		}
		strats = append(strats, sr)
	}

	// 7. Initialize Position Manager (loads persisted state)
	manager, err := position.New(ctx, position.Config{
		BaseStake:            cfg.BaseStake,
		MartingaleMultiplier: cfg.MartingaleMultiplier,
		StakeMode:            cfg.StakeMode,
		Cooldown:             cfg.Cooldown,
	}, cfg.Symbols, store, repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position manager")
		log.Fatalf("FATAL: Failed to initialize position manager: %v", err)
	}

	// 8. Initialize Candle Aggregator
	agg := aggregator.New(cfg.Symbols, cfg.Granularities, appLogger)

	// 9. Initialize Connection Supervisor
	sup, err := supervisor.New(supervisor.Config{
		Token:              cfg.Token,
		Symbols:            cfg.Symbols,
		Granularities:      cfg.Granularities,
		CandleHistoryCount: cfg.CandleHistoryCount,
		ReconnectBase:      cfg.ReconnectBase,
		ReconnectCap:       cfg.ReconnectCap,
	}, broker, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize connection supervisor")
		log.Fatalf("FATAL: Failed to initialize connection supervisor: %v", err)
	}

	// 10. Initialize Application Service
	tradingService, err := app.NewTradingService(cfg, appLogger, broker, agg, strats, manager, sup, repo)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(ctx, "Trading service initialized")

	// 11. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
