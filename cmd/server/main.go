// Package main provides the entry point for the onlytrade agent runtime: a
// multi-agent virtual CN-A trading simulator driven by replayed or
// live-polled market data, heuristic and LLM-assisted decisions, and
// durable JSON/JSONL state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"net/http"

	"github.com/onlytrade/agent-runtime/internal/api"
	"github.com/onlytrade/agent-runtime/internal/chat"
	"github.com/onlytrade/agent-runtime/internal/config"
	"github.com/onlytrade/agent-runtime/internal/decision"
	"github.com/onlytrade/agent-runtime/internal/features"
	"github.com/onlytrade/agent-runtime/internal/journal"
	"github.com/onlytrade/agent-runtime/internal/killswitch"
	"github.com/onlytrade/agent-runtime/internal/llm"
	"github.com/onlytrade/agent-runtime/internal/marketdata"
	"github.com/onlytrade/agent-runtime/internal/memory"
	"github.com/onlytrade/agent-runtime/internal/metrics"
	"github.com/onlytrade/agent-runtime/internal/registry"
	"github.com/onlytrade/agent-runtime/internal/scheduler"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

func main() {
	host := flag.String("host", "0.0.0.0", "Control API host")
	port := flag.Int("port", 8090, "Control API port")
	dataDir := flag.String("data", "./data-root", "Runtime data root directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*dataDir, *logLevel)
	if err != nil {
		logger.Fatal("invalid boot configuration", zap.Error(err))
	}
	cfg.Server.Host = *host
	cfg.Server.Port = *port

	logger.Info("starting onlytrade agent runtime",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Data.DataDir),
		zap.String("data_mode", string(cfg.MarketData.DataMode)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	var metricsCollectors *metrics.Collectors
	if cfg.Server.EnableMetrics {
		metricsCollectors = metrics.New(reg)
		go serveMetrics(logger, reg, cfg.Server.MetricsPort)
	}

	killSw, err := killswitch.New(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize kill switch", zap.Error(err))
	}

	regStore := registry.New(logger, cfg.Data.DataDir)
	memStore := memory.New(logger, cfg.Data.DataDir)
	journalStore := journal.New(logger, cfg.Data.DataDir)
	chatStore := chat.New(logger, cfg.Data.DataDir)
	_ = chatStore // wired through the control API in a fuller deployment; store itself is exercised by its tests

	if cfg.KillSwitch.ResetMemoryOnBoot {
		if agents, err := regStore.Available(); err == nil {
			for _, m := range agents {
				if err := memStore.Reset(m.AgentID); err != nil {
					logger.Warn("failed to reset agent memory", zap.String("agent_id", m.AgentID), zap.Error(err))
				}
			}
		}
	}

	if removed, err := regStore.Reconcile(types.SystemClock.NowMs()); err != nil {
		logger.Warn("registry reconcile failed", zap.Error(err))
	} else if len(removed) > 0 {
		logger.Info("reconciled registry, removed agents without manifests", zap.Strings("agent_ids", removed))
	}

	provider, archive, err := buildMarketDataProvider(logger, cfg.MarketData)
	if err != nil {
		logger.Fatal("failed to initialize market data provider", zap.Error(err))
	}
	marketSvc := marketdata.NewService(logger, provider, archive, cfg.MarketData.StrictLiveMode)

	if replay, ok := provider.(*marketdata.ReplayEngine); ok {
		go replay.Run(ctx)
	}
	if lf, ok := provider.(*marketdata.LiveFileProvider); ok {
		go lf.Run(ctx)
	}

	var llmClient *llm.Client
	if cfg.LLM.Enabled {
		llmClient = llm.New(logger, llm.Config{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			Timeout:    cfg.LLM.TimeoutMs,
			TokenSaver: cfg.LLM.TokenSaver,
		})
	}

	decisionCfg := decision.DefaultConfig()
	decisionCfg.CommissionRate = cfg.Decision.CommissionRate
	decisionCfg.FlatEntryEnabled = cfg.Decision.FlatEntryEnabled
	decisionCfg.FlatEntryMinConfidence = cfg.Decision.FlatEntryMinConfidence
	decisionCfg.FlatEntryMinCycles = cfg.Decision.FlatEntryMinCycles
	decisionCfg.FlatEntryMaxRSI = cfg.Decision.FlatEntryMaxRSI
	decisionCfg.FlatEntryLots = cfg.Decision.FlatEntryLots
	decisionCfg.ConservativeProbeSize = cfg.Decision.ConservativeProbeSize
	decisionCfg.ConservativeProbeMinCycles = cfg.Decision.ConservativeProbeMinCycles
	decisionCfg.ConservativeProbeMaxRSI = cfg.Decision.ConservativeProbeMaxRSI
	decisionCfg.ConservativeProbeRetFloor = cfg.Decision.ConservativeProbeRetFloor
	engine := decision.New(logger, decisionCfg)

	evaluator := features.NewEvaluator()

	sched := scheduler.New(logger, cfg.Scheduler, scheduler.Deps{
		MarketService: marketSvc,
		History:       archive,
		Evaluator:     evaluator,
		Engine:        engine,
		LLMClient:     llmClient,
		LLMConfig:     cfg.LLM,
		MemoryStore:   memStore,
		JournalStore:  journalStore,
		RegistryStore: regStore,
		KillSwitch:    killSw,
		Metrics:       metricsCollectors,
	})

	if cfg.MarketData.DataMode == types.RuntimeDataModeLiveFile {
		go sched.Run(ctx)
	} else if replay, ok := provider.(*marketdata.ReplayEngine); ok {
		go driveReplayCadence(ctx, replay, sched, cfg.Scheduler.DecisionEveryBars)
	}

	if cfg.Scheduler.SessionGuardEnabled {
		go sched.SessionGuard(ctx, cfg.Scheduler.SessionGuardInterval, "market_closed")
	}

	server := api.NewServer(logger, cfg.Server, marketSvc, regStore, killSw, journalStore, sched, types.SystemClock)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("control api server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("onlytrade agent runtime stopped")
}

// buildMarketDataProvider selects the replay or live-file provider per
// RUNTIME_DATA_MODE, plus an optional static archive used both as the
// replay timeline and as the service's daily-archive fallback.
func buildMarketDataProvider(logger *zap.Logger, cfg types.MarketDataConfig) (marketdata.Provider, *marketdata.Archive, error) {
	archivePath := "data/market/archive.json"
	archive, archiveErr := marketdata.LoadArchive(archivePath)
	if archiveErr != nil {
		logger.Warn("no static archive available", zap.Error(archiveErr))
		archive = nil
	}

	switch cfg.DataMode {
	case types.RuntimeDataModeLiveFile:
		return marketdata.NewLiveFileProvider(logger, cfg.LiveFramesPath, cfg.LiveRefresh, cfg.LiveStaleAfter), archive, nil
	case types.RuntimeDataModeReplay:
		if archive == nil {
			return nil, nil, fmt.Errorf("replay mode requires a readable archive at %s: %w", archivePath, archiveErr)
		}
		return marketdata.NewReplayEngine(logger, archive, cfg.WarmupBars, cfg.ReplayTickMs, cfg.ReplaySpeed, cfg.ReplayLoop), archive, nil
	default:
		return nil, nil, fmt.Errorf("unknown RUNTIME_DATA_MODE %q", cfg.DataMode)
	}
}

// driveReplayCadence gives the scheduler its event-driven cadence in replay
// mode: every decisionEveryBars cursor advances, trigger one cycle, rather
// than running the scheduler's own timer loop.
func driveReplayCadence(ctx context.Context, replay *marketdata.ReplayEngine, sched *scheduler.Scheduler, everyBars int) {
	if everyBars <= 0 {
		everyBars = 1
	}
	var lastCycle int64 = -1
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := replay.CycleNumber()
			if cur < lastCycle {
				// the replay looped back to the start of the archive
				lastCycle = cur
			}
			if cur-lastCycle >= int64(everyBars) {
				lastCycle = cur
				sched.TriggerCycle(ctx)
			}
		}
	}
}

func serveMetrics(logger *zap.Logger, reg *prometheus.Registry, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
