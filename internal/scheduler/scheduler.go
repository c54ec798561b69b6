// Package scheduler implements the runtime loop: a single-flight cadence
// controller that iterates the running trader set once per cycle, building
// each trader's decision context and routing it through the LLM client (if
// enabled) and the decision engine, then persisting memory and journal
// state. Uses a stopChan ticker pattern with an atomic running flag and an
// atomic in-flight flag for the single-flight guard; completed cycles are
// published on a channel the control API's WebSocket hub drains.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/internal/decision"
	"github.com/onlytrade/agent-runtime/internal/features"
	"github.com/onlytrade/agent-runtime/internal/journal"
	"github.com/onlytrade/agent-runtime/internal/killswitch"
	"github.com/onlytrade/agent-runtime/internal/llm"
	"github.com/onlytrade/agent-runtime/internal/marketdata"
	"github.com/onlytrade/agent-runtime/internal/memory"
	"github.com/onlytrade/agent-runtime/internal/metrics"
	"github.com/onlytrade/agent-runtime/internal/registry"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

// CycleEvent is published on every completed cycle for the WebSocket hub.
type CycleEvent struct {
	CycleNumber int64                 `json:"cycle_number"`
	TsMs        int64                 `json:"ts_ms"`
	Records     []types.DecisionRecord `json:"records"`
}

// HistoryProvider supplies the trailing bar window features are computed
// from; the replay/live-file archive or a thin in-memory ring satisfies it.
type HistoryProvider interface {
	BarsFor(symbol string) []types.Bar
	Symbols() []string
}

// Scheduler is the single-flight cadence controller.
type Scheduler struct {
	logger      *zap.Logger
	cfg         types.SchedulerConfig
	llmCfg      types.LLMConfig
	marketSvc   *marketdata.Service
	history     HistoryProvider
	evaluator   *features.Evaluator
	engine      *decision.Engine
	llmClient   *llm.Client
	memStore    *memory.Store
	journalSt   *journal.Store
	regStore    *registry.Store
	killSwitch  *killswitch.Switch
	metrics     *metrics.Collectors
	clock       types.Clock

	events chan CycleEvent

	inFlight     atomic.Bool
	pendingMu    sync.Mutex
	pendingSteps int

	stopCh  chan struct{}
	running atomic.Bool

	cycleNumber atomic.Int64
}

// Deps bundles the Scheduler's collaborators.
type Deps struct {
	MarketService *marketdata.Service
	History       HistoryProvider
	Evaluator     *features.Evaluator
	Engine        *decision.Engine
	LLMClient     *llm.Client
	LLMConfig     types.LLMConfig
	MemoryStore   *memory.Store
	JournalStore  *journal.Store
	RegistryStore *registry.Store
	KillSwitch    *killswitch.Switch
	Metrics       *metrics.Collectors
	Clock         types.Clock
}

// New constructs a Scheduler from its dependencies.
func New(logger *zap.Logger, cfg types.SchedulerConfig, deps Deps) *Scheduler {
	clock := deps.Clock
	if clock == nil {
		clock = types.SystemClock
	}
	return &Scheduler{
		logger:     logger.Named("scheduler"),
		cfg:        cfg,
		llmCfg:     deps.LLMConfig,
		marketSvc:  deps.MarketService,
		history:    deps.History,
		evaluator:  deps.Evaluator,
		engine:     deps.Engine,
		llmClient:  deps.LLMClient,
		memStore:   deps.MemoryStore,
		journalSt:  deps.JournalStore,
		regStore:   deps.RegistryStore,
		killSwitch: deps.KillSwitch,
		metrics:    deps.Metrics,
		clock:      clock,
		events:     make(chan CycleEvent, 64),
	}
}

// Events returns the channel of completed-cycle notifications.
func (s *Scheduler) Events() <-chan CycleEvent { return s.events }

// Run starts the timer-driven cycle loop (used in live_file mode). In replay
// mode, callers instead invoke TriggerCycle directly off the replay engine's
// bar-advance ticks (event-driven cadence).
func (s *Scheduler) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})

	ticker := time.NewTicker(s.cfg.CycleMs)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			s.running.Store(false)
			return
		case <-ticker.C:
			s.TriggerCycle(ctx)
		}
	}
}

// Stop halts the timer-driven loop. Any in-flight cycle finishes normally.
func (s *Scheduler) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
	}
}

// TriggerCycle requests a cycle run. If a cycle is already in flight, the
// request coalesces into a single pending step rather than spawning a
// second concurrent cycle.
func (s *Scheduler) TriggerCycle(ctx context.Context) {
	if s.killSwitch.Active() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.pendingMu.Lock()
		s.pendingSteps++
		s.pendingMu.Unlock()
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		s.runOnce(ctx)

		s.pendingMu.Lock()
		coalesced := s.pendingSteps
		s.pendingSteps = 0
		s.pendingMu.Unlock()
		if coalesced > 0 && !s.killSwitch.Active() {
			s.TriggerCycle(ctx)
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cycleNum := s.cycleNumber.Add(1)
	now := s.clock.Now()
	nowMs := now.UnixMilli()

	bars, err := s.marketSvc.Resolve()
	if err != nil {
		s.logger.Warn("market data unavailable, skipping cycle", zap.Error(err))
		return
	}
	barBySymbol := make(map[string]types.Bar, len(bars))
	for _, b := range bars {
		barBySymbol[b.Symbol] = b
	}

	phase := marketdata.SessionPhaseFor(now)

	candidates := make([]types.CandidateFeatures, 0, len(bars))
	historyLens := make(map[string]int, len(bars))
	for _, b := range bars {
		hist := s.history.BarsFor(b.Symbol)
		historyLens[b.Symbol] = len(hist)
		if f, ok := features.Compute(b.Symbol, hist); ok {
			f.MacroNote = features.MacroNote(f)
			candidates = append(candidates, f)
		}
	}
	candidates = features.CandidateSet(candidates)
	readiness := s.evaluator.Evaluate(bars, historyLens, phase, now)
	if s.metrics != nil {
		s.metrics.ReadinessLevel.WithLabelValues("_global").Set(float64(readiness.Level))
	}

	traders, err := s.regStore.Running()
	if err != nil {
		s.logger.Error("failed to read running trader set", zap.Error(err))
		return
	}

	records := make([]types.DecisionRecord, 0, len(traders))
	for _, traderID := range traders {
		rec := s.runTrader(ctx, traderID, candidates, readiness, phase, nowMs, cycleNum)
		records = append(records, rec)
	}

	select {
	case s.events <- CycleEvent{CycleNumber: cycleNum, TsMs: nowMs, Records: records}:
	default:
	}
}

func (s *Scheduler) runTrader(ctx context.Context, traderID string, candidates []types.CandidateFeatures, readiness types.ReadinessReport, phase types.SessionPhase, nowMs int64, cycleNum int64) types.DecisionRecord {
	manifest, err := s.regStore.Manifest(traderID)
	if err != nil {
		s.logger.Warn("skipping trader with no manifest", zap.String("trader_id", traderID), zap.Error(err))
		return types.DecisionRecord{TraderID: traderID, Success: false}
	}

	seed := types.MemorySnapshot{Cash: manifest.InitialCash}
	seed.AgentID = traderID
	seed.Config = types.MemoryConfig{
		InitialBalance:    manifest.InitialCash,
		DecisionEveryBars: s.cfg.DecisionEveryBars,
		LLMModel:          manifest.AIModel,
		CommissionRate:    s.engine.CommissionRate(),
	}
	mem, err := s.memStore.Load(traderID, seed)
	if err != nil {
		s.logger.Error("failed to load memory", zap.String("trader_id", traderID), zap.Error(err))
		return types.DecisionRecord{TraderID: traderID, Success: false}
	}

	dc := types.DecisionContext{
		TraderID:     traderID,
		Manifest:     manifest,
		Memory:       mem,
		Candidates:   candidates,
		Readiness:    readiness,
		SessionPhase: phase,
		NowMs:        nowMs,
		CycleNumber:  cycleNum,
		CallCount:    mem.CallCount,
	}

	var llmDecision *types.Decision
	llmUsed := false
	llmErrStr := ""
	if s.llmCfg.Enabled && s.llmClient != nil && readiness.Level != types.ReadinessError {
		timeout := s.llmCfg.TimeoutMs
		if timeout <= 0 {
			timeout = 7 * time.Second
		}
		llmCtx, cancel := context.WithTimeout(ctx, timeout)
		d, err := s.llmClient.Decide(llmCtx, dc)
		cancel()
		if err != nil {
			llmErrStr = err.Error()
			if s.metrics != nil {
				s.metrics.LLMCallsTotal.WithLabelValues("error").Inc()
			}
		} else {
			llmDecision = &d
			llmUsed = true
			if s.metrics != nil {
				s.metrics.LLMCallsTotal.WithLabelValues("ok").Inc()
			}
		}
	}

	start := time.Now()
	rec, newMem, applied := s.engine.Evaluate(dc, llmDecision)
	if s.metrics != nil {
		s.metrics.DecisionLatency.WithLabelValues(traderID).Observe(time.Since(start).Seconds())
		s.metrics.CyclesTotal.WithLabelValues(traderID).Inc()
	}

	if err := s.memStore.Save(newMem); err != nil {
		s.logger.Error("failed to save memory", zap.String("trader_id", traderID), zap.Error(err))
	}
	if err := s.journalSt.AppendDecision(rec); err != nil {
		s.logger.Error("failed to append decision log", zap.String("trader_id", traderID), zap.Error(err))
	}
	if err := s.journalSt.AppendAudit(types.AuditRecord{
		TraderID:          traderID,
		CycleNumber:        cycleNum,
		TsMs:               nowMs,
		ReadinessLevel:     readiness.Level.String(),
		ReadinessReasons:   readiness.Reasons,
		LLMUsed:            llmUsed,
		LLMError:           llmErrStr,
		GuardrailsApplied:  applied,
	}); err != nil {
		s.logger.Error("failed to append audit log", zap.String("trader_id", traderID), zap.Error(err))
	}

	return rec
}

// SessionGuard polls the market session phase on an interval and engages
// (or releases) an automatic pause when the market is closed, generalized
// from a fixed trading-hours gate to the CN-A session calendar.
func (s *Scheduler) SessionGuard(ctx context.Context, interval time.Duration, autoPauseReason string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase := marketdata.SessionPhaseFor(s.clock.Now())
			closed := phase == types.SessionClosed
			active := s.killSwitch.Active()
			state := s.killSwitch.State()
			if closed && !active {
				if err := s.killSwitch.Activate(autoPauseReason, "session_guard", s.clock.NowMs()); err != nil {
					s.logger.Error("session guard failed to pause", zap.Error(err))
				}
			} else if !closed && active && state.ActivatedBy == "session_guard" {
				if err := s.killSwitch.Deactivate("session_guard", s.clock.NowMs()); err != nil {
					s.logger.Error("session guard failed to resume", zap.Error(err))
				}
			}
		}
	}
}

// ErrSchedulerStopped is returned by control-plane callers that try to act
// on a scheduler after Stop.
var ErrSchedulerStopped = fmt.Errorf("scheduler_stopped")
