package decision

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func candidate(symbol string, rankScore float64) types.CandidateFeatures {
	return types.CandidateFeatures{
		Symbol:    symbol,
		LastClose: dec("10.00"),
		RankScore: rankScore,
		ATR14:     dec("0.20"),
		RSI14:     50,
	}
}

func baseContext(style string, cash string, holdings map[string]types.Holding) types.DecisionContext {
	return types.DecisionContext{
		TraderID: "trader_a",
		Manifest: types.AgentManifest{AgentID: "trader_a", TradingStyle: style, InitialCash: dec(cash)},
		Memory: types.MemorySnapshot{
			Schema:   "agent.memory.v2",
			AgentID:  "trader_a",
			Cash:     dec(cash),
			Holdings: holdings,
		},
		Candidates:   []types.CandidateFeatures{candidate("600000.SH", -0.5)},
		Readiness:    types.ReadinessReport{Level: types.ReadinessOK},
		SessionPhase: types.SessionContinuousAM,
		NowMs:        1000,
		CycleNumber:  1,
	}
}

func newTestEngine() *Engine {
	return New(zap.NewNop(), DefaultConfig())
}

func TestEvaluate_ReadinessErrorForcesHold(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "100000", nil)
	dc.Readiness = types.ReadinessReport{Level: types.ReadinessError, Reasons: []string{"no frames"}}

	rec, _, applied := e.Evaluate(dc, nil)

	if len(rec.Decisions) != 1 || rec.Decisions[0].Action != "hold" {
		t.Fatalf("expected a forced hold, got %+v", rec.Decisions)
	}
	found := false
	for _, a := range applied {
		if a == "readiness_gate_error_forces_hold" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected readiness_gate_error_forces_hold in applied guardrails, got %v", applied)
	}
}

func TestEvaluate_LongOnlyGuardCapsSellToHeldShares(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "50000", map[string]types.Holding{
		"600000.SH": {Symbol: "600000.SH", Shares: 100, AvgCost: dec("9.00")},
	})
	llm := &types.Decision{Action: "sell", Symbol: "600000.SH", Quantity: 500, Confidence: 0.7}

	rec, newMem, _ := e.Evaluate(dc, llm)

	d := rec.Decisions[0]
	if d.Action != "sell" {
		t.Fatalf("expected sell, got %s", d.Action)
	}
	if d.Quantity > 100 {
		t.Fatalf("expected quantity capped to held shares (100), got %d", d.Quantity)
	}
	if _, ok := newMem.Holdings["600000.SH"]; ok {
		t.Fatalf("expected the full 100-share position to be closed, holdings=%+v", newMem.Holdings)
	}
}

func TestEvaluate_LongOnlyGuardBlocksSellWithNoPosition(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "50000", nil)
	llm := &types.Decision{Action: "sell", Symbol: "600000.SH", Quantity: 100, Confidence: 0.7}

	rec, _, applied := e.Evaluate(dc, llm)

	if rec.Decisions[0].Action != "hold" {
		t.Fatalf("expected hold when trader has no position to sell, got %s", rec.Decisions[0].Action)
	}
	hasGuard := false
	for _, a := range applied {
		if a == "long_only_guard_no_position" {
			hasGuard = true
		}
	}
	if !hasGuard {
		t.Fatalf("expected long_only_guard_no_position guardrail, got %v", applied)
	}
}

func TestEvaluate_QuantitiesAreLotSizeMultiples(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "1000000", nil)
	llm := &types.Decision{Action: "buy", Symbol: "600000.SH", Quantity: 733, Confidence: 0.7, Price: dec("10.00")}

	rec, _, _ := e.Evaluate(dc, llm)

	if rec.Decisions[0].Quantity%lotSize != 0 {
		t.Fatalf("expected a lot-size multiple of %d, got %d", lotSize, rec.Decisions[0].Quantity)
	}
}

func TestEvaluate_ConfidenceClampedToDocumentedRange(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "100000", nil)

	tooLow := &types.Decision{Action: "hold", Confidence: 0.1}
	rec, _, _ := e.Evaluate(dc, tooLow)
	if rec.Decisions[0].Confidence < 0.51 || rec.Decisions[0].Confidence > 0.95 {
		t.Fatalf("confidence out of [0.51, 0.95]: %v", rec.Decisions[0].Confidence)
	}

	tooHigh := &types.Decision{Action: "hold", Confidence: 0.999}
	rec2, _, _ := e.Evaluate(dc, tooHigh)
	if rec2.Decisions[0].Confidence < 0.51 || rec2.Decisions[0].Confidence > 0.95 {
		t.Fatalf("confidence out of [0.51, 0.95]: %v", rec2.Decisions[0].Confidence)
	}
}

func TestEvaluate_CashReserveFloorBlocksOverspend(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "1000", nil)
	llm := &types.Decision{Action: "buy", Symbol: "600000.SH", Quantity: 100, Confidence: 0.9, Price: dec("10.00")}

	rec, newMem, _ := e.Evaluate(dc, llm)

	floor := dec("1000").Mul(dec("0.05"))
	if newMem.Cash.LessThan(floor.Sub(dec("0.01"))) {
		t.Fatalf("cash dropped below reserve floor: cash=%s floor=%s", newMem.Cash, floor)
	}
	_ = rec
}

func TestEvaluate_PositionCountCapBlocksNewSymbol(t *testing.T) {
	e := newTestEngine()
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	e = New(zap.NewNop(), cfg)

	dc := baseContext("momentum_trend", "1000000", map[string]types.Holding{
		"600001.SH": {Symbol: "600001.SH", Shares: 100, AvgCost: dec("9.00")},
	})
	llm := &types.Decision{Action: "buy", Symbol: "600000.SH", Quantity: 100, Confidence: 0.9, Price: dec("10.00")}

	rec, _, applied := e.Evaluate(dc, llm)

	if rec.Decisions[0].Action != "hold" {
		t.Fatalf("expected position_count_cap to force hold, got %s", rec.Decisions[0].Action)
	}
	found := false
	for _, a := range applied {
		if a == "position_count_cap" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected position_count_cap guardrail, got %v", applied)
	}
}

func TestFill_BuyUpdatesWeightedAverageCost(t *testing.T) {
	e := newTestEngine()
	mem := types.MemorySnapshot{
		Cash: dec("100000"),
		Holdings: map[string]types.Holding{
			"600000.SH": {Symbol: "600000.SH", Shares: 100, AvgCost: dec("10.00")},
		},
	}
	p := proposal{action: "buy", symbol: "600000.SH", quantity: 100, price: dec("12.00")}

	newMem, _, err := e.fill(mem, p)
	if err != nil {
		t.Fatalf("unexpected fill error: %v", err)
	}

	held := newMem.Holdings["600000.SH"]
	wantAvg := dec("11.00") // (100*10 + 100*12) / 200
	if !held.AvgCost.Equal(wantAvg) {
		t.Fatalf("expected weighted avg cost %s, got %s", wantAvg, held.AvgCost)
	}
	if held.Shares != 200 {
		t.Fatalf("expected 200 shares, got %d", held.Shares)
	}
}

func TestFill_SellRealizesPnLAndDeductsFee(t *testing.T) {
	e := newTestEngine()
	mem := types.MemorySnapshot{
		Cash: dec("0"),
		Holdings: map[string]types.Holding{
			"600000.SH": {Symbol: "600000.SH", Shares: 100, AvgCost: dec("10.00")},
		},
	}
	p := proposal{action: "sell", symbol: "600000.SH", quantity: 100, price: dec("12.00")}

	newMem, _, err := e.fill(mem, p)
	if err != nil {
		t.Fatalf("unexpected fill error: %v", err)
	}

	fee := feeFor(e.cfg.CommissionRate, p.price, p.quantity)
	wantRealized := dec("12.00").Sub(dec("10.00")).Mul(decimal.NewFromInt(100)).Sub(fee)
	if !newMem.RealizedPnL.Equal(wantRealized) {
		t.Fatalf("expected realized pnl %s, got %s", wantRealized, newMem.RealizedPnL)
	}
	if _, ok := newMem.Holdings["600000.SH"]; ok {
		t.Fatalf("expected position fully closed, got %+v", newMem.Holdings)
	}
}

func TestFill_InsufficientCashRejectsBuy(t *testing.T) {
	e := newTestEngine()
	mem := types.MemorySnapshot{Cash: dec("100")}
	p := proposal{action: "buy", symbol: "600000.SH", quantity: 100, price: dec("10.00")}

	_, _, err := e.fill(mem, p)
	if err == nil {
		t.Fatalf("expected insufficient_cash error")
	}
}

func TestFill_InsufficientSharesRejectsSell(t *testing.T) {
	e := newTestEngine()
	mem := types.MemorySnapshot{
		Cash:     dec("0"),
		Holdings: map[string]types.Holding{"600000.SH": {Symbol: "600000.SH", Shares: 50, AvgCost: dec("10.00")}},
	}
	p := proposal{action: "sell", symbol: "600000.SH", quantity: 100, price: dec("10.00")}

	_, _, err := e.fill(mem, p)
	if err == nil {
		t.Fatalf("expected insufficient_shares error")
	}
}

func TestEvaluate_AntiStallFlatEntryFiresAfterMinCycles(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "1000000", nil)
	dc.Candidates = []types.CandidateFeatures{{
		Symbol: "600000.SH", LastClose: dec("10.00"), RSI14: 50,
		SMA20: dec("10.0"), SMA60: dec("9.5"),
	}}
	dc.Memory.FlatCycles = 5

	rec, newMem, applied := e.Evaluate(dc, nil)

	if rec.Decisions[0].Action != "buy" {
		t.Fatalf("expected anti-stall flat entry to buy, got %s", rec.Decisions[0].Action)
	}
	found := false
	for _, a := range applied {
		if a == "anti_stall_flat_entry" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected anti_stall_flat_entry guardrail, got %v", applied)
	}
	if _, ok := newMem.Holdings["600000.SH"]; !ok {
		t.Fatalf("expected the flat-entry buy to be filled, holdings=%+v", newMem.Holdings)
	}
}

func TestEvaluate_AntiStallSkippedWhenBearishTrend(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "1000000", nil)
	dc.Candidates = []types.CandidateFeatures{{
		Symbol: "600000.SH", LastClose: dec("10.00"), RSI14: 50,
		SMA20: dec("9.0"), SMA60: dec("9.5"),
	}}
	dc.Memory.FlatCycles = 5

	rec, _, _ := e.Evaluate(dc, nil)

	if rec.Decisions[0].Action != "hold" {
		t.Fatalf("expected bearish trend to suppress the anti-stall entry, got %s", rec.Decisions[0].Action)
	}
}

func TestEvaluate_ConservativeProbeFiresForMeanReversionConservative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlatEntryEnabled = false
	e := New(zap.NewNop(), cfg)
	dc := baseContext("mean_reversion", "1000000", nil)
	dc.Manifest.RiskProfile = "conservative"
	dc.Candidates = []types.CandidateFeatures{{
		Symbol: "600000.SH", LastClose: dec("10.00"), RSI14: 40, Ret5: -0.02,
		SMA20: dec("10.0"), SMA60: dec("9.5"),
	}}
	dc.Memory.FlatCycles = 8

	rec, _, applied := e.Evaluate(dc, nil)

	if rec.Decisions[0].Action != "buy" {
		t.Fatalf("expected conservative probe to buy, got %s", rec.Decisions[0].Action)
	}
	found := false
	for _, a := range applied {
		if a == "anti_stall_conservative_probe" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected anti_stall_conservative_probe guardrail, got %v", applied)
	}
}

func TestEvaluate_DecisionSourceReflectsLLMVsHeuristic(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "100000", nil)

	recHeuristic, _, _ := e.Evaluate(dc, nil)
	if recHeuristic.DecisionSource != types.DecisionSourceRuleHeuristic {
		t.Fatalf("expected rule.heuristic source with no LLM decision, got %q", recHeuristic.DecisionSource)
	}

	llm := &types.Decision{Action: "hold", Confidence: 0.6}
	recLLM, _, _ := e.Evaluate(dc, llm)
	if recLLM.DecisionSource != types.DecisionSourceLLM {
		t.Fatalf("expected llm.openai source with an LLM decision, got %q", recLLM.DecisionSource)
	}
}

func TestEvaluate_ReadinessGateSetsDecisionSource(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "100000", nil)
	dc.Readiness = types.ReadinessReport{Level: types.ReadinessError}

	rec, _, _ := e.Evaluate(dc, nil)
	if rec.DecisionSource != types.DecisionSourceReadinessGate {
		t.Fatalf("expected readiness_gate source, got %q", rec.DecisionSource)
	}
}

func TestEvaluate_PopulatesAccountStateAndBookkeeping(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "1000000", nil)
	llm := &types.Decision{Action: "buy", Symbol: "600000.SH", Quantity: 100, Confidence: 0.9, Price: dec("10.00")}

	rec, newMem, _ := e.Evaluate(dc, llm)

	if rec.AccountState.AvailableBalance.IsZero() && rec.AccountState.TotalBalance.IsZero() {
		t.Fatalf("expected a populated account_state, got %+v", rec.AccountState)
	}
	if newMem.Stats.Decisions != 1 {
		t.Fatalf("expected stats.decisions=1, got %d", newMem.Stats.Decisions)
	}
	if len(newMem.EquityCurve) != 1 {
		t.Fatalf("expected one equity_curve sample, got %d", len(newMem.EquityCurve))
	}
	if len(rec.Decisions[0].OrderID) == 0 {
		t.Fatalf("expected an order_id on an executed decision")
	}
	if rec.Decisions[0].FilledQuantity != 100 {
		t.Fatalf("expected filled_quantity 100, got %d", rec.Decisions[0].FilledQuantity)
	}
}

func TestEvaluate_NoHoldingEverGoesNegative(t *testing.T) {
	e := newTestEngine()
	dc := baseContext("momentum_trend", "100000", map[string]types.Holding{
		"600000.SH": {Symbol: "600000.SH", Shares: 100, AvgCost: dec("10.00")},
	})
	llm := &types.Decision{Action: "sell", Symbol: "600000.SH", Quantity: 100, Confidence: 0.9, Price: dec("11.00")}

	_, newMem, _ := e.Evaluate(dc, llm)

	for sym, h := range newMem.Holdings {
		if h.Shares <= 0 {
			t.Fatalf("holding %s has non-positive shares: %d", sym, h.Shares)
		}
	}
}
