// Package decision implements the guardrail pipeline every trader cycle runs
// through: a heuristic (or LLM-proposed) action is generated, then clamped by
// a sequence of risk guardrails, then filled against the current bar, and
// finally emitted as a DecisionRecord. Generalized from a live
// multi-exchange order gate's staged-violations shape into a deterministic
// same-bar CN-A fill simulation.
package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
	"github.com/onlytrade/agent-runtime/pkg/utils"
)

// shanghai is reused for trading-day bucketing of the daily journal.
var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

const lotSize = 100

// Config mirrors types.DecisionConfig plus the guardrail thresholds that are
// tunable, not literal constants.
type Config struct {
	CommissionRate         float64
	FlatEntryEnabled       bool
	FlatEntryMinConfidence float64
	FlatEntryMinCycles     int64
	FlatEntryMaxRSI        float64
	FlatEntryLots          int64
	ConservativeProbeSize      int64
	ConservativeProbeMinCycles int64
	ConservativeProbeMaxRSI    float64
	ConservativeProbeRetFloor  float64

	MaxPositions        int
	MaxConcentrationPct float64
	CashReserveFloorPct float64
	MaxTurnoverPct      float64
	OpeningCapPct       float64
}

// DefaultConfig returns the documented guardrail defaults, tunable via
// types.DecisionConfig at boot.
func DefaultConfig() Config {
	return Config{
		CommissionRate:             0.0003,
		FlatEntryEnabled:           true,
		FlatEntryMinConfidence:     0.55,
		FlatEntryMinCycles:         5,
		FlatEntryMaxRSI:            55,
		FlatEntryLots:              1,
		ConservativeProbeSize:      100,
		ConservativeProbeMinCycles: 8,
		ConservativeProbeMaxRSI:    47,
		ConservativeProbeRetFloor:  -0.01,
		MaxPositions:               8,
		MaxConcentrationPct:        0.35,
		CashReserveFloorPct:        0.05,
		MaxTurnoverPct:             0.25,
		OpeningCapPct:              0.10,
	}
}

// Engine runs the guardrail pipeline for one trader's cycle.
type Engine struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a decision Engine.
func New(logger *zap.Logger, cfg Config) *Engine {
	return &Engine{logger: logger.Named("decision"), cfg: cfg}
}

// CommissionRate exposes the configured commission rate for seeding a fresh
// memory snapshot's agent.memory.v2 config section.
func (e *Engine) CommissionRate() float64 { return e.cfg.CommissionRate }

// proposal is the engine's working draft before guardrails apply.
type proposal struct {
	action     string
	symbol     string
	quantity   int64
	confidence float64
	price      decimal.Decimal
	reasons    []string
}

// Evaluate runs the full pipeline for one cycle and returns the final
// DecisionRecord plus the updated memory snapshot to persist, along with the
// guardrail names that fired (for the audit record).
func (e *Engine) Evaluate(dc types.DecisionContext, llmDecision *types.Decision) (types.DecisionRecord, types.MemorySnapshot, []string) {
	var applied []string
	mem := dc.Memory

	// Step 10 (readiness-gate override) short-circuits the whole pipeline:
	// an ERROR readiness level forces a hold with no guardrail evaluation.
	if dc.Readiness.Level == types.ReadinessError {
		applied = append(applied, "readiness_gate_error_forces_hold")
		rec := e.emptyRecord(dc, "readiness gate at ERROR forces hold")
		return rec, mem, applied
	}

	prop := e.heuristicBaseline(dc)
	if llmDecision != nil {
		prop = e.fromLLM(*llmDecision, dc)
	}

	// Step 2: long-only guard — never allow a sell beyond an existing holding.
	if prop.action == "sell" {
		held := mem.Holdings[prop.symbol]
		if prop.quantity > held.Shares {
			prop.quantity = held.Shares
			applied = append(applied, "long_only_guard")
		}
		if held.Shares == 0 {
			prop.action = "hold"
			prop.quantity = 0
			applied = append(applied, "long_only_guard_no_position")
		}
	}

	// Step 3: anti-stall entries — a trader that has sat flat for a while
	// takes a small probe position rather than idling forever. Two distinct
	// gates fire, each keyed on RSI/trend rather than the proposal's own
	// confidence:
	//   - flat-entry: any style, not bearish, RSI under the flat ceiling.
	//   - conservative probe: mean_reversion + conservative risk profile
	//     only, a higher cycle bar, and a pullback signal on ret_5/ret_20.
	if prop.action == "hold" && len(mem.Holdings) == 0 && len(dc.Candidates) > 0 {
		best := dc.Candidates[0]
		bearish := isBearishTrend(best)
		switch {
		case e.cfg.FlatEntryEnabled && mem.FlatCycles >= e.cfg.FlatEntryMinCycles &&
			!bearish && best.RSI14 <= e.cfg.FlatEntryMaxRSI:
			prop.action = "buy"
			prop.symbol = best.Symbol
			prop.quantity = lotSize * e.cfg.FlatEntryLots
			prop.price = best.LastClose
			if prop.confidence < 0.51 {
				prop.confidence = 0.51
			}
			applied = append(applied, "anti_stall_flat_entry")
		case dc.Manifest.TradingStyle == "mean_reversion" && dc.Manifest.RiskProfile == "conservative" &&
			mem.FlatCycles >= e.cfg.ConservativeProbeMinCycles && !bearish &&
			best.RSI14 <= e.cfg.ConservativeProbeMaxRSI &&
			(best.Ret5 <= e.cfg.ConservativeProbeRetFloor || best.Ret20 <= e.cfg.ConservativeProbeRetFloor):
			prop.action = "buy"
			prop.symbol = best.Symbol
			prop.quantity = e.cfg.ConservativeProbeSize
			prop.price = best.LastClose
			if prop.confidence < 0.51 {
				prop.confidence = 0.51
			}
			applied = append(applied, "anti_stall_conservative_probe")
		}
	}

	// Step 4: opening-phase cap — shrink order size during the pre-open
	// minutes when liquidity is thinnest.
	if dc.SessionPhase == types.SessionPreOpen && prop.action == "buy" {
		capShares := lotSizeFloor(int64(float64(prop.quantity) * e.cfg.OpeningCapPct * 10))
		if capShares > 0 && capShares < prop.quantity {
			prop.quantity = capShares
			applied = append(applied, "opening_phase_cap")
		}
	}

	// Step 5: turnover throttle — a single cycle may not trade more than
	// MaxTurnoverPct of current account equity notional.
	equity := accountEquity(mem, dc.Candidates)
	if prop.action == "buy" && !prop.price.IsZero() {
		notional := prop.price.Mul(decimal.NewFromInt(prop.quantity))
		maxNotional := equity.Mul(decimal.NewFromFloat(e.cfg.MaxTurnoverPct))
		if notional.GreaterThan(maxNotional) && !maxNotional.IsZero() {
			capped := lotSizeFloorDecimal(maxNotional.Div(prop.price))
			if capped < prop.quantity {
				prop.quantity = capped
				applied = append(applied, "turnover_throttle")
			}
		}
	}

	// Step 6: position-count cap — no new symbol once MaxPositions are held.
	if prop.action == "buy" {
		_, already := mem.Holdings[prop.symbol]
		if !already && len(mem.Holdings) >= e.cfg.MaxPositions {
			prop.action = "hold"
			prop.quantity = 0
			applied = append(applied, "position_count_cap")
		}
	}

	// Step 7: symbol concentration cap — a single symbol may not exceed
	// MaxConcentrationPct of account equity after the fill.
	if prop.action == "buy" && !prop.price.IsZero() {
		held := mem.Holdings[prop.symbol]
		existingNotional := held.AvgCost.Mul(decimal.NewFromInt(held.Shares))
		maxNotional := equity.Mul(decimal.NewFromFloat(e.cfg.MaxConcentrationPct))
		roomNotional := maxNotional.Sub(existingNotional)
		if roomNotional.LessThanOrEqual(decimal.Zero) {
			prop.action = "hold"
			prop.quantity = 0
			applied = append(applied, "concentration_cap")
		} else {
			maxQty := lotSizeFloorDecimal(roomNotional.Div(prop.price))
			if maxQty < prop.quantity {
				prop.quantity = maxQty
				applied = append(applied, "concentration_cap")
			}
		}
	}

	// Step 8: cash reserve floor — never let a buy drop cash below the
	// floor percentage of account equity.
	if prop.action == "buy" && !prop.price.IsZero() {
		floor := equity.Mul(decimal.NewFromFloat(e.cfg.CashReserveFloorPct))
		fee := feeFor(e.cfg.CommissionRate, prop.price, prop.quantity)
		maxSpend := mem.Cash.Sub(floor).Sub(fee)
		notional := prop.price.Mul(decimal.NewFromInt(prop.quantity))
		if maxSpend.LessThan(notional) {
			if maxSpend.LessThanOrEqual(decimal.Zero) {
				prop.action = "hold"
				prop.quantity = 0
			} else {
				prop.quantity = lotSizeFloorDecimal(maxSpend.Div(prop.price))
			}
			applied = append(applied, "cash_reserve_floor")
		}
	}

	requestedQuantity := prop.quantity
	if prop.quantity <= 0 && prop.action != "hold" {
		prop.action = "hold"
	}

	// Step 9: fill simulation.
	fillErr := ""
	var fr fillResult
	executed := false
	heldBefore := mem.Holdings[prop.symbol]
	if prop.action == "buy" || prop.action == "sell" {
		newMem, res, err := e.fill(mem, prop)
		if err != nil {
			fillErr = err.Error()
			prop.action = "hold"
			prop.quantity = 0
		} else {
			mem = newMem
			fr = res
			executed = true
		}
	}

	if executed {
		switch prop.action {
		case "buy":
			if heldBefore.Shares == 0 {
				h := mem.Holdings[prop.symbol]
				h.OpenedAtMs = dc.NowMs
				mem.Holdings[prop.symbol] = h
			}
		case "sell":
			if _, stillHeld := mem.Holdings[prop.symbol]; !stillHeld {
				mem.ClosedPositions = append(mem.ClosedPositions, types.ClosedPosition{
					Symbol:      prop.symbol,
					Shares:      fr.filledQuantity,
					AvgCost:     heldBefore.AvgCost,
					ExitPrice:   prop.price,
					RealizedPnL: fr.realizedPnL,
					OpenedAtMs:  heldBefore.OpenedAtMs,
					ClosedAtMs:  dc.NowMs,
				})
				mem.ClosedPositions = trimClosedPositions(mem.ClosedPositions)
			}
		}
	}

	if len(mem.Holdings) == 0 {
		mem.FlatCycles++
	} else {
		mem.FlatCycles = 0
	}

	mem.CallCount++
	mem.CycleNumber = dc.CycleNumber
	mem.LastDecidedMs = dc.NowMs
	mem.UpdatedAtMs = dc.NowMs

	source := types.DecisionSourceRuleHeuristic
	if llmDecision != nil {
		source = types.DecisionSourceLLM
	}

	accountState := accountStateFor(mem, dc.Candidates)
	e.updateBookkeeping(&mem, dc, prop, fr, executed, accountState)

	// Step 11: final emission.
	stopLoss, takeProfit := stopsFor(prop, dc)
	steps := reasoningSteps(dc, prop)
	d := types.Decision{
		Action:            prop.action,
		Symbol:            prop.symbol,
		Quantity:          prop.quantity,
		RequestedQuantity: requestedQuantity,
		Executed:          executed,
		FilledQuantity:    fr.filledQuantity,
		FilledNotional:    fr.filledNotional,
		FeePaid:           fr.feePaid,
		RealizedPnL:       fr.realizedPnL,
		Price:             prop.price,
		Confidence:        clampConfidence(prop.confidence),
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		Reasoning:         strings.Join(steps, " "),
		OrderID:           utils.GenerateID("ord"),
		TsMs:              dc.NowMs,
		Success:           fillErr == "",
		ReasoningStepsCN:  steps,
		Error:             fillErr,
	}

	rec := types.DecisionRecord{
		TraderID:       dc.TraderID,
		CycleNumber:    dc.CycleNumber,
		CallCount:      mem.CallCount,
		TsMs:           dc.NowMs,
		DecisionSource: source,
		AccountState:   accountState,
		Positions:      holdingsList(mem),
		CandidateCoins: candidateSymbols(dc.Candidates),
		Success:        true,
		Decisions:      []types.Decision{d},
		ExecutionLog:   applied,
		CashAfter:      mem.Cash,
		ReadinessLevel: dc.Readiness.Level.String(),
	}
	return rec, mem, applied
}

func (e *Engine) emptyRecord(dc types.DecisionContext, reason string) types.DecisionRecord {
	return types.DecisionRecord{
		TraderID:       dc.TraderID,
		CycleNumber:    dc.CycleNumber,
		CallCount:      dc.Memory.CallCount,
		TsMs:           dc.NowMs,
		DecisionSource: types.DecisionSourceReadinessGate,
		AccountState:   accountStateFor(dc.Memory, dc.Candidates),
		Positions:      holdingsList(dc.Memory),
		CandidateCoins: candidateSymbols(dc.Candidates),
		Success:        true,
		CashAfter:      dc.Memory.Cash,
		ReadinessLevel: dc.Readiness.Level.String(),
		Decisions: []types.Decision{{
			Action:           "hold",
			Confidence:       0.51,
			TsMs:             dc.NowMs,
			Success:          true,
			ReasoningStepsCN: []string{reason},
		}},
	}
}

const (
	recentActionsCap  = 20
	tradeEventsCap    = 500
	equityCurveCap    = 500
	closedPositionsCap = 200
)

// updateBookkeeping maintains the agent.memory.v2 journal fields (stats,
// trade_events, recent_actions, equity_curve, meta, config, replay) that sit
// alongside cash/holdings but aren't consulted by the guardrail pipeline
// itself.
func (e *Engine) updateBookkeeping(mem *types.MemorySnapshot, dc types.DecisionContext, p proposal, fr fillResult, executed bool, accountState types.AccountState) {
	if mem.Meta.CreatedAtMs == 0 {
		mem.Meta.CreatedAtMs = dc.NowMs
	}
	mem.Meta.UpdatedAtMs = dc.NowMs

	mem.Config.InitialBalance = dc.Manifest.InitialCash
	mem.Config.CommissionRate = e.cfg.CommissionRate

	mem.Stats.Decisions++
	if mem.Stats.InitialBalance.IsZero() {
		mem.Stats.InitialBalance = dc.Manifest.InitialCash
	}
	mem.Stats.LatestTotalBalance = accountState.TotalBalance
	mem.Stats.LatestAvailableBalance = accountState.AvailableBalance
	mem.Stats.LatestUnrealizedProfit = accountState.TotalUnrealizedProfit
	if !mem.Stats.InitialBalance.IsZero() {
		rate, _ := accountState.TotalBalance.Sub(mem.Stats.InitialBalance).Div(mem.Stats.InitialBalance).Float64()
		mem.Stats.ReturnRatePct = rate * 100
	}

	switch {
	case p.action == "hold":
		mem.Stats.Holds++
	case executed && p.action == "sell":
		mem.Stats.SellTrades++
		switch {
		case fr.realizedPnL.IsPositive():
			mem.Stats.Wins++
		case fr.realizedPnL.IsNegative():
			mem.Stats.Losses++
		}
	}

	mem.RecentActions = append(mem.RecentActions, types.RecentAction{TsMs: dc.NowMs, Action: p.action, Symbol: p.symbol})
	if len(mem.RecentActions) > recentActionsCap {
		mem.RecentActions = mem.RecentActions[len(mem.RecentActions)-recentActionsCap:]
	}

	mem.EquityCurve = append(mem.EquityCurve, types.EquitySample{TsMs: dc.NowMs, TotalBalance: accountState.TotalBalance})
	if len(mem.EquityCurve) > equityCurveCap {
		mem.EquityCurve = mem.EquityCurve[len(mem.EquityCurve)-equityCurveCap:]
	}

	if executed {
		mem.TradeEvents = append(mem.TradeEvents, types.TradeEvent{
			TsMs:              dc.NowMs,
			Action:            p.action,
			Symbol:            p.symbol,
			Quantity:          fr.filledQuantity,
			Price:             p.price,
			FeePaid:           fr.feePaid,
			RealizedPnL:       fr.realizedPnL,
			CashAfter:         mem.Cash,
			TotalBalanceAfter: accountState.TotalBalance,
		})
		if len(mem.TradeEvents) > tradeEventsCap {
			mem.TradeEvents = mem.TradeEvents[len(mem.TradeEvents)-tradeEventsCap:]
		}
	}

	mem.OpenLots = mem.OpenLots[:0]
	for _, h := range mem.Holdings {
		mem.OpenLots = append(mem.OpenLots, types.OpenLot{Symbol: h.Symbol, Shares: h.Shares, AvgCost: h.AvgCost, OpenedAtMs: h.OpenedAtMs})
	}

	day := time.UnixMilli(dc.NowMs).In(shanghai).Format("2006-01-02")
	mem.Replay.TradingDay = day
	n := len(mem.DailyJournal)
	if n == 0 || mem.DailyJournal[n-1].TradingDay != day {
		mem.DailyJournal = append(mem.DailyJournal, types.DailyJournalEntry{TradingDay: day})
		n = len(mem.DailyJournal)
	}
	entry := &mem.DailyJournal[n-1]
	entry.Decisions++
	if executed && p.action == "sell" {
		switch {
		case fr.realizedPnL.IsPositive():
			entry.Wins++
		case fr.realizedPnL.IsNegative():
			entry.Losses++
		}
		entry.RealizedPnL = entry.RealizedPnL.Add(fr.realizedPnL)
	}
	entry.EndTotalBalance = accountState.TotalBalance
}

func trimClosedPositions(cp []types.ClosedPosition) []types.ClosedPosition {
	if len(cp) > closedPositionsCap {
		return cp[len(cp)-closedPositionsCap:]
	}
	return cp
}

func holdingsList(mem types.MemorySnapshot) []types.Holding {
	if len(mem.Holdings) == 0 {
		return nil
	}
	out := make([]types.Holding, 0, len(mem.Holdings))
	for _, h := range mem.Holdings {
		out = append(out, h)
	}
	return out
}

func candidateSymbols(candidates []types.CandidateFeatures) []string {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Symbol
	}
	return out
}

func accountStateFor(mem types.MemorySnapshot, candidates []types.CandidateFeatures) types.AccountState {
	equity := accountEquity(mem, candidates)
	unrealized := decimal.Zero
	priceOf := make(map[string]decimal.Decimal, len(candidates))
	for _, c := range candidates {
		priceOf[c.Symbol] = c.LastClose
	}
	for sym, h := range mem.Holdings {
		if px, ok := priceOf[sym]; ok {
			unrealized = unrealized.Add(px.Sub(h.AvgCost).Mul(decimal.NewFromInt(h.Shares)))
		}
	}
	marginUsedPct := 0.0
	if !equity.IsZero() {
		used := equity.Sub(mem.Cash)
		marginUsedPct, _ = used.Div(equity).Float64()
	}
	return types.AccountState{
		TotalBalance:          equity,
		AvailableBalance:      mem.Cash,
		TotalUnrealizedProfit: unrealized,
		PositionCount:         len(mem.Holdings),
		MarginUsedPct:         marginUsedPct,
	}
}

// isBearishTrend reports a simple moving-average cross: short-window SMA
// under the long-window SMA signals a weakening trend.
func isBearishTrend(c types.CandidateFeatures) bool {
	if c.SMA20.IsZero() || c.SMA60.IsZero() {
		return false
	}
	return c.SMA20.LessThan(c.SMA60)
}

// heuristicBaseline picks a style-driven action from the top candidate, per
// the glossary's Heuristic Actions table.
func (e *Engine) heuristicBaseline(dc types.DecisionContext) proposal {
	if len(dc.Candidates) == 0 {
		return proposal{action: "hold", confidence: 0.51}
	}
	top := dc.Candidates[0]
	p := proposal{symbol: top.Symbol, price: top.LastClose, action: "hold", confidence: 0.55}

	switch dc.Manifest.TradingStyle {
	case "momentum_trend":
		if top.Ret5 > 0 && top.Ret20 > 0 && top.RSI14 < 70 {
			p.action, p.quantity, p.confidence = "buy", 300, 0.65
		} else if top.RSI14 > 75 {
			p.action, p.confidence = "sell", 0.6
			if held, ok := dc.Memory.Holdings[top.Symbol]; ok {
				p.quantity = held.Shares
			}
		}
	case "mean_reversion":
		if top.RSI14 < 30 {
			p.action, p.quantity, p.confidence = "buy", 300, 0.6
		} else if top.RSI14 > 70 {
			p.action, p.confidence = "sell", 0.6
			if held, ok := dc.Memory.Holdings[top.Symbol]; ok {
				p.quantity = held.Shares
			}
		}
	case "event_driven":
		if top.VolRatio20 > 1.8 && top.Ret5 > 0 {
			p.action, p.quantity, p.confidence = "buy", 200, 0.58
		}
	case "macro_swing":
		if top.Range20dPct < 0.2 {
			p.action, p.quantity, p.confidence = "buy", 400, 0.6
		} else if top.Range20dPct > 0.8 {
			p.action, p.confidence = "sell", 0.58
			if held, ok := dc.Memory.Holdings[top.Symbol]; ok {
				p.quantity = held.Shares
			}
		}
	}
	return p
}

func (e *Engine) fromLLM(d types.Decision, dc types.DecisionContext) proposal {
	price := d.Price
	if price.IsZero() {
		for _, c := range dc.Candidates {
			if c.Symbol == d.Symbol {
				price = c.LastClose
				break
			}
		}
	}
	return proposal{
		action:     d.Action,
		symbol:     d.Symbol,
		quantity:   lotSizeFloor(d.Quantity),
		confidence: d.Confidence,
		price:      price,
	}
}

// fillResult carries the per-decision execution figures §3/§8 require:
// filled_quantity, filled_notional, fee_paid, realized_pnl.
type fillResult struct {
	filledQuantity int64
	filledNotional decimal.Decimal
	feePaid        decimal.Decimal
	realizedPnL    decimal.Decimal
}

// fill executes a simulated same-bar fill: weighted-average cost update on a
// buy, realized P&L on a (partial or full) sell, commission deducted from
// cash either way. cash_after + filled_notional + fee_paid == cash_before
// holds for buys by construction (notional+fee is exactly what is debited).
func (e *Engine) fill(mem types.MemorySnapshot, p proposal) (types.MemorySnapshot, fillResult, error) {
	if mem.Holdings == nil {
		mem.Holdings = make(map[string]types.Holding)
	}
	fee := feeFor(e.cfg.CommissionRate, p.price, p.quantity)
	notional := utils.RoundToDecimalPlaces(p.price.Mul(decimal.NewFromInt(p.quantity)), 2)

	switch p.action {
	case "buy":
		cost := notional.Add(fee)
		if mem.Cash.LessThan(cost) {
			return mem, fillResult{}, fmt.Errorf("insufficient_cash")
		}
		mem.Cash = mem.Cash.Sub(cost)
		held := mem.Holdings[p.symbol]
		totalShares := held.Shares + p.quantity
		totalCost := held.AvgCost.Mul(decimal.NewFromInt(held.Shares)).Add(notional)
		held.AvgCost = totalCost.Div(decimal.NewFromInt(totalShares))
		held.Shares = totalShares
		held.Symbol = p.symbol
		mem.Holdings[p.symbol] = held
		return mem, fillResult{filledQuantity: p.quantity, filledNotional: notional, feePaid: fee}, nil

	case "sell":
		held, ok := mem.Holdings[p.symbol]
		if !ok || held.Shares < p.quantity {
			return mem, fillResult{}, fmt.Errorf("insufficient_shares")
		}
		proceeds := notional.Sub(fee)
		mem.Cash = mem.Cash.Add(proceeds)
		realized := utils.RoundToDecimalPlaces(p.price.Sub(held.AvgCost).Mul(decimal.NewFromInt(p.quantity)).Sub(fee), 2)
		mem.RealizedPnL = mem.RealizedPnL.Add(realized)
		held.Shares -= p.quantity
		if held.Shares == 0 {
			delete(mem.Holdings, p.symbol)
		} else {
			mem.Holdings[p.symbol] = held
		}
		return mem, fillResult{filledQuantity: p.quantity, filledNotional: notional, feePaid: fee, realizedPnL: realized}, nil
	}
	return mem, fillResult{}, nil
}

func feeFor(rate float64, price decimal.Decimal, qty int64) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(qty))
	return utils.RoundToDecimalPlaces(notional.Mul(decimal.NewFromFloat(rate)), 2)
}

func accountEquity(mem types.MemorySnapshot, candidates []types.CandidateFeatures) decimal.Decimal {
	priceOf := make(map[string]decimal.Decimal, len(candidates))
	for _, c := range candidates {
		priceOf[c.Symbol] = c.LastClose
	}
	equity := mem.Cash
	for sym, h := range mem.Holdings {
		px, ok := priceOf[sym]
		if !ok {
			px = h.AvgCost
		}
		equity = equity.Add(px.Mul(decimal.NewFromInt(h.Shares)))
	}
	return equity
}

func lotSizeFloor(shares int64) int64 {
	return (shares / lotSize) * lotSize
}

func lotSizeFloorDecimal(d decimal.Decimal) int64 {
	shares := d.IntPart()
	return lotSizeFloor(shares)
}

func clampConfidence(c float64) float64 {
	if c < 0.51 {
		return 0.51
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// stopsFor computes the fixed-percentage stop-loss/take-profit levels for a
// buy or sell fill; holds carry no stop.
func stopsFor(p proposal, dc types.DecisionContext) (decimal.Decimal, decimal.Decimal) {
	if p.price.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	switch p.action {
	case "buy":
		stopLoss := utils.RoundToDecimalPlaces(p.price.Mul(decimal.NewFromFloat(0.985)), 2)
		takeProfit := utils.RoundToDecimalPlaces(p.price.Mul(decimal.NewFromFloat(1.02)), 2)
		return stopLoss, takeProfit
	case "sell":
		stopLoss := utils.RoundToDecimalPlaces(p.price.Mul(decimal.NewFromFloat(1.015)), 2)
		takeProfit := utils.RoundToDecimalPlaces(p.price.Mul(decimal.NewFromFloat(0.98)), 2)
		return stopLoss, takeProfit
	default:
		return decimal.Zero, decimal.Zero
	}
}

func reasoningSteps(dc types.DecisionContext, p proposal) []string {
	steps := []string{fmt.Sprintf("持仓检查: %d 个符号, 现金 %s", len(dc.Memory.Holdings), utils.FormatCNY(dc.Memory.Cash))}
	if len(dc.Candidates) > 0 {
		steps = append(steps, fmt.Sprintf("候选: %s 排名得分 %.4f", dc.Candidates[0].Symbol, dc.Candidates[0].RankScore))
	}
	if dc.Candidates != nil {
		steps = append(steps, fmt.Sprintf("市场情绪: %s", MacroOf(dc)))
	}
	steps = append(steps, fmt.Sprintf("最终动作: %s %s x%d", p.action, p.symbol, p.quantity))
	return steps
}

// MacroOf surfaces the top candidate's macro note for the reasoning trail.
func MacroOf(dc types.DecisionContext) string {
	if len(dc.Candidates) == 0 {
		return "无数据"
	}
	if dc.Candidates[0].MacroNote == "" {
		return "平稳"
	}
	return dc.Candidates[0].MacroNote
}
