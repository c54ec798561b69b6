// Package types provides the shared wire and domain types for the agent runtime.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionPhase classifies where a timestamp falls within the CN-A trading
// day: pre_open | continuous_am | lunch_break | continuous_pm |
// close_auction | closed.
type SessionPhase string

const (
	SessionPreOpen     SessionPhase = "pre_open"
	SessionContinuousAM SessionPhase = "continuous_am"
	SessionLunchBreak   SessionPhase = "lunch_break"
	SessionContinuousPM SessionPhase = "continuous_pm"
	SessionCloseAuction SessionPhase = "close_auction"
	SessionClosed       SessionPhase = "closed"
)

// Bar is a single OHLCV observation for one symbol, wire schema market.bar.v1.
type Bar struct {
	Schema     string          `json:"schema"`
	Symbol     string          `json:"symbol"`
	StartTsMs  int64           `json:"start_ts_ms"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	Session    SessionPhase    `json:"session,omitempty"`
}

// Valid reports whether the bar satisfies the low <= open,close <= high invariant.
func (b Bar) Valid() bool {
	if b.Low.GreaterThan(b.High) {
		return false
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// FrameBatch is an atomically-produced snapshot of the latest bar per symbol,
// wire schema market.frames.v1.
type FrameBatch struct {
	Schema      string         `json:"schema"`
	GeneratedAt int64          `json:"generated_at_ms"`
	IntervalMs  int64          `json:"interval_ms"`
	Frames      []Bar          `json:"frames"`
}

// AgentManifest is the static description persisted at agents/<agent_id>/agent.json.
type AgentManifest struct {
	AgentID      string          `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	AIModel      string          `json:"ai_model"`
	ExchangeID   string          `json:"exchange_id"`
	StrategyName string          `json:"strategy_name,omitempty"`
	TradingStyle string          `json:"trading_style"`
	RiskProfile  string          `json:"risk_profile"`
	Personality  string          `json:"personality,omitempty"`
	StylePromptCN string         `json:"style_prompt_cn,omitempty"`
	InitialCash  decimal.Decimal `json:"initial_cash"`
	StockPool    []string        `json:"stock_pool,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAtMs  int64           `json:"created_at_ms"`
}

// RegistryEntry tracks one agent's lifecycle state in data/agents/registry.json.
type RegistryEntry struct {
	AgentID      string `json:"agent_id"`
	Registered   bool   `json:"registered"`
	Running      bool   `json:"running"`
	ShowInLobby  bool   `json:"show_in_lobby"`
	RegisteredAt int64  `json:"registered_at_ms,omitempty"`
	StartedAt    int64  `json:"started_at_ms,omitempty"`
	StoppedAt    int64  `json:"stopped_at_ms,omitempty"`
}

// Registry is the full content of data/agents/registry.json.
type Registry struct {
	SchemaVersion int                      `json:"schema_version"`
	UpdatedAtMs   int64                    `json:"updated_at_ms"`
	Agents        map[string]RegistryEntry `json:"agents"`
}

// Holding is one open position inside an agent's memory snapshot.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	OpenedAtMs   int64           `json:"opened_at_ms"`
	StopLoss     decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   decimal.Decimal `json:"take_profit,omitempty"`
}

// MemoryMeta identifies the run a memory snapshot belongs to.
type MemoryMeta struct {
	RunID       string `json:"run_id,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms,omitempty"`
	UpdatedAtMs int64  `json:"updated_at_ms,omitempty"`
}

// MemoryConfig pins the account parameters a snapshot was opened under, so a
// replay can be replayed against the same commission/cadence it ran with.
type MemoryConfig struct {
	InitialBalance    decimal.Decimal `json:"initial_balance"`
	DecisionEveryBars int             `json:"decision_every_bars,omitempty"`
	LLMModel          string          `json:"llm_model,omitempty"`
	CommissionRate    float64         `json:"commission_rate"`
}

// MemoryReplay records where in the replay timeline this trader's last
// decision landed.
type MemoryReplay struct {
	TradingDay string `json:"trading_day,omitempty"`
	DayIndex   int64  `json:"day_index,omitempty"`
	BarCursor  int64  `json:"bar_cursor,omitempty"`
	IsDayStart bool   `json:"is_day_start,omitempty"`
	IsDayEnd   bool   `json:"is_day_end,omitempty"`
}

// MemoryStats is the running scoreboard the lobby/performance views read.
type MemoryStats struct {
	ReturnRatePct              float64         `json:"return_rate_pct"`
	Decisions                  int64           `json:"decisions"`
	Wins                       int64           `json:"wins"`
	Losses                     int64           `json:"losses"`
	Holds                      int64           `json:"holds"`
	SellTrades                 int64           `json:"sell_trades"`
	LatestTotalBalance         decimal.Decimal `json:"latest_total_balance"`
	LatestAvailableBalance     decimal.Decimal `json:"latest_available_balance"`
	LatestUnrealizedProfit     decimal.Decimal `json:"latest_unrealized_profit"`
	InitialBalance             decimal.Decimal `json:"initial_balance"`
}

// DailyJournalEntry is one day's rollup inside MemorySnapshot.DailyJournal.
type DailyJournalEntry struct {
	TradingDay     string          `json:"trading_day"`
	Decisions      int64           `json:"decisions"`
	Wins           int64           `json:"wins"`
	Losses         int64           `json:"losses"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	EndTotalBalance decimal.Decimal `json:"end_total_balance"`
}

// OpenLot is one still-open buy lot backing a holding, used for per-lot
// realized-P&L accounting on partial sells.
type OpenLot struct {
	Symbol     string          `json:"symbol"`
	Shares     int64           `json:"shares"`
	AvgCost    decimal.Decimal `json:"avg_cost"`
	OpenedAtMs int64           `json:"opened_at_ms"`
}

// ClosedPosition records a fully-closed position for the trade history view.
type ClosedPosition struct {
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	OpenedAtMs   int64           `json:"opened_at_ms"`
	ClosedAtMs   int64           `json:"closed_at_ms"`
}

// TradeEvent is one append-trimmed buy/sell event with the post-trade
// portfolio snapshot, so the trade history view need not replay state.
type TradeEvent struct {
	TsMs                   int64           `json:"ts_ms"`
	Action                 string          `json:"action"`
	Symbol                 string          `json:"symbol"`
	Quantity               int64           `json:"quantity"`
	Price                  decimal.Decimal `json:"price"`
	FeePaid                decimal.Decimal `json:"fee_paid"`
	RealizedPnL            decimal.Decimal `json:"realized_pnl,omitempty"`
	CashAfter              decimal.Decimal `json:"cash_after"`
	TotalBalanceAfter      decimal.Decimal `json:"total_balance_after"`
}

// RecentAction is a lightweight, latest-first log of recent decisions
// (including holds) capped to a fixed length.
type RecentAction struct {
	TsMs   int64  `json:"ts_ms"`
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// EquitySample is one sampled point of MemorySnapshot.EquityCurve.
type EquitySample struct {
	TsMs         int64           `json:"ts_ms"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// MemorySnapshot is an agent's durable portfolio state, wire schema agent.memory.v2.
type MemorySnapshot struct {
	Schema        string             `json:"schema"`
	AgentID       string             `json:"agent_id"`
	Meta          MemoryMeta         `json:"meta"`
	Config        MemoryConfig       `json:"config"`
	Replay        MemoryReplay       `json:"replay"`
	Stats         MemoryStats        `json:"stats"`
	Cash          decimal.Decimal    `json:"cash"`
	Holdings      map[string]Holding `json:"holdings"`
	DailyJournal  []DailyJournalEntry `json:"daily_journal,omitempty"`
	OpenLots      []OpenLot          `json:"open_lots,omitempty"`
	ClosedPositions []ClosedPosition `json:"closed_positions,omitempty"`
	TradeEvents   []TradeEvent       `json:"trade_events,omitempty"`
	RecentActions []RecentAction     `json:"recent_actions,omitempty"`
	EquityCurve   []EquitySample     `json:"equity_curve,omitempty"`
	FlatCycles    int64              `json:"flat_cycles,omitempty"`
	RealizedPnL   decimal.Decimal    `json:"realized_pnl"`
	CallCount     int64              `json:"call_count"`
	CycleNumber   int64              `json:"cycle_number"`
	LastDecidedMs int64              `json:"last_decided_at_ms,omitempty"`
	UpdatedAtMs   int64              `json:"updated_at_ms"`
}

// DecisionSource names what produced a decision: the LLM, the heuristic
// fallback, or a forced hold from the readiness gate.
type DecisionSource string

const (
	DecisionSourceLLM           DecisionSource = "llm.openai"
	DecisionSourceRuleHeuristic DecisionSource = "rule.heuristic"
	DecisionSourceReadinessGate DecisionSource = "readiness_gate"
)

// AccountState is the post-decision account summary recorded alongside a
// decision record.
type AccountState struct {
	TotalBalance          decimal.Decimal `json:"total_balance"`
	AvailableBalance       decimal.Decimal `json:"available_balance"`
	TotalUnrealizedProfit  decimal.Decimal `json:"total_unrealized_profit"`
	PositionCount          int             `json:"position_count"`
	MarginUsedPct          float64         `json:"margin_used_pct"`
}

// Decision is one action emitted by the decision engine for a single symbol.
type Decision struct {
	Action            string          `json:"action"` // "buy" | "sell" | "hold"
	Symbol            string          `json:"symbol"`
	Quantity          int64           `json:"quantity"`
	RequestedQuantity int64           `json:"requested_quantity"`
	Executed          bool            `json:"executed"`
	FilledQuantity    int64           `json:"filled_quantity"`
	FilledNotional    decimal.Decimal `json:"filled_notional"`
	FeePaid           decimal.Decimal `json:"fee_paid"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	Price             decimal.Decimal `json:"price"`
	Confidence        float64         `json:"confidence"`
	StopLoss          decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit        decimal.Decimal `json:"take_profit,omitempty"`
	Reasoning         string          `json:"reasoning,omitempty"`
	OrderID           string          `json:"order_id,omitempty"`
	TsMs              int64           `json:"timestamp"`
	Success           bool            `json:"success"`
	ReasoningStepsCN  []string        `json:"reasoning_steps_cn,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// DecisionRecord is one full cycle's output, appended to
// data/decisions/<trader_id>/<date>.jsonl.
type DecisionRecord struct {
	TraderID       string           `json:"trader_id"`
	CycleNumber    int64            `json:"cycle_number"`
	CallCount      int64            `json:"call_count"`
	TsMs           int64            `json:"ts_ms"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	InputPrompt    string           `json:"input_prompt,omitempty"`
	CotTrace       string           `json:"cot_trace,omitempty"`
	DecisionSource DecisionSource   `json:"decision_source"`
	AccountState   AccountState     `json:"account_state"`
	Positions      []Holding        `json:"positions,omitempty"`
	CandidateCoins []string         `json:"candidate_coins,omitempty"`
	Success        bool             `json:"success"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Decisions      []Decision       `json:"decisions"`
	ExecutionLog   []string         `json:"execution_log,omitempty"`
	CashAfter      decimal.Decimal  `json:"cash_after"`
	ReadinessLevel string           `json:"readiness_level"`
}

// AuditRecord is the readiness-labeled audit trail appended to
// data/audit/decision_audit/<trader_id>/<date>.jsonl.
type AuditRecord struct {
	TraderID       string   `json:"trader_id"`
	CycleNumber    int64    `json:"cycle_number"`
	TsMs           int64    `json:"ts_ms"`
	ReadinessLevel string   `json:"readiness_level"`
	ReadinessReasons []string `json:"readiness_reasons,omitempty"`
	LLMUsed        bool     `json:"llm_used"`
	LLMError       string   `json:"llm_error,omitempty"`
	GuardrailsApplied []string `json:"guardrails_applied,omitempty"`
}

// KillSwitchState is the durable content of data/runtime/kill-switch.json.
type KillSwitchState struct {
	Active        bool   `json:"active"`
	Reason        string `json:"reason,omitempty"`
	ActivatedAtMs int64  `json:"activated_at_ms,omitempty"`
	ActivatedBy   string `json:"activated_by,omitempty"`
	DeactivatedAtMs int64 `json:"deactivated_at_ms,omitempty"`
	DeactivatedBy   string `json:"deactivated_by,omitempty"`
}

// ChatMessage is a single line appended to a chat room's JSONL log.
type ChatMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	TsMs      int64  `json:"ts_ms"`
}

// CandidateFeatures is the computed feature set for one symbol at decision time.
type CandidateFeatures struct {
	Symbol       string  `json:"symbol"`
	Ret5         float64 `json:"ret_5"`
	Ret20        float64 `json:"ret_20"`
	SMA20        decimal.Decimal `json:"sma_20"`
	SMA60        decimal.Decimal `json:"sma_60"`
	RSI14        float64 `json:"rsi_14"`
	ATR14        decimal.Decimal `json:"atr_14"`
	VolRatio20   float64 `json:"vol_ratio_20"`
	Range20dPct  float64 `json:"range_20d_pct"`
	RankScore    float64 `json:"rank_score"`
	MacroNote    string  `json:"macro_note,omitempty"`
	LastClose    decimal.Decimal `json:"last_close"`
	LastBarTsMs  int64   `json:"last_bar_ts_ms"`
}

// ReadinessLevel orders OK < WARN < ERROR.
type ReadinessLevel int

const (
	ReadinessOK ReadinessLevel = iota
	ReadinessWarn
	ReadinessError
)

func (r ReadinessLevel) String() string {
	switch r {
	case ReadinessOK:
		return "OK"
	case ReadinessWarn:
		return "WARN"
	case ReadinessError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ReadinessReport is the output of the data-readiness evaluator for one cycle.
type ReadinessReport struct {
	Level   ReadinessLevel `json:"level"`
	Reasons []string       `json:"reasons,omitempty"`
}

// DecisionContext bundles everything the LLM and decision engine need for one
// trader's cycle: the candidate set, the trader's own memory, and readiness.
type DecisionContext struct {
	TraderID    string
	Manifest    AgentManifest
	Memory      MemorySnapshot
	Candidates  []CandidateFeatures
	Readiness   ReadinessReport
	SessionPhase SessionPhase
	NowMs       int64
	CycleNumber int64
	CallCount   int64
}

// Clock is injected everywhere wall time is needed so tests can fake it.
type Clock interface {
	NowMs() int64
	Now() time.Time
}

type systemClock struct{}

func (systemClock) NowMs() int64   { return time.Now().UnixMilli() }
func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock backed by time.Now.
var SystemClock Clock = systemClock{}
