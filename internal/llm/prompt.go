package llm

import (
	"fmt"
	"strings"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// buildSystemPrompt assembles the universal instruction, the trading-style
// playbook, and the trader's own risk profile into one system message.
func buildSystemPrompt(dc types.DecisionContext) string {
	var b strings.Builder
	b.WriteString("You are a disciplined CN-A equities trading assistant. ")
	b.WriteString("You must respond with strict JSON matching {\"decisions\":[{")
	b.WriteString("\"action\":\"buy|sell|hold\",\"symbol\":\"...\",\"quantity\":int,")
	b.WriteString("\"confidence\":float,\"stop_loss\":float,\"take_profit\":float,")
	b.WriteString("\"reasoning_steps_cn\":[\"...\"]}]} containing exactly one item. ")
	b.WriteString("Quantity must be a multiple of 100 shares. Never recommend short selling, ")
	b.WriteString("margin, or leverage. ")
	fmt.Fprintf(&b, "Trading style: %s. Risk profile: %s.\n", dc.Manifest.TradingStyle, dc.Manifest.RiskProfile)
	b.WriteString(stylePlaybook(dc.Manifest.TradingStyle))
	return b.String()
}

func stylePlaybook(style string) string {
	switch style {
	case "momentum_trend":
		return "Favor symbols with positive ret_5 and ret_20, RSI_14 between 45 and 70."
	case "mean_reversion":
		return "Favor symbols with RSI_14 below 35 or above 65 reverting toward 50."
	case "event_driven":
		return "Favor symbols with elevated vol_ratio_20 signalling unusual participation."
	case "macro_swing":
		return "Favor symbols near the extremes of range_20d_pct for a swing entry or exit."
	default:
		return "Use a balanced blend of momentum and mean-reversion signals."
	}
}

// buildUserPrompt renders the candidate set and the trader's current memory
// snapshot into the per-cycle user message. tokenSaver trims the candidate
// set to the top 3 and omits the narrative macro note, per
// AGENT_LLM_TOKEN_SAVER.
func buildUserPrompt(dc types.DecisionContext, tokenSaver bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cash=%s realized_pnl=%s holdings=%d call_count=%d cycle=%d\n",
		dc.Memory.Cash.StringFixed(2), dc.Memory.RealizedPnL.StringFixed(2),
		len(dc.Memory.Holdings), dc.CallCount, dc.CycleNumber)
	fmt.Fprintf(&b, "session_phase=%s readiness=%s\n", dc.SessionPhase, dc.Readiness.Level)

	candidates := dc.Candidates
	if tokenSaver && len(candidates) > 3 {
		candidates = candidates[:3]
	}
	b.WriteString("candidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s close=%s ret5=%.4f ret20=%.4f rsi14=%.1f atr14=%s vol_ratio=%.2f range20d=%.2f rank=%.4f",
			c.Symbol, c.LastClose.StringFixed(2), c.Ret5, c.Ret20, c.RSI14,
			c.ATR14.StringFixed(2), c.VolRatio20, c.Range20dPct, c.RankScore)
		if !tokenSaver && c.MacroNote != "" {
			fmt.Fprintf(&b, " note=%q", c.MacroNote)
		}
		b.WriteString("\n")
	}
	return b.String()
}
