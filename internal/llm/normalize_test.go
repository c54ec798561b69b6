package llm

import (
	"testing"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func TestStripMarkdownCodeBlock_RemovesJSONFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	got := stripMarkdownCodeBlock(in)
	if got != `{"a":1}` {
		t.Fatalf("expected fence stripped, got %q", got)
	}
}

func TestStripMarkdownCodeBlock_PlainJSONUnchanged(t *testing.T) {
	in := `{"a":1}`
	if got := stripMarkdownCodeBlock(in); got != in {
		t.Fatalf("expected plain JSON untouched, got %q", got)
	}
}

func TestNormalize_InvalidActionFallsBackToHold(t *testing.T) {
	d := normalize(rawDecision{Action: "short"}, types.DecisionContext{})
	if d.Action != "hold" {
		t.Fatalf("expected invalid action to normalize to hold, got %q", d.Action)
	}
	if d.Quantity != 0 {
		t.Fatalf("expected hold to force quantity 0, got %d", d.Quantity)
	}
}

func TestNormalize_QuantityFlooredToLotSizeMultiple(t *testing.T) {
	d := normalize(rawDecision{Action: "buy", Symbol: "600000.SH", Quantity: 250}, types.DecisionContext{})
	if d.Quantity != 200 {
		t.Fatalf("expected quantity floored to nearest 100-lot, got %d", d.Quantity)
	}
}

func TestNormalize_NegativeQuantityTakesAbsoluteValue(t *testing.T) {
	d := normalize(rawDecision{Action: "sell", Symbol: "600000.SH", Quantity: -300}, types.DecisionContext{})
	if d.Quantity != 300 {
		t.Fatalf("expected negative quantity absolute-valued, got %d", d.Quantity)
	}
}

func TestNormalize_ConfidenceClampedToDocumentedRange(t *testing.T) {
	low := normalize(rawDecision{Action: "hold", Confidence: 0.1}, types.DecisionContext{})
	if low.Confidence != 0.51 {
		t.Fatalf("expected confidence floored to 0.51, got %v", low.Confidence)
	}
	high := normalize(rawDecision{Action: "hold", Confidence: 0.99}, types.DecisionContext{})
	if high.Confidence != 0.95 {
		t.Fatalf("expected confidence capped to 0.95, got %v", high.Confidence)
	}
}

func TestNormalize_EmptySymbolFallsBackToFirstCandidate(t *testing.T) {
	dc := types.DecisionContext{Candidates: []types.CandidateFeatures{{Symbol: "600519.SH"}}}
	d := normalize(rawDecision{Action: "buy", Quantity: 100}, dc)
	if d.Symbol != "600519.SH" {
		t.Fatalf("expected fallback to the top candidate symbol, got %q", d.Symbol)
	}
}
