package features

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func barsFromCloses(closes []float64) []types.Bar {
	out := make([]types.Bar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = types.Bar{
			Symbol:    "600000.SH",
			StartTsMs: int64(i) * 60000,
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(0.5)),
			Low:       d.Sub(decimal.NewFromFloat(0.5)),
			Close:     d,
			Volume:    1000,
		}
	}
	return out
}

func TestCompute_RequiresAtLeastTwoBars(t *testing.T) {
	_, ok := Compute("600000.SH", barsFromCloses([]float64{10}))
	if ok {
		t.Fatalf("expected Compute to report insufficient history for a single bar")
	}
}

func TestCompute_RisingSeriesHasPositiveReturns(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 10 + float64(i)*0.1
	}
	f, ok := Compute("600000.SH", barsFromCloses(closes))
	if !ok {
		t.Fatalf("expected Compute to succeed")
	}
	if f.Ret5 <= 0 {
		t.Fatalf("expected positive 5-bar return in a monotonically rising series, got %v", f.Ret5)
	}
	if f.RSI14 < 50 {
		t.Fatalf("expected RSI above neutral in a rising series, got %v", f.RSI14)
	}
}

func TestCompute_FallingSeriesHasRSIBelowNeutral(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 20 - float64(i)*0.1
	}
	f, ok := Compute("600000.SH", barsFromCloses(closes))
	if !ok {
		t.Fatalf("expected Compute to succeed")
	}
	if f.RSI14 > 50 {
		t.Fatalf("expected RSI below neutral in a falling series, got %v", f.RSI14)
	}
}

func TestRankScore_BullishBeatsBearish(t *testing.T) {
	bullish := types.CandidateFeatures{Ret5: 0.02, Ret20: 0.05, RSI14: 60}
	bearish := types.CandidateFeatures{Ret5: -0.02, Ret20: -0.05, RSI14: 40}

	if rankScore(bullish) >= rankScore(bearish) {
		t.Fatalf("expected bullish candidate to rank ahead (lower score), bullish=%v bearish=%v",
			rankScore(bullish), rankScore(bearish))
	}
}

func TestCandidateSet_OrdersByRankScoreThenSymbol(t *testing.T) {
	in := []types.CandidateFeatures{
		{Symbol: "600002.SH", RankScore: 0.1},
		{Symbol: "600001.SH", RankScore: -0.5},
		{Symbol: "600000.SH", RankScore: -0.5},
	}
	out := CandidateSet(in)
	if out[0].Symbol != "600000.SH" || out[1].Symbol != "600001.SH" || out[2].Symbol != "600002.SH" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestSelectSymbols_DeterministicAcrossCalls(t *testing.T) {
	universe := []string{"600000.SH", "600001.SH", "600002.SH", "600003.SH", "600004.SH"}
	a := SelectSymbols(universe, 20260101, 3)
	b := SelectSymbols(universe, 20260101, 3)
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("expected 3 symbols selected, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical selection for the same day bucket, got %v vs %v", a, b)
		}
	}
}

func TestSelectSymbols_DifferentDayBucketsCanDiffer(t *testing.T) {
	universe := []string{"600000.SH", "600001.SH", "600002.SH", "600003.SH", "600004.SH", "600005.SH"}
	a := SelectSymbols(universe, 1, 2)
	b := SelectSymbols(universe, 2, 2)
	same := len(a) == len(b)
	if same {
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Skip("hash collision across these two buckets produced the same subset; not a failure, just unlucky")
	}
}

func TestMacroNote_FlagsElevatedVolatility(t *testing.T) {
	calm := types.CandidateFeatures{VolRatio20: 1.0, Range20dPct: 0.5}
	if MacroNote(calm) != "quiet regime" {
		t.Fatalf("expected quiet regime, got %q", MacroNote(calm))
	}
	volatile := types.CandidateFeatures{VolRatio20: 2.0, Range20dPct: 0.5}
	if got := MacroNote(volatile); got != "elevated volatility vs 20d range" {
		t.Fatalf("expected elevated volatility note, got %q", got)
	}
}

func TestClampUnit_BoundsToUnitInterval(t *testing.T) {
	if clampUnit(5) != 1 {
		t.Fatalf("expected clamp to 1, got %v", clampUnit(5))
	}
	if clampUnit(-5) != -1 {
		t.Fatalf("expected clamp to -1, got %v", clampUnit(-5))
	}
	if math.Abs(clampUnit(0.3)-0.3) > 1e-9 {
		t.Fatalf("expected mid-range value unchanged, got %v", clampUnit(0.3))
	}
}
