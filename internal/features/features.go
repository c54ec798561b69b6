// Package features builds the per-symbol candidate set the decision engine
// and LLM client reason over: momentum/trend/volatility indicators computed
// from a trailing bar window, ranked into a deterministic candidate order.
package features

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Compute derives CandidateFeatures for symbol from its bar history, oldest
// first, with history ending at (and including) the current cursor bar.
// Returns false if there isn't at least 2 bars (the minimum for a return).
func Compute(symbol string, history []types.Bar) (types.CandidateFeatures, bool) {
	if len(history) < 2 {
		return types.CandidateFeatures{}, false
	}

	closes := make([]decimal.Decimal, len(history))
	for i, b := range history {
		closes[i] = b.Close
	}
	last := history[len(history)-1]

	f := types.CandidateFeatures{
		Symbol:      symbol,
		LastClose:   last.Close,
		LastBarTsMs: last.StartTsMs,
	}
	f.Ret5 = pctReturn(closes, 5)
	f.Ret20 = pctReturn(closes, 20)
	f.SMA20 = sma(closes, 20)
	f.SMA60 = sma(closes, 60)
	f.RSI14 = rsiWilder(closes, 14)
	f.ATR14 = atr(history, 14)
	f.VolRatio20 = volRatio(history, 20)
	f.Range20dPct = range20dPct(history, 20)
	f.RankScore = rankScore(f)
	return f, true
}

// pctReturn returns the fractional return over the trailing k bars, or 0 if
// there isn't enough history.
func pctReturn(closes []decimal.Decimal, k int) float64 {
	n := len(closes)
	if n <= k {
		return 0
	}
	prev := closes[n-1-k]
	if prev.IsZero() {
		return 0
	}
	ret := closes[n-1].Sub(prev).Div(prev)
	f, _ := ret.Float64()
	return f
}

// sma returns the simple moving average of the trailing period closes, or
// zero if there is not enough history.
func sma(closes []decimal.Decimal, period int) decimal.Decimal {
	n := len(closes)
	if n < period {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range closes[n-period:] {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// rsiWilder computes the 14-period Wilder-smoothed RSI from closes: the first
// average is a plain mean of the first `period` gains/losses, every
// subsequent average is smoothed as avg*(period-1)/period + value/period.
// Returns 100 when avg_loss is zero, or 0 when there isn't enough history to
// form even the initial average (treated as "insufficient" by the readiness
// evaluator, not surfaced here as a null).
func rsiWilder(closes []decimal.Decimal, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		diff, _ := closes[i].Sub(closes[i-1]).Float64()
		if diff > 0 {
			gains = append(gains, diff)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -diff)
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// atr computes the 14-period Average True Range from bar high/low/close.
func atr(bars []types.Bar, period int) decimal.Decimal {
	if len(bars) < period+1 {
		return decimal.Zero
	}
	trs := make([]decimal.Decimal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High.Sub(bars[i].Low)
		hc := bars[i].High.Sub(bars[i-1].Close).Abs()
		lc := bars[i].Low.Sub(bars[i-1].Close).Abs()
		tr := decimal.Max(hl, decimal.Max(hc, lc))
		trs = append(trs, tr)
	}
	window := trs[len(trs)-period:]
	sum := decimal.Zero
	for _, tr := range window {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// volRatio is today's volume over the trailing 20-day average volume
// (excluding today), signalling unusual participation.
func volRatio(bars []types.Bar, period int) float64 {
	n := len(bars)
	if n < period+1 {
		return 1
	}
	window := bars[n-1-period : n-1]
	var sum int64
	for _, b := range window {
		sum += b.Volume
	}
	avg := float64(sum) / float64(period)
	if avg == 0 {
		return 1
	}
	return float64(bars[n-1].Volume) / avg
}

// range20dPct is the last bar's position within its trailing 20-day
// high/low range, in [0,1]; 0 = at the 20d low, 1 = at the 20d high.
func range20dPct(bars []types.Bar, period int) float64 {
	n := len(bars)
	if n < period {
		return 0.5
	}
	window := bars[n-period:]
	hi, lo := window[0].High, window[0].Low
	for _, b := range window {
		hi = decimal.Max(hi, b.High)
		lo = decimal.Min(lo, b.Low)
	}
	span := hi.Sub(lo)
	if span.IsZero() {
		return 0.5
	}
	pos := bars[n-1].Close.Sub(lo).Div(span)
	f, _ := pos.Float64()
	return clamp01(f)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clampUnit(f float64) float64 {
	if f < -1 {
		return -1
	}
	if f > 1 {
		return 1
	}
	return f
}

// rankScore orders candidates so that more bullish normalized momentum and a
// lower RSI rank first. Weights favor
// short-term momentum slightly over long-term. The RSI term is one-sided: a
// reading above neutral (50) is a mild penalty and a reading below it a mild
// bonus, so oversold candidates move up rather than down.
func rankScore(f types.CandidateFeatures) float64 {
	ret5Term := clampUnit(f.Ret5 / 0.02)
	ret20Term := clampUnit(f.Ret20 / 0.05)
	rsiTerm := clampUnit((f.RSI14 - 50) / 50)
	return -(0.45*ret5Term + 0.35*ret20Term - 0.20*rsiTerm)
}

// CandidateSet ranks symbols by RankScore ascending (the Compute convention
// sorts most-attractive first), breaking ties on symbol ascending for a
// fully deterministic total order.
func CandidateSet(all []types.CandidateFeatures) []types.CandidateFeatures {
	out := append([]types.CandidateFeatures(nil), all...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RankScore != out[j].RankScore {
			return out[i].RankScore < out[j].RankScore
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// SelectSymbols deterministically narrows a universe to at most n symbols
// using an FNV hash of the symbol plus day bucket, so repeated calls within
// the same trading day return a stable subset without needing a PRNG seed
// carried in state.
func SelectSymbols(universe []string, dayBucket int64, n int) []string {
	if n <= 0 || n >= len(universe) {
		sorted := append([]string(nil), universe...)
		sort.Strings(sorted)
		return sorted
	}
	type scored struct {
		symbol string
		h      uint64
	}
	scoredList := make([]scored, 0, len(universe))
	for _, sym := range universe {
		h := fnv.New64a()
		h.Write([]byte(sym))
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(dayBucket >> (8 * i))
		}
		h.Write(buf[:])
		scoredList = append(scoredList, scored{symbol: sym, h: h.Sum64()})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].h != scoredList[j].h {
			return scoredList[i].h < scoredList[j].h
		}
		return scoredList[i].symbol < scoredList[j].symbol
	})
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scoredList[i].symbol)
	}
	sort.Strings(out)
	return out
}

// MacroNote attaches a narrative-only regime label derived from volatility
// features; it never changes the heuristic decision, only the LLM prompt
// context and reasoning text.
func MacroNote(f types.CandidateFeatures) string {
	if f.VolRatio20 > 1.5 || math.Abs(f.Range20dPct-0.5) > 0.4 {
		return "elevated volatility vs 20d range"
	}
	return "quiet regime"
}
