package features

import (
	"time"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Evaluator classifies the current cycle's data quality into an OK/WARN/ERROR
// readiness level: a severity-tagged issue list feeding a live per-cycle gate
// with fixed reason codes.
type Evaluator struct {
	maxBarAgeContinuous time.Duration
	maxBarAgeOpening    time.Duration
	minHistoryBars      int
}

// NewEvaluator constructs the readiness evaluator with default staleness and
// history thresholds.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		maxBarAgeContinuous: 3 * time.Minute,
		maxBarAgeOpening:    6 * time.Minute,
		minHistoryBars:      20,
	}
}

// Evaluate inspects the resolved bar set and the per-symbol history lengths
// available to the feature builder, returning a report whose Level is the
// max of every individual check (OK < WARN < ERROR).
func (e *Evaluator) Evaluate(bars []types.Bar, historyLens map[string]int, phase types.SessionPhase, now time.Time) types.ReadinessReport {
	report := types.ReadinessReport{Level: types.ReadinessOK}

	if len(bars) == 0 {
		report.Level = types.ReadinessError
		report.Reasons = append(report.Reasons, "no_frames_available")
		return report
	}

	maxAge := e.maxBarAgeContinuous
	softened := phase == types.SessionPreOpen
	if softened {
		maxAge = e.maxBarAgeOpening
	}

	staleCount := 0
	for _, b := range bars {
		age := now.Sub(time.UnixMilli(b.StartTsMs))
		if age > maxAge {
			staleCount++
		}
	}
	if staleCount > 0 {
		level := types.ReadinessWarn
		if staleCount == len(bars) {
			level = types.ReadinessError
		}
		bumpLevel(&report, level)
		report.Reasons = append(report.Reasons, "stale_bars")
	}

	shortHistory := 0
	for _, n := range historyLens {
		if n < e.minHistoryBars {
			shortHistory++
		}
	}
	if shortHistory > 0 {
		level := types.ReadinessWarn
		if softened {
			// opening phase softens insufficient-history to a WARN even
			// when every symbol is short, since the archive has not yet
			// accumulated the day's bars.
		} else if shortHistory == len(historyLens) {
			level = types.ReadinessError
		}
		bumpLevel(&report, level)
		report.Reasons = append(report.Reasons, "insufficient_history")
	}

	for _, b := range bars {
		if !b.Valid() {
			bumpLevel(&report, types.ReadinessWarn)
			report.Reasons = append(report.Reasons, "invalid_bar_shape")
			break
		}
	}

	return report
}

func bumpLevel(r *types.ReadinessReport, level types.ReadinessLevel) {
	if level > r.Level {
		r.Level = level
	}
}
