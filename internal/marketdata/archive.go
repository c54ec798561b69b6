package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Archive is the static historical bar set a replay timeline or daily-archive
// fallback is built from. It is loaded once at boot and held read-only.
type Archive struct {
	bySymbol map[string][]types.Bar
	symbols  []string
}

// LoadArchive reads a market.frames.v1-shaped JSON file containing the full
// historical bar set (not just the latest batch), validates each bar, and
// groups/sorts them per symbol by start_ts_ms. Invalid bars are dropped
// rather than aborting the whole load, a load-what-you-can data store
// behavior; dropped bars are not logged or counted.
func LoadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: read archive %s: %w", path, err)
	}

	var batch types.FrameBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("marketdata: decode archive %s: %w", path, err)
	}

	a := &Archive{bySymbol: make(map[string][]types.Bar)}
	for _, bar := range batch.Frames {
		if !bar.Valid() {
			continue
		}
		a.bySymbol[bar.Symbol] = append(a.bySymbol[bar.Symbol], bar)
	}

	for sym, bars := range a.bySymbol {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].StartTsMs < bars[j].StartTsMs })
		a.bySymbol[sym] = dedupBars(bars)
		a.symbols = append(a.symbols, sym)
	}
	sort.Strings(a.symbols)
	return a, nil
}

func dedupBars(bars []types.Bar) []types.Bar {
	if len(bars) == 0 {
		return bars
	}
	out := make([]types.Bar, 0, len(bars))
	out = append(out, bars[0])
	for _, b := range bars[1:] {
		if b.StartTsMs == out[len(out)-1].StartTsMs {
			out[len(out)-1] = b // last write for a timestamp wins
			continue
		}
		out = append(out, b)
	}
	return out
}

// Symbols returns the archive's known symbols, sorted ascending.
func (a *Archive) Symbols() []string { return append([]string(nil), a.symbols...) }

// BarsFor returns the full historical bar series for symbol, oldest first.
func (a *Archive) BarsFor(symbol string) []types.Bar {
	return append([]types.Bar(nil), a.bySymbol[symbol]...)
}

// Len returns the number of bars in the symbol with the shortest series.
func (a *Archive) Len() int {
	min := -1
	for _, bars := range a.bySymbol {
		if min == -1 || len(bars) < min {
			min = len(bars)
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// LatestBars returns, for every symbol, the last bar of its series, used as
// a daily-archive fallback when no replay/live cursor applies.
func (a *Archive) LatestBars() []types.Bar {
	out := make([]types.Bar, 0, len(a.symbols))
	for _, sym := range a.symbols {
		bars := a.bySymbol[sym]
		if len(bars) == 0 {
			continue
		}
		out = append(out, bars[len(bars)-1])
	}
	return out
}
