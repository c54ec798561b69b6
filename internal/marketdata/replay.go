package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// ReplayEngine plays a static Archive forward bar-by-bar on a background
// ticker, exposing the cursor-relative view the scheduler's event-driven
// cadence reads from. Structured as a mainLoop/stopChan ticker, generalized
// from a live ticker poll to a deterministic historical cursor advance.
type ReplayEngine struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	archive *Archive
	cursor  int
	total   int
	speed   float64
	tick    time.Duration
	loop    bool

	stopCh  chan struct{}
	running bool
}

// NewReplayEngine constructs a replay engine positioned at warmupBars-1, the
// first index with enough trailing history for feature computation. The
// cursor spans the longest symbol series; shorter series pin to their own
// last bar (see GetVisibleFrames).
func NewReplayEngine(logger *zap.Logger, archive *Archive, warmupBars int, tick time.Duration, speed float64, loopWhenDone bool) *ReplayEngine {
	total := 0
	for _, bars := range archive.bySymbol {
		if len(bars) > total {
			total = len(bars)
		}
	}
	cursor := warmupBars - 1
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= total && total > 0 {
		cursor = total - 1
	}
	return &ReplayEngine{
		logger:  logger.Named("replay"),
		archive: archive,
		cursor:  cursor,
		total:   total,
		speed:   speed,
		tick:    tick,
		loop:    loopWhenDone,
	}
}

// Run starts the background ticker loop, advancing the cursor every tick
// (scaled by speed) until ctx is cancelled or Stop is called.
func (r *ReplayEngine) Run(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	interval := r.tick
	if r.speed > 0 {
		interval = time.Duration(float64(r.tick) / r.speed)
	}
	if interval <= 0 {
		interval = r.tick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Stop halts the background ticker loop; it does not reset the cursor.
func (r *ReplayEngine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

// Tick advances the cursor by one bar, wrapping to 0 if looping is enabled
// and the timeline is exhausted, otherwise holding at the last index.
func (r *ReplayEngine) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step()
}

func (r *ReplayEngine) step() {
	if r.total == 0 {
		return
	}
	next := r.cursor + 1
	if next >= r.total {
		if r.loop {
			r.cursor = 0
			return
		}
		r.cursor = r.total - 1
		return
	}
	r.cursor = next
}

// Step advances the cursor by n bars synchronously, for manual or
// test-driven stepping outside the background ticker.
func (r *ReplayEngine) Step(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.step()
	}
}

// SetCursor jumps the replay cursor to an explicit index, clamped to
// [0, total-1].
func (r *ReplayEngine) SetCursor(idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return fmt.Errorf("marketdata: replay archive is empty")
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= r.total {
		idx = r.total - 1
	}
	r.cursor = idx
	return nil
}

// GetVisibleFrames returns, for each symbol, the bar at the current cursor
// index, or the symbol's last available bar if its series is shorter than
// the cursor (short series pin to their own last bar rather than panic).
func (r *ReplayEngine) GetVisibleFrames() []types.Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visibleFramesLocked()
}

func (r *ReplayEngine) visibleFramesLocked() []types.Bar {
	symbols := r.archive.Symbols()
	out := make([]types.Bar, 0, len(symbols))
	for _, sym := range symbols {
		bars := r.archive.bySymbol[sym]
		if len(bars) == 0 {
			continue
		}
		idx := r.cursor
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		out = append(out, bars[idx])
	}
	return out
}

// GetFrames implements Provider.
func (r *ReplayEngine) GetFrames() ([]types.Bar, error) {
	return r.GetVisibleFrames(), nil
}

// GetSymbols implements Provider.
func (r *ReplayEngine) GetSymbols() []string {
	return r.archive.Symbols()
}

// Status implements Provider.
func (r *ReplayEngine) Status() ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ProviderStatus{
		Mode:      "replay",
		CursorIdx: r.cursor,
		TotalBars: r.total,
		Done:      !r.loop && r.cursor >= r.total-1,
	}
}

// CycleNumber returns the current cursor as the scheduler's cycle sequence
// number for event-driven cadence (cycle_number == bar index advanced).
func (r *ReplayEngine) CycleNumber() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(r.cursor)
}
