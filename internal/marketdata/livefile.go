package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// LiveFileProvider polls a file produced externally (an AKShare collector,
// out of this runtime's scope) for the latest frame batch, following the
// same tmp-write-then-rename producer contract the runtime itself uses for
// its own durable stores.
type LiveFileProvider struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	path        string
	refresh     time.Duration
	staleAfter  time.Duration
	lastGood    []types.Bar
	lastGoodAt  time.Time
	generatedAt int64
	lastErr     error
}

// NewLiveFileProvider constructs a provider polling path every refresh
// interval, treating a batch older than staleAfter as stale.
func NewLiveFileProvider(logger *zap.Logger, path string, refresh, staleAfter time.Duration) *LiveFileProvider {
	return &LiveFileProvider{
		logger:     logger.Named("livefile"),
		path:       path,
		refresh:    refresh,
		staleAfter: staleAfter,
	}
}

// Run polls the file on the configured interval until ctx is cancelled.
func (p *LiveFileProvider) Run(ctx context.Context) {
	p.poll()
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *LiveFileProvider) poll() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.mu.Lock()
		p.lastErr = fmt.Errorf("marketdata: read live file %s: %w", p.path, err)
		p.mu.Unlock()
		return
	}

	var batch types.FrameBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		p.mu.Lock()
		p.lastErr = fmt.Errorf("marketdata: decode live file %s: %w", p.path, err)
		p.mu.Unlock()
		return
	}

	valid := make([]types.Bar, 0, len(batch.Frames))
	for _, bar := range batch.Frames {
		if bar.Valid() {
			valid = append(valid, bar)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Symbol < valid[j].Symbol })

	p.mu.Lock()
	p.lastGood = valid
	p.lastGoodAt = time.Now()
	p.generatedAt = batch.GeneratedAt
	p.lastErr = nil
	p.mu.Unlock()
}

// stale reports whether the last successfully read batch is older than
// staleAfter, or no batch has ever been read.
func (p *LiveFileProvider) stale() bool {
	if p.lastGoodAt.IsZero() {
		return true
	}
	return time.Since(p.lastGoodAt) > p.staleAfter
}

// GetFrames implements Provider. A stale or absent batch surfaces
// ErrLiveFramesStale/ErrLiveFramesUnavailable so the market data service and
// scheduler can abort the cycle rather than trade on stale frames.
func (p *LiveFileProvider) GetFrames() ([]types.Bar, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastErr != nil && p.lastGoodAt.IsZero() {
		return nil, fmt.Errorf("%w: %v", ErrLiveFramesUnavailable, p.lastErr)
	}
	if p.stale() {
		return nil, ErrLiveFramesStale
	}
	return append([]types.Bar(nil), p.lastGood...), nil
}

// GetSymbols implements Provider.
func (p *LiveFileProvider) GetSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	symbols := make([]string, 0, len(p.lastGood))
	for _, bar := range p.lastGood {
		symbols = append(symbols, bar.Symbol)
	}
	return symbols
}

// Status implements Provider.
func (p *LiveFileProvider) Status() ProviderStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var staleMs int64
	if !p.lastGoodAt.IsZero() {
		staleMs = time.Since(p.lastGoodAt).Milliseconds()
	}
	return ProviderStatus{
		Mode:          "live_file",
		LastFrameAtMs: p.generatedAt,
		StaleMs:       staleMs,
	}
}
