package marketdata

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Sentinel errors surfaced through the §7 error taxonomy.
var (
	ErrLiveFramesUnavailable = errors.New("live_frames_unavailable")
	ErrLiveFramesStale       = errors.New("live_frames_stale")
	ErrNoMarketData          = errors.New("no_market_data")
)

// Service resolves the current frame set through a four-step precedence:
// live 1m batch -> daily archive -> synthetic -> strict-live hard error.
// There is no upstream proxy step: the configured upstream URL is not read
// here. It wraps exactly one Provider (selected once at boot by
// RUNTIME_DATA_MODE) plus the optional archive/synthetic fallback chain, a
// cache-then-file-then-generate fallback shape.
type Service struct {
	logger       *zap.Logger
	primary      Provider
	dailyArchive *Archive
	strictLive   bool
	rng          *rand.Rand
}

// NewService constructs the market data service. primary is whichever
// Provider RUNTIME_DATA_MODE selected (replay or live-file); dailyArchive
// may be nil if no static fallback archive was configured.
func NewService(logger *zap.Logger, primary Provider, dailyArchive *Archive, strictLive bool) *Service {
	return &Service{
		logger:       logger.Named("marketdata"),
		primary:      primary,
		dailyArchive: dailyArchive,
		strictLive:   strictLive,
		rng:          rand.New(rand.NewSource(1)),
	}
}

// Resolve returns the current frame set applying the precedence chain. In
// strict-live mode, any failure of the live provider is a hard error with no
// fallback.
func (s *Service) Resolve() ([]types.Bar, error) {
	bars, err := s.primary.GetFrames()
	if err == nil && len(bars) > 0 {
		return bars, nil
	}

	if s.strictLive {
		if err == nil {
			err = ErrNoMarketData
		}
		return nil, fmt.Errorf("marketdata: strict live mode: %w", err)
	}

	if s.dailyArchive != nil {
		if bars := s.dailyArchive.LatestBars(); len(bars) > 0 {
			s.logger.Warn("falling back to daily archive", zap.Error(err))
			return bars, nil
		}
	}

	synthetic := s.synthesize()
	if len(synthetic) > 0 {
		s.logger.Warn("falling back to synthetic frames", zap.Error(err))
		return synthetic, nil
	}

	if err == nil {
		err = ErrNoMarketData
	}
	return nil, err
}

// GetSymbols returns the known symbol universe, preferring the live provider.
func (s *Service) GetSymbols() []string {
	if syms := s.primary.GetSymbols(); len(syms) > 0 {
		return syms
	}
	if s.dailyArchive != nil {
		return s.dailyArchive.Symbols()
	}
	return nil
}

// synthesize produces a small deterministic synthetic frame set so the
// runtime can still complete a cycle (heuristics included) when neither the
// live provider nor a daily archive has data, using a seeded math/rand
// source instead of a time-seeded "random" helper so the sequence of
// synthetic prices is reproducible from run to run. Each call advances the
// shared source, so successive cycles get different prices, and every bar
// is stamped with the wall-clock time of the call.
func (s *Service) synthesize() []types.Bar {
	universe := []string{"600000", "600519", "000001", "000858", "601318"}
	now := time.Now().UnixMilli()
	out := make([]types.Bar, 0, len(universe))
	for _, sym := range universe {
		seed := int64(0)
		for _, c := range sym {
			seed = seed*31 + int64(c)
		}
		base := decimal.NewFromInt(10 + seed%90)
		drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.02).Mul(base)
		close := base.Add(drift)
		high := decimal.Max(base, close).Add(decimal.NewFromFloat(0.05))
		low := decimal.Min(base, close).Sub(decimal.NewFromFloat(0.05))
		out = append(out, types.Bar{
			Schema:    "market.bar.v1",
			Symbol:    sym,
			StartTsMs: now,
			Open:      base,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    100000,
			Session:   types.SessionContinuousAM,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SessionPhaseFor classifies a CN-A session phase from a Shanghai-local
// wall-clock time. Boundaries are minute-of-day: 555 pre_open starts,
// 570 continuous_am starts, 690 lunch_break starts, 780 continuous_pm
// starts, 900 close_auction starts, 915 closed starts.
func SessionPhaseFor(t time.Time) types.SessionPhase {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err == nil {
		t = t.In(loc)
	}
	mins := t.Hour()*60 + t.Minute()
	switch {
	case mins < 555:
		return types.SessionClosed
	case mins < 570:
		return types.SessionPreOpen
	case mins < 690:
		return types.SessionContinuousAM
	case mins < 780:
		return types.SessionLunchBreak
	case mins < 900:
		return types.SessionContinuousPM
	case mins < 915:
		return types.SessionCloseAuction
	default:
		return types.SessionClosed
	}
}
