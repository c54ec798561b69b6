package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func testArchive(t *testing.T, n int, shortSymbolLen int) *Archive {
	t.Helper()
	a := &Archive{bySymbol: make(map[string][]types.Bar)}
	for i := 0; i < n; i++ {
		a.bySymbol["600000.SH"] = append(a.bySymbol["600000.SH"], types.Bar{
			Symbol: "600000.SH", StartTsMs: int64(i) * 60000,
			Open: decimal.NewFromInt(10), High: decimal.NewFromInt(11),
			Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10), Volume: 1000,
		})
	}
	for i := 0; i < shortSymbolLen; i++ {
		a.bySymbol["600001.SH"] = append(a.bySymbol["600001.SH"], types.Bar{
			Symbol: "600001.SH", StartTsMs: int64(i) * 60000,
			Open: decimal.NewFromInt(20), High: decimal.NewFromInt(21),
			Low: decimal.NewFromInt(19), Close: decimal.NewFromInt(20), Volume: 500,
		})
	}
	a.symbols = []string{"600000.SH", "600001.SH"}
	return a
}

func TestNewReplayEngine_PositionsAtWarmupMinusOne(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 5, time.Second, 1, false)
	if r.cursor != 4 {
		t.Fatalf("expected cursor at 4 (warmup-1), got %d", r.cursor)
	}
}

func TestNewReplayEngine_ClampsNegativeWarmupToZero(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 0, time.Second, 1, false)
	if r.cursor != 0 {
		t.Fatalf("expected cursor clamped to 0, got %d", r.cursor)
	}
}

func TestNewReplayEngine_ClampsWarmupBeyondTotal(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 50, time.Second, 1, false)
	if r.cursor != 9 {
		t.Fatalf("expected cursor clamped to total-1=9, got %d", r.cursor)
	}
}

func TestTick_AdvancesCursorByOne(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)
	r.Tick()
	if r.CycleNumber() != 1 {
		t.Fatalf("expected cursor 1 after one tick, got %d", r.CycleNumber())
	}
}

func TestTick_HoldsAtLastIndexWhenNotLooping(t *testing.T) {
	a := testArchive(t, 3, 3)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)
	r.Step(10)
	if r.CycleNumber() != 2 {
		t.Fatalf("expected cursor held at total-1=2, got %d", r.CycleNumber())
	}
	if !r.Status().Done {
		t.Fatalf("expected Status().Done true when held at last index without looping")
	}
}

func TestTick_WrapsToZeroWhenLooping(t *testing.T) {
	a := testArchive(t, 3, 3)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, true)
	r.Step(3)
	if r.CycleNumber() != 0 {
		t.Fatalf("expected cursor wrapped to 0, got %d", r.CycleNumber())
	}
}

func TestSetCursor_ClampsToValidRange(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)

	if err := r.SetCursor(-5); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if r.CycleNumber() != 0 {
		t.Fatalf("expected negative index clamped to 0, got %d", r.CycleNumber())
	}

	if err := r.SetCursor(999); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if r.CycleNumber() != 9 {
		t.Fatalf("expected out-of-range index clamped to 9, got %d", r.CycleNumber())
	}
}

func TestSetCursor_ErrorsOnEmptyArchive(t *testing.T) {
	a := &Archive{bySymbol: make(map[string][]types.Bar)}
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)
	if err := r.SetCursor(0); err == nil {
		t.Fatalf("expected error setting cursor on an empty archive")
	}
}

func TestGetVisibleFrames_ShortSeriesPinsToOwnLastBar(t *testing.T) {
	a := testArchive(t, 10, 3)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)
	if err := r.SetCursor(7); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}

	frames := r.GetVisibleFrames()
	var short, long *types.Bar
	for i := range frames {
		switch frames[i].Symbol {
		case "600001.SH":
			short = &frames[i]
		case "600000.SH":
			long = &frames[i]
		}
	}
	if short == nil || long == nil {
		t.Fatalf("expected both symbols present, got %+v", frames)
	}
	if short.StartTsMs != 2*60000 {
		t.Fatalf("expected short series pinned to its own last bar (ts=120000), got %d", short.StartTsMs)
	}
	if long.StartTsMs != 7*60000 {
		t.Fatalf("expected long series at cursor bar (ts=420000), got %d", long.StartTsMs)
	}
}

func TestStatus_ReportsModeAndTotals(t *testing.T) {
	a := testArchive(t, 10, 10)
	r := NewReplayEngine(zap.NewNop(), a, 1, time.Second, 1, false)
	st := r.Status()
	if st.Mode != "replay" {
		t.Fatalf("expected mode replay, got %q", st.Mode)
	}
	if st.TotalBars != 10 {
		t.Fatalf("expected total bars 10, got %d", st.TotalBars)
	}
}
