package marketdata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

func writeLiveBatch(t *testing.T, path string, bars []types.Bar, generatedAt int64) {
	t.Helper()
	data, err := json.Marshal(types.FrameBatch{Schema: "market.frames.v1", GeneratedAt: generatedAt, Frames: bars})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLiveFileProvider_GetFramesUnavailableBeforeFirstPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.json")
	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Minute)

	if _, err := p.GetFrames(); err == nil {
		t.Fatalf("expected error before any successful poll")
	}
}

func TestLiveFileProvider_PollReadsValidFreshBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.json")
	writeLiveBatch(t, path, []types.Bar{validBar("600000.SH", 1000)}, 1000)

	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Minute)
	p.poll()

	frames, err := p.GetFrames()
	if err != nil {
		t.Fatalf("GetFrames: %v", err)
	}
	if len(frames) != 1 || frames[0].Symbol != "600000.SH" {
		t.Fatalf("expected one fresh frame, got %+v", frames)
	}
}

func TestLiveFileProvider_StaleBatchReturnsErrLiveFramesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.json")
	writeLiveBatch(t, path, []types.Bar{validBar("600000.SH", 1000)}, 1000)

	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Millisecond)
	p.poll()
	time.Sleep(5 * time.Millisecond)

	if _, err := p.GetFrames(); err != ErrLiveFramesStale {
		t.Fatalf("expected ErrLiveFramesStale, got %v", err)
	}
}

func TestLiveFileProvider_MissingFileSetsLastErrAndUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")
	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Minute)
	p.poll()

	if _, err := p.GetFrames(); err == nil {
		t.Fatalf("expected error when the live file has never been readable")
	}
}

func TestLiveFileProvider_InvalidBarsAreDroppedNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.json")
	bad := validBar("600000.SH", 1000)
	bad.Low = bad.High.Add(bad.High) // low > high, invalid
	writeLiveBatch(t, path, []types.Bar{bad, validBar("600001.SH", 1000)}, 1000)

	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Minute)
	p.poll()

	frames, err := p.GetFrames()
	if err != nil {
		t.Fatalf("GetFrames: %v", err)
	}
	if len(frames) != 1 || frames[0].Symbol != "600001.SH" {
		t.Fatalf("expected only the valid bar to survive, got %+v", frames)
	}
}

func TestLiveFileProvider_StatusReportsLiveFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.json")
	writeLiveBatch(t, path, []types.Bar{validBar("600000.SH", 1000)}, 4242)

	p := NewLiveFileProvider(zap.NewNop(), path, time.Second, time.Minute)
	p.poll()

	st := p.Status()
	if st.Mode != "live_file" {
		t.Fatalf("expected mode live_file, got %q", st.Mode)
	}
	if st.LastFrameAtMs != 4242 {
		t.Fatalf("expected LastFrameAtMs=4242, got %d", st.LastFrameAtMs)
	}
}
