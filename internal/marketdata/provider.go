package marketdata

import "github.com/onlytrade/agent-runtime/pkg/types"

// ProviderStatus reports a provider's health: its mode, the replay cursor
// position and length, and the live-file frame age.
type ProviderStatus struct {
	Mode       string `json:"mode"`
	CursorIdx  int    `json:"cursor_idx,omitempty"`
	TotalBars  int    `json:"total_bars,omitempty"`
	Done       bool   `json:"done,omitempty"`
	StaleMs    int64  `json:"stale_ms,omitempty"`
	LastFrameAtMs int64 `json:"last_frame_at_ms,omitempty"`
}

// Provider is the capability-set every frame source (replay, live-file)
// implements; the market data service selects one implementation at boot
// based on RUNTIME_DATA_MODE and never branches on concrete type afterward.
type Provider interface {
	GetFrames() ([]types.Bar, error)
	GetSymbols() []string
	Status() ProviderStatus
}
