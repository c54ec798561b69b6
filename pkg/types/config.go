// Package types provides configuration types for the agent runtime.
package types

import (
	"time"
)

// ServerConfig represents control-API server configuration.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
	ControlToken   string        `json:"-"`
}

// DataConfig represents the on-disk data layout root.
type DataConfig struct {
	DataDir string `json:"dataDir"`
}

// RuntimeDataMode selects which market data provider backs the service.
type RuntimeDataMode string

const (
	RuntimeDataModeReplay   RuntimeDataMode = "replay"
	RuntimeDataModeLiveFile RuntimeDataMode = "live_file"
)

// MarketDataConfig configures the replay engine, the live-file provider, and
// the market data service. UpstreamURL and UpstreamAPIKey are loaded from
// the environment, but the service makes no upstream calls.
type MarketDataConfig struct {
	DataMode         RuntimeDataMode `json:"dataMode"`
	StrictLiveMode   bool            `json:"strictLiveMode"`
	LiveFramesPath   string          `json:"liveFramesPath"`
	LiveRefresh      time.Duration   `json:"liveRefresh"`
	LiveStaleAfter   time.Duration   `json:"liveStaleAfter"`
	MarketProvider   string          `json:"marketProvider"`
	UpstreamURL      string          `json:"upstreamURL"`
	UpstreamAPIKey   string          `json:"-"`
	ReplaySpeed      float64         `json:"replaySpeed"`
	WarmupBars       int             `json:"warmupBars"`
	ReplayTickMs     time.Duration   `json:"replayTickMs"`
	ReplayLoop       bool            `json:"replayLoop"`
}

// SchedulerConfig configures the runtime loop's cadence and guards.
type SchedulerConfig struct {
	CycleMs             time.Duration `json:"cycleMs"`
	DecisionEveryBars    int          `json:"decisionEveryBars"`
	SessionGuardEnabled  bool         `json:"sessionGuardEnabled"`
	SessionGuardInterval time.Duration `json:"sessionGuardInterval"`
}

// LLMConfig configures the LLM decision client.
type LLMConfig struct {
	Enabled      bool          `json:"enabled"`
	BaseURL      string        `json:"baseURL"`
	APIKey       string        `json:"-"`
	Model        string        `json:"model"`
	TimeoutMs    time.Duration `json:"timeoutMs"`
	TokenSaver   bool          `json:"tokenSaver"`
}

// DecisionConfig configures the decision engine's guardrails.
type DecisionConfig struct {
	CommissionRate             float64 `json:"commissionRate"`
	FlatEntryEnabled           bool    `json:"flatEntryEnabled"`
	FlatEntryMinConfidence     float64 `json:"flatEntryMinConfidence"`
	FlatEntryMinCycles         int64   `json:"flatEntryMinCycles"`
	FlatEntryMaxRSI            float64 `json:"flatEntryMaxRsi"`
	FlatEntryLots              int64   `json:"flatEntryLots"`
	ConservativeProbeSize      int64   `json:"conservativeProbeSize"`
	ConservativeProbeMinCycles int64   `json:"conservativeProbeMinCycles"`
	ConservativeProbeMaxRSI    float64 `json:"conservativeProbeMaxRsi"`
	ConservativeProbeRetFloor  float64 `json:"conservativeProbeRetFloor"`
}

// KillSwitchConfig represents kill switch behavior on boot.
type KillSwitchConfig struct {
	ResetMemoryOnBoot bool `json:"resetMemoryOnBoot"`
}

// Config is the fully-resolved runtime configuration, populated by
// internal/config from environment variables via viper.
type Config struct {
	Server      ServerConfig
	Data        DataConfig
	MarketData  MarketDataConfig
	Scheduler   SchedulerConfig
	LLM         LLMConfig
	Decision    DecisionConfig
	KillSwitch  KillSwitchConfig
	LogLevel    string
}
