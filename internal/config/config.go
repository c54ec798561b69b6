// Package config loads runtime configuration from the environment via viper,
// mirroring the env-var surface the rest of the runtime depends on.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Load reads environment variables (with the given fallback data dir and log
// level from CLI flags) into a fully-populated types.Config.
func Load(dataDir, logLevel string) (types.Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("runtime_data_mode", "replay")
	v.SetDefault("strict_live_mode", false)
	v.SetDefault("live_frames_path", "data/live/onlytrade/frames.1m.json")
	v.SetDefault("live_file_refresh_ms", 2000)
	v.SetDefault("live_file_stale_ms", 15000)
	v.SetDefault("market_provider", "archive")
	v.SetDefault("market_upstream_url", "")
	v.SetDefault("market_upstream_api_key", "")
	v.SetDefault("replay_speed", 1.0)
	v.SetDefault("replay_warmup_bars", 20)
	v.SetDefault("replay_tick_ms", 200)
	v.SetDefault("replay_loop", true)

	v.SetDefault("agent_runtime_cycle_ms", 5000)
	v.SetDefault("agent_decision_every_bars", 1)
	v.SetDefault("agent_session_guard_enabled", true)
	v.SetDefault("agent_session_guard_interval_ms", 30000)

	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("agent_llm_model", "gpt-4o-mini")
	v.SetDefault("agent_llm_enabled", false)
	v.SetDefault("agent_llm_timeout_ms", 7000)
	v.SetDefault("agent_llm_token_saver", false)

	v.SetDefault("agent_commission_rate", 0.0003)
	v.SetDefault("agent_flat_entry_enabled", true)
	v.SetDefault("agent_flat_entry_min_confidence", 0.55)
	v.SetDefault("agent_flat_entry_min_cycles", 5)
	v.SetDefault("agent_flat_entry_max_rsi", 55)
	v.SetDefault("agent_flat_entry_lots", 1)
	v.SetDefault("agent_conservative_probe_shares", 100)
	v.SetDefault("agent_conservative_probe_min_cycles", 8)
	v.SetDefault("agent_conservative_probe_max_rsi", 47)
	v.SetDefault("agent_conservative_probe_ret_floor", -0.01)

	v.SetDefault("control_api_token", "")
	v.SetDefault("reset_agent_memory_on_boot", false)

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8090)
	v.SetDefault("server_enable_metrics", true)
	v.SetDefault("server_metrics_port", 9090)

	cfg := types.Config{
		LogLevel: logLevel,
		Data: types.DataConfig{
			DataDir: dataDir,
		},
		Server: types.ServerConfig{
			Host:          v.GetString("server_host"),
			Port:          v.GetInt("server_port"),
			WebSocketPath: "/ws",
			EnableMetrics: v.GetBool("server_enable_metrics"),
			MetricsPort:   v.GetInt("server_metrics_port"),
			ControlToken:  v.GetString("control_api_token"),
		},
		MarketData: types.MarketDataConfig{
			DataMode:       types.RuntimeDataMode(v.GetString("runtime_data_mode")),
			StrictLiveMode: v.GetBool("strict_live_mode"),
			LiveFramesPath: v.GetString("live_frames_path"),
			LiveRefresh:    time.Duration(v.GetInt("live_file_refresh_ms")) * time.Millisecond,
			LiveStaleAfter: time.Duration(v.GetInt("live_file_stale_ms")) * time.Millisecond,
			MarketProvider: v.GetString("market_provider"),
			UpstreamURL:    v.GetString("market_upstream_url"),
			UpstreamAPIKey: v.GetString("market_upstream_api_key"),
			ReplaySpeed:    v.GetFloat64("replay_speed"),
			WarmupBars:     v.GetInt("replay_warmup_bars"),
			ReplayTickMs:   time.Duration(v.GetInt("replay_tick_ms")) * time.Millisecond,
			ReplayLoop:     v.GetBool("replay_loop"),
		},
		Scheduler: types.SchedulerConfig{
			CycleMs:              time.Duration(v.GetInt("agent_runtime_cycle_ms")) * time.Millisecond,
			DecisionEveryBars:    v.GetInt("agent_decision_every_bars"),
			SessionGuardEnabled:  v.GetBool("agent_session_guard_enabled"),
			SessionGuardInterval: time.Duration(v.GetInt("agent_session_guard_interval_ms")) * time.Millisecond,
		},
		LLM: types.LLMConfig{
			Enabled:    v.GetBool("agent_llm_enabled"),
			BaseURL:    v.GetString("openai_base_url"),
			APIKey:     v.GetString("openai_api_key"),
			Model:      v.GetString("agent_llm_model"),
			TimeoutMs:  time.Duration(v.GetInt("agent_llm_timeout_ms")) * time.Millisecond,
			TokenSaver: v.GetBool("agent_llm_token_saver"),
		},
		Decision: types.DecisionConfig{
			CommissionRate:             v.GetFloat64("agent_commission_rate"),
			FlatEntryEnabled:           v.GetBool("agent_flat_entry_enabled"),
			FlatEntryMinConfidence:     v.GetFloat64("agent_flat_entry_min_confidence"),
			FlatEntryMinCycles:         v.GetInt64("agent_flat_entry_min_cycles"),
			FlatEntryMaxRSI:            v.GetFloat64("agent_flat_entry_max_rsi"),
			FlatEntryLots:              v.GetInt64("agent_flat_entry_lots"),
			ConservativeProbeSize:      v.GetInt64("agent_conservative_probe_shares"),
			ConservativeProbeMinCycles: v.GetInt64("agent_conservative_probe_min_cycles"),
			ConservativeProbeMaxRSI:    v.GetFloat64("agent_conservative_probe_max_rsi"),
			ConservativeProbeRetFloor:  v.GetFloat64("agent_conservative_probe_ret_floor"),
		},
		KillSwitch: types.KillSwitchConfig{
			ResetMemoryOnBoot: v.GetBool("reset_agent_memory_on_boot"),
		},
	}

	if cfg.MarketData.StrictLiveMode && cfg.MarketData.DataMode != types.RuntimeDataModeLiveFile {
		return cfg, fmt.Errorf("config: strict_live_mode requires runtime_data_mode=live_file, got %q", cfg.MarketData.DataMode)
	}

	return cfg, nil
}
