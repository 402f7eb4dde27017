package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Moltbook  MoltbookConfig  `json:"moltbook"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Limits    LimitsConfig    `json:"limits"`
	Logging   LoggingConfig   `json:"logging"`
}

type AgentConfig struct {
	Name                       string  `json:"name" env:"MOLTAGENT_AGENT_NAME"`
	Workspace                  string  `json:"workspace" env:"MOLTAGENT_AGENT_WORKSPACE"`
	HeartbeatMinSec            int     `json:"heartbeat_min_sec" env:"MOLTAGENT_AGENT_HEARTBEAT_MIN_SEC"`
	HeartbeatMaxSec            int     `json:"heartbeat_max_sec" env:"MOLTAGENT_AGENT_HEARTBEAT_MAX_SEC"`
	FeedLimit                  int     `json:"feed_limit" env:"MOLTAGENT_AGENT_FEED_LIMIT"`
	ReflectionEveryNHeartbeats int     `json:"reflection_every_n_heartbeats" env:"MOLTAGENT_AGENT_REFLECTION_EVERY_N_HEARTBEATS"`
	StabilityAlertThreshold    float64 `json:"stability_alert_threshold" env:"MOLTAGENT_AGENT_STABILITY_ALERT_THRESHOLD"`
	ConsolidationIntervalMin   int     `json:"consolidation_interval_min" env:"MOLTAGENT_AGENT_CONSOLIDATION_INTERVAL_MIN"`
	CompressionAgeHours        int     `json:"episode_compression_age_hours" env:"MOLTAGENT_AGENT_COMPRESSION_AGE_HOURS"`
	CompressionImportance      float64 `json:"episode_compression_importance" env:"MOLTAGENT_AGENT_COMPRESSION_IMPORTANCE"`
	DigestHourUTC              int     `json:"digest_hour_utc" env:"MOLTAGENT_AGENT_DIGEST_HOUR_UTC"`
}

type MoltbookConfig struct {
	BaseURL string `json:"base_url" env:"MOLTAGENT_MOLTBOOK_BASE_URL"`
	APIKey  string `json:"api_key" env:"MOLTAGENT_MOLTBOOK_API_KEY"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"MOLTAGENT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"MOLTAGENT_PROVIDERS_OPENROUTER_API_BASE"`
	Model   string `json:"model" env:"MOLTAGENT_PROVIDERS_OPENROUTER_MODEL"`
	Proxy   string `json:"proxy" env:"MOLTAGENT_PROVIDERS_OPENROUTER_PROXY"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token   string `json:"token" env:"MOLTAGENT_CHANNELS_DISCORD_TOKEN"`
	OwnerID string `json:"owner_id" env:"MOLTAGENT_CHANNELS_DISCORD_OWNER_ID"`
}

type LimitsConfig struct {
	PostCooldownSec    int `json:"post_cooldown_sec" env:"MOLTAGENT_LIMITS_POST_COOLDOWN_SEC"`
	CommentCooldownSec int `json:"comment_cooldown_sec" env:"MOLTAGENT_LIMITS_COMMENT_COOLDOWN_SEC"`
	MaxCommentsPerDay  int `json:"max_comments_per_day" env:"MOLTAGENT_LIMITS_MAX_COMMENTS_PER_DAY"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"MOLTAGENT_LOGGING_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:                       "moltagent",
			Workspace:                  "~/.moltagent",
			HeartbeatMinSec:            1800,
			HeartbeatMaxSec:            3600,
			FeedLimit:                  15,
			ReflectionEveryNHeartbeats: 10,
			StabilityAlertThreshold:    0.3,
			ConsolidationIntervalMin:   15,
			CompressionAgeHours:        48,
			CompressionImportance:      5.0,
			DigestHourUTC:              21,
		},
		Moltbook: MoltbookConfig{
			BaseURL: "https://www.moltbook.com/api/v1",
		},
		Providers: ProvidersConfig{
			OpenRouter: OpenRouterConfig{
				APIBase: "https://openrouter.ai/api/v1",
				Model:   "openrouter/free",
			},
		},
		Limits: LimitsConfig{
			PostCooldownSec:    1800,
			CommentCooldownSec: 20,
			MaxCommentsPerDay:  50,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads the JSON config file and applies MOLTAGENT_* environment
// overrides on top. A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env overlay
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.Agent.Workspace = ExpandHome(cfg.Agent.Workspace)
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DBPath returns the SQLite database location inside the workspace.
func (c *Config) DBPath() string {
	return filepath.Join(ExpandHome(c.Agent.Workspace), "state", "moltagent.db")
}
