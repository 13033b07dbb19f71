package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration: a YAML file merged over defaults,
// with CHAT_* environment variables taking precedence over both.
type Config struct {
	ListenAddr         string          `yaml:"listenAddr"`
	DatabasePath       string          `yaml:"databasePath"`
	RPCToken           string          `yaml:"rpcToken"`
	Moderators         []string        `yaml:"moderators"`
	ActivityWindowDays int             `yaml:"activityWindowDays"`
	RateLimit          RateLimitConfig `yaml:"rateLimit"`
}

// ActivityWindow is the member-count activity window as a duration.
func (c Config) ActivityWindow() time.Duration {
	return time.Duration(c.ActivityWindowDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	Enabled *bool   `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

func Default() Config {
	enabled := true
	return Config{
		ListenAddr:         "127.0.0.1:8080",
		DatabasePath:       "chat.db",
		ActivityWindowDays: 7,
		RateLimit: RateLimitConfig{
			Enabled: &enabled,
			RPS:     30,
			Burst:   60,
		},
	}
}

// Load reads the config file at path (or configs/config.yaml when path is
// empty), merges it over the defaults and applies env overrides. A missing
// file is not an error; a present but unparseable file is.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{"configs/config.yaml"}
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", candidate, err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		merge(&cfg, parsed)
		break
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func merge(dst *Config, src Config) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.DatabasePath != "" {
		dst.DatabasePath = src.DatabasePath
	}
	if src.RPCToken != "" {
		dst.RPCToken = src.RPCToken
	}
	if src.Moderators != nil {
		dst.Moderators = src.Moderators
	}
	if src.ActivityWindowDays != 0 {
		dst.ActivityWindowDays = src.ActivityWindowDays
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = src.RateLimit.Enabled
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CHAT_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_DB_PATH")); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_RPC_TOKEN")); v != "" {
		cfg.RPCToken = v
	}
	if v, ok := ParseBoolEnv("CHAT_RATE_LIMIT_ENABLED"); ok {
		cfg.RateLimit.Enabled = &v
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_RATE_LIMIT_RPS")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.RateLimit.RPS = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_RATE_LIMIT_BURST")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.RateLimit.Burst = parsed
		}
	}
}

func ParseBoolEnv(name string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
