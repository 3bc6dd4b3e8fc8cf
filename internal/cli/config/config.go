package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"practiceoj/internal/common/cache"
	"practiceoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL           = "http://127.0.0.1:8080"
	DefaultTimeout           = 10 * time.Second
	DefaultTokenStatePath    = "configs/workspace_state.json"
	DefaultSolvedPath        = "configs/solved.json"
	DefaultSubmitTimeout     = 60 * time.Second
	DefaultCorrelationWindow = 2 * time.Minute

	SolvedBackendFile  = "file"
	SolvedBackendRedis = "redis"

	pushPath = "/api/v1/ws"
)

// Config holds workspace client configuration.
type Config struct {
	BaseURL        string        `yaml:"baseURL"`
	PushURL        string        `yaml:"pushURL"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenStatePath string        `yaml:"tokenStatePath"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`

	Workspace WorkspaceConfig `yaml:"workspace"`
	Solved    SolvedConfig    `yaml:"solved"`
	Logger    logger.Config   `yaml:"logger"`
}

// WorkspaceConfig tunes the submission coordinator.
type WorkspaceConfig struct {
	SubmitTimeout     time.Duration `yaml:"submitTimeout"`
	CorrelationWindow time.Duration `yaml:"correlationWindow"`
	MaxCodeBytes      int           `yaml:"maxCodeBytes"`
	AutoReview        bool          `yaml:"autoReview"`
}

// SolvedConfig selects where solved problems are persisted.
type SolvedConfig struct {
	Backend string            `yaml:"backend"` // file or redis
	Path    string            `yaml:"path"`
	Profile string            `yaml:"profile"`
	Redis   cache.RedisConfig `yaml:"redis"`
}

func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values. The push URL follows the base URL unless set.
func ApplyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PushURL == "" {
		cfg.PushURL = PushURLFor(cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
	if cfg.Workspace.SubmitTimeout <= 0 {
		cfg.Workspace.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.Workspace.CorrelationWindow <= 0 {
		cfg.Workspace.CorrelationWindow = DefaultCorrelationWindow
	}
	if cfg.Solved.Backend == "" {
		cfg.Solved.Backend = SolvedBackendFile
	}
	if cfg.Solved.Path == "" {
		cfg.Solved.Path = DefaultSolvedPath
	}
	if cfg.Solved.Profile == "" {
		cfg.Solved.Profile = "default"
	}
	if cfg.Solved.Backend == SolvedBackendRedis {
		cfg.Solved.Redis.ApplyDefaults()
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
}

func (c Config) Validate() error {
	switch c.Solved.Backend {
	case SolvedBackendFile, SolvedBackendRedis:
	default:
		return fmt.Errorf("unknown solved backend: %s", c.Solved.Backend)
	}
	if !strings.HasPrefix(c.PushURL, "ws://") && !strings.HasPrefix(c.PushURL, "wss://") {
		return fmt.Errorf("pushURL must be a ws:// or wss:// url: %s", c.PushURL)
	}
	return nil
}

// PushURLFor derives the websocket endpoint from an http(s) base URL.
func PushURLFor(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + pushPath
}
