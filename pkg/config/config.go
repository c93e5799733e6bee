package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skillhub/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	API struct {
		BaseURL        string        `yaml:"base_url"`
		HistoryTimeout time.Duration `yaml:"history_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Retry          struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"api"`

	Relay struct {
		URL                 string        `yaml:"url"`
		ConnectTimeout      time.Duration `yaml:"connect_timeout"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		VideoEnabled bool   `yaml:"video_enabled"`
		AudioEnabled bool   `yaml:"audio_enabled"`
		VideoFile    string `yaml:"video_file"` // IVF/VP8
		AudioFile    string `yaml:"audio_file"` // Ogg/Opus
	} `yaml:"media"`

	Chat struct {
		MaxMessageLength  int     `yaml:"max_message_length"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"chat"`

	Session struct {
		File string `yaml:"file"`
	} `yaml:"session"`

	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		Tracing struct {
			Enabled    bool    `yaml:"enabled"`
			JaegerURL  string  `yaml:"jaeger_url"`
			SampleRate float64 `yaml:"sample_rate"`
		} `yaml:"tracing"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// API
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if err := validation.ValidateURL(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.HistoryTimeout <= 0 {
		return fmt.Errorf("api.history_timeout must be > 0")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be > 0")
	}
	if c.API.Retry.MaxAttempts < 0 {
		return fmt.Errorf("api.retry.max_attempts must be >= 0")
	}
	if c.API.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("api.breaker.failure_threshold must be > 0")
	}
	if c.API.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("api.breaker.open_timeout must be > 0")
	}

	// Relay
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url must not be empty")
	}
	if err := validation.ValidateURL(c.Relay.URL); err != nil {
		return fmt.Errorf("relay.url: %w", err)
	}
	if c.Relay.ConnectTimeout <= 0 {
		return fmt.Errorf("relay.connect_timeout must be > 0")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Chat
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be > 0")
	}
	if c.Chat.MessagesPerSecond <= 0 {
		return fmt.Errorf("chat.messages_per_second must be > 0")
	}
	if c.Chat.Burst <= 0 {
		return fmt.Errorf("chat.burst must be > 0")
	}

	// Session
	if c.Session.File == "" {
		return fmt.Errorf("session.file must not be empty")
	}

	// Monitoring
	if c.Monitoring.Enabled && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when monitoring.enabled=true")
	}
	if c.Monitoring.Tracing.Enabled {
		if c.Monitoring.Tracing.JaegerURL == "" {
			return fmt.Errorf("monitoring.tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Monitoring.Tracing.SampleRate < 0 || c.Monitoring.Tracing.SampleRate > 1 {
			return fmt.Errorf("monitoring.tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Session.File = expandHome(cfg.Session.File)
	cfg.Logging.File = expandHome(cfg.Logging.File)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.BaseURL = "http://localhost:3000"
	cfg.API.HistoryTimeout = 10 * time.Second
	cfg.API.RequestTimeout = 30 * time.Second
	cfg.API.Retry.MaxAttempts = 2
	cfg.API.Retry.InitialDelay = 200 * time.Millisecond
	cfg.API.Retry.MaxDelay = 2 * time.Second
	cfg.API.Breaker.FailureThreshold = 5
	cfg.API.Breaker.OpenTimeout = 30 * time.Second

	cfg.Relay.URL = "http://localhost:3000"
	cfg.Relay.ConnectTimeout = 20 * time.Second
	cfg.Relay.PingInterval = 25 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.MaxMessageSizeBytes = 1 << 20

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}

	cfg.Media.VideoEnabled = true
	cfg.Media.AudioEnabled = true

	cfg.Chat.MaxMessageLength = 2000
	cfg.Chat.MessagesPerSecond = 5
	cfg.Chat.Burst = 10

	if home, err := os.UserHomeDir(); err == nil {
		cfg.Session.File = home + "/.skillhub/session.json"
	} else {
		cfg.Session.File = ".skillhub/session.json"
	}

	cfg.Monitoring.Enabled = false
	cfg.Monitoring.Address = "127.0.0.1:9464"
	cfg.Monitoring.RateLimit.RequestsPerSecond = 10
	cfg.Monitoring.RateLimit.Burst = 20
	cfg.Monitoring.Tracing.Enabled = false
	cfg.Monitoring.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Monitoring.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SKILLHUB_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("SKILLHUB_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("SKILLHUB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SKILLHUB_SESSION_FILE"); v != "" {
		c.Session.File = v
	}
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
