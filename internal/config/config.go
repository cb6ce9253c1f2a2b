// Package config provides configuration management for avatarchat.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. AVATARCHAT_ENGINE_SDK_KEY.
const EnvPrefix = "AVATARCHAT"

// Engine modes
const (
	ModeSimulator = "simulator"
	ModeBridge    = "bridge"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all application configuration
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Simulator  SimulatorConfig  `mapstructure:"simulator" yaml:"simulator"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Echo       EchoConfig       `mapstructure:"echo" yaml:"echo"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// EngineConfig selects the engine and carries the vendor init options.
type EngineConfig struct {
	Mode                string        `mapstructure:"mode" yaml:"mode"` // simulator or bridge
	SDKKey              string        `mapstructure:"sdk_key" yaml:"sdk_key"`
	AvatarID            string        `mapstructure:"avatar_id" yaml:"avatar_id"`
	VoiceCode           string        `mapstructure:"voice_code" yaml:"voice_code"`
	SubtitleCode        string        `mapstructure:"subtitle_code" yaml:"subtitle_code"`
	VoiceTTSSpeechSpeed float64       `mapstructure:"voice_tts_speech_speed" yaml:"voice_tts_speech_speed"`
	EnableMicrophone    bool          `mapstructure:"enable_microphone" yaml:"enable_microphone"`
	LogLevel            string        `mapstructure:"log_level" yaml:"log_level"`
	CustomID            string        `mapstructure:"custom_id" yaml:"custom_id"`
	UserKey             string        `mapstructure:"user_key" yaml:"user_key"`
	AckTimeout          time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
}

// SimulatorConfig tunes the in-process engine.
type SimulatorConfig struct {
	StatusDelay   time.Duration `mapstructure:"status_delay" yaml:"status_delay"`
	ResponseDelay time.Duration `mapstructure:"response_delay" yaml:"response_delay"`
	SentenceDelay time.Duration `mapstructure:"sentence_delay" yaml:"sentence_delay"`
	SttTranscript string        `mapstructure:"stt_transcript" yaml:"stt_transcript"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// EchoConfig configures the echo playlist.
type EchoConfig struct {
	Playlist     []string `mapstructure:"playlist" yaml:"playlist"`
	PlaylistFile string   `mapstructure:"playlist_file" yaml:"playlist_file"`
	Watch        bool     `mapstructure:"watch" yaml:"watch"`
}

// TranscriptConfig bounds the in-memory transcript.
type TranscriptConfig struct {
	MaxEntries         int  `mapstructure:"max_entries" yaml:"max_entries"` // 0 = unbounded
	RetainOnDisconnect bool `mapstructure:"retain_on_disconnect" yaml:"retain_on_disconnect"`
}

// ArchiveConfig configures transcript persistence.
type ArchiveConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Path          string        `mapstructure:"path" yaml:"path"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// RedisConfig configures the event relay.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" yaml:"max_len"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:         ModeSimulator,
			AvatarID:     "demo-avatar",
			VoiceCode:    "en_us",
			SubtitleCode: "en_us",
			LogLevel:     "info",
			AckTimeout:   15 * time.Second,
		},
		Simulator: SimulatorConfig{
			StatusDelay:   150 * time.Millisecond,
			ResponseDelay: 600 * time.Millisecond,
			SentenceDelay: 900 * time.Millisecond,
			SttTranscript: "Hello there.",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Echo: EchoConfig{
			Playlist: []string{
				"Hello, nice to meet you.",
				"This sentence is read back exactly as written.",
			},
			Watch: true,
		},
		Transcript: TranscriptConfig{
			MaxEntries:         1000,
			RetainOnDisconnect: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Path:          "~/.avatarchat/archive.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  "avatarchat:events",
			MaxLen:  10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 500,
		},
	}
}

// DefaultPath returns ~/.avatarchat/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".avatarchat", "config.yaml"), nil
}

// Load reads the default config file, creating it with defaults when missing.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath layers defaults, the YAML file at path and AVATARCHAT_*
// environment variables, in that order. A missing file is created with the
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := DefaultConfig().SaveToPath(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	// Seeding every key lets AutomaticEnv override keys the file leaves out.
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Archive.Path = expandPath(cfg.Archive.Path)
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)
	cfg.Echo.PlaylistFile = expandPath(cfg.Echo.PlaylistFile)

	return &cfg, nil
}

// SaveToPath writes the configuration as YAML.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Redacted returns a copy with secrets replaced, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Engine.SDKKey != "" {
		out.Engine.SDKKey = "********"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	return &out
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case ModeSimulator, ModeBridge:
	default:
		return fmt.Errorf("%w: engine.mode %q must be simulator or bridge", ErrInvalidConfig, c.Engine.Mode)
	}

	if c.Engine.Mode == ModeBridge && c.Engine.SDKKey == "" {
		return fmt.Errorf("%w: engine.sdk_key is required in bridge mode", ErrInvalidConfig)
	}

	if c.Engine.AckTimeout <= 0 {
		return fmt.Errorf("%w: engine.ack_timeout must be positive", ErrInvalidConfig)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr cannot be empty", ErrInvalidConfig)
	}

	if c.Transcript.MaxEntries < 0 {
		return fmt.Errorf("%w: transcript.max_entries cannot be negative", ErrInvalidConfig)
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("%w: archive.path cannot be empty", ErrInvalidConfig)
		}
		if c.Archive.Retention < 0 {
			return fmt.Errorf("%w: archive.retention cannot be negative", ErrInvalidConfig)
		}
	}

	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Stream == "") {
		return fmt.Errorf("%w: redis.addr and redis.stream are required", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("%w: invalid logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
