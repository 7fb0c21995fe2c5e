package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML config file for panewatch settings.
const ConfigFileName = "config.toml"

// Config is the validated runtime configuration. It is constructed once at
// startup and passed into each component constructor; components never read
// the environment or the config file themselves.
type Config struct {
	// PollIntervalSeconds is the pane activity poll cadence.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// SnapshotLines is the normalized tail window compared between polls.
	SnapshotLines int `toml:"snapshot_lines"`

	// DedupTTLSeconds is the duplicate-suppression window.
	DedupTTLSeconds int `toml:"dedup_ttl_seconds"`

	// HooksDir is watched for completion marker files. Empty disables the watcher.
	HooksDir string `toml:"hooks_dir"`

	// StateDB is the sqlite database path backing the dedup cache.
	StateDB string `toml:"state_db"`

	Notify     NotifySettings     `toml:"notify"`
	Task       TaskSettings       `toml:"task"`
	AudioCache AudioCacheSettings `toml:"audio_cache"`
	Speech     SpeechSettings     `toml:"speech"`
	Web        WebSettings        `toml:"web"`
	Logging    LoggingSettings    `toml:"logging"`
}

// NotifySettings controls role-based notification routing.
// A non-empty allowlist takes precedence over the blocklist.
type NotifySettings struct {
	Allowlist []string `toml:"allowlist"`
	Blocklist []string `toml:"blocklist"`
}

// TaskSettings controls the notification task queue.
type TaskSettings struct {
	// Workers is the number of concurrent notification workers.
	Workers int `toml:"workers"`

	// HardTimeoutSeconds forcibly terminates a running task.
	HardTimeoutSeconds int `toml:"hard_timeout_seconds"`

	// SoftTimeoutSeconds logs a warning before the hard limit fires.
	SoftTimeoutSeconds int `toml:"soft_timeout_seconds"`

	// QueueExpirySeconds discards queued tasks older than this, unexecuted.
	QueueExpirySeconds int `toml:"queue_expiry_seconds"`

	// MaxRetries bounds retries for transient summarize/synthesis failures.
	MaxRetries int `toml:"max_retries"`

	// RetryDelaySeconds is the fixed delay between retries.
	RetryDelaySeconds int `toml:"retry_delay_seconds"`

	// SummaryLines bounds how much filtered content is sent to the summarizer.
	SummaryLines int `toml:"summary_lines"`
}

// AudioCacheSettings controls the content-addressed audio cache.
type AudioCacheSettings struct {
	// MaxPhraseLength: only text at or below this length is cached.
	MaxPhraseLength int `toml:"max_phrase_length"`

	// Dir is the cache directory. Empty disables caching.
	Dir string `toml:"dir"`
}

// SpeechSettings configures the external summarizer and speech synthesizer.
type SpeechSettings struct {
	// APIKey for the provider. Falls back to OPENAI_API_KEY when empty.
	APIKey string `toml:"api_key"`

	// SummaryModel is the chat model used for summaries.
	SummaryModel string `toml:"summary_model"`

	// Voice is the synthesis voice name.
	Voice string `toml:"voice"`

	// Speed is the synthesis playback speed multiplier.
	Speed float64 `toml:"speed"`

	// RatePerMinute limits provider calls. Zero means no limit.
	RatePerMinute int `toml:"rate_per_minute"`
}

// WebSettings configures the HTTP/websocket server.
type WebSettings struct {
	ListenAddr string `toml:"listen_addr"`

	// Token, when set, is required as a bearer token on every API request.
	Token string `toml:"token"`

	// ReadOnly disables the send endpoint.
	ReadOnly bool `toml:"read_only"`

	Push PushSettings `toml:"push"`
}

// PushSettings configures the optional web push sink.
type PushSettings struct {
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	VAPIDSubject    string `toml:"vapid_subject"`
}

// LoggingSettings mirrors logging.Config in TOML form.
type LoggingSettings struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Debug  bool   `toml:"debug"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		PollIntervalSeconds: 3,
		SnapshotLines:       20,
		DedupTTLSeconds:     60,
		StateDB:             "panewatch.db",
		Task: TaskSettings{
			Workers:            2,
			HardTimeoutSeconds: 60,
			SoftTimeoutSeconds: 45,
			QueueExpirySeconds: 120,
			MaxRetries:         2,
			RetryDelaySeconds:  2,
			SummaryLines:       40,
		},
		AudioCache: AudioCacheSettings{
			MaxPhraseLength: 64,
		},
		Speech: SpeechSettings{
			SummaryModel: "gpt-4o-mini",
			Voice:        "alloy",
			Speed:        1.0,
		},
		Web: WebSettings{
			ListenAddr: "127.0.0.1:8620",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the TOML config at path, layering it over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.SnapshotLines <= 0 {
		return fmt.Errorf("snapshot_lines must be positive, got %d", c.SnapshotLines)
	}
	if c.DedupTTLSeconds < 0 {
		return fmt.Errorf("dedup_ttl_seconds must not be negative, got %d", c.DedupTTLSeconds)
	}
	if c.Task.Workers <= 0 {
		return fmt.Errorf("task.workers must be positive, got %d", c.Task.Workers)
	}
	if c.Task.HardTimeoutSeconds <= 0 {
		return fmt.Errorf("task.hard_timeout_seconds must be positive, got %d", c.Task.HardTimeoutSeconds)
	}
	if c.Task.SoftTimeoutSeconds >= c.Task.HardTimeoutSeconds {
		return fmt.Errorf("task.soft_timeout_seconds (%d) must be below task.hard_timeout_seconds (%d)",
			c.Task.SoftTimeoutSeconds, c.Task.HardTimeoutSeconds)
	}
	if c.Task.MaxRetries < 0 {
		return fmt.Errorf("task.max_retries must not be negative, got %d", c.Task.MaxRetries)
	}
	if c.Speech.Speed <= 0 {
		return fmt.Errorf("speech.speed must be positive, got %v", c.Speech.Speed)
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DedupTTL returns the duplicate-suppression window as a duration.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}
