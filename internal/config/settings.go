package config

import (
	"errors"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultServerURL = "http://127.0.0.1:4096"

// The durations and sizes below are product-tuned values carried over from
// the shipped client. They are settings rather than constants so deployments
// can adjust them without a rebuild.
const (
	defaultBatchWindowMS       = 40
	defaultShrinkTolerance     = 24
	defaultIdleTimeoutMS       = 8000
	defaultZombieTimeoutMS     = 120000
	defaultCooldownGraceMS     = 1600
	defaultCompletionFlashMS   = 1700
	defaultDelayedCompletionMS = 900
	defaultStalenessMS         = 25000
	defaultBackoffFastCapMS    = 8000
	defaultBackoffSlowCapMS    = 32000
	defaultViewportWindow      = 50
	defaultSessionCeiling      = 8
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Tuning  TuningConfig  `toml:"tuning"`
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
}

type ServerConfig struct {
	URL       string `toml:"url"`
	Username  string `toml:"username"`
	Token     string `toml:"token"`
	Directory string `toml:"directory"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type DebugConfig struct {
	StreamDebug bool `toml:"stream_debug"`
}

// TuningConfig holds the empirically-tuned reconciliation and reconnection
// knobs. Zero values fall back to the shipped defaults.
type TuningConfig struct {
	BatchWindowMS       int `toml:"batch_window_ms"`
	ShrinkTolerance     int `toml:"shrink_tolerance"`
	IdleTimeoutMS       int `toml:"idle_timeout_ms"`
	ZombieTimeoutMS     int `toml:"zombie_timeout_ms"`
	CooldownGraceMS     int `toml:"cooldown_grace_ms"`
	CompletionFlashMS   int `toml:"completion_flash_ms"`
	DelayedCompletionMS int `toml:"delayed_completion_ms"`
	StalenessMS         int `toml:"staleness_ms"`
	BackoffFastCapMS    int `toml:"backoff_fast_cap_ms"`
	BackoffSlowCapMS    int `toml:"backoff_slow_cap_ms"`
	ViewportWindow      int `toml:"viewport_window"`
	SessionCeiling      int `toml:"session_ceiling"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			URL: defaultServerURL,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	return loadFromPath(path)
}

func loadFromPath(path string) (Config, error) {
	cfg := Default()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func (c Config) ServerURL() string {
	url := strings.TrimSpace(c.Server.URL)
	if url == "" {
		return defaultServerURL
	}
	return strings.TrimRight(url, "/")
}

func (c Config) ServerTimeout() time.Duration {
	if c.Server.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.TimeoutMS) * time.Millisecond
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c Config) StreamDebugEnabled() bool {
	if strings.TrimSpace(os.Getenv("CHAMBER_STREAM_DEBUG")) == "1" {
		return true
	}
	return c.Debug.StreamDebug
}

func durationOr(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func countOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func (t TuningConfig) BatchWindow() time.Duration { return durationOr(t.BatchWindowMS, defaultBatchWindowMS) }

func (t TuningConfig) ShrinkToleranceChars() int {
	return countOr(t.ShrinkTolerance, defaultShrinkTolerance)
}

func (t TuningConfig) IdleTimeout() time.Duration { return durationOr(t.IdleTimeoutMS, defaultIdleTimeoutMS) }

func (t TuningConfig) ZombieTimeout() time.Duration {
	return durationOr(t.ZombieTimeoutMS, defaultZombieTimeoutMS)
}

func (t TuningConfig) CooldownGrace() time.Duration {
	return durationOr(t.CooldownGraceMS, defaultCooldownGraceMS)
}

func (t TuningConfig) CompletionFlash() time.Duration {
	return durationOr(t.CompletionFlashMS, defaultCompletionFlashMS)
}

func (t TuningConfig) DelayedCompletion() time.Duration {
	return durationOr(t.DelayedCompletionMS, defaultDelayedCompletionMS)
}

func (t TuningConfig) Staleness() time.Duration { return durationOr(t.StalenessMS, defaultStalenessMS) }

func (t TuningConfig) BackoffFastCap() time.Duration {
	return durationOr(t.BackoffFastCapMS, defaultBackoffFastCapMS)
}

func (t TuningConfig) BackoffSlowCap() time.Duration {
	return durationOr(t.BackoffSlowCapMS, defaultBackoffSlowCapMS)
}

func (t TuningConfig) ViewportWindowSize() int { return countOr(t.ViewportWindow, defaultViewportWindow) }

func (t TuningConfig) SessionCacheCeiling() int { return countOr(t.SessionCeiling, defaultSessionCeiling) }
