// Package config holds the resolved configuration value consumed by the
// monitoring session and the agent's sinks.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Hara602/usbwatch/internal/analysis"
	"github.com/Hara602/usbwatch/internal/filter"
	"github.com/Hara602/usbwatch/internal/model"
	"github.com/Hara602/usbwatch/internal/ratelimit"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError 配置校验失败，监控会话不会启动
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

// Duration JSON 中使用 "500ms" / "2s" 这样的字符串
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeOnce       Mode = "once"
)

const MinPollInterval = 100 * time.Millisecond

type Config struct {
	Mode               Mode     `json:"mode"`
	PollInterval       Duration `json:"poll_interval"`
	EnumerationTimeout Duration `json:"enumeration_timeout"`
	SysfsRoot          string   `json:"sysfs_root"`
	HotplugWakeup      bool     `json:"hotplug_wakeup"`

	Filters   filter.Rules     `json:"filters"`
	RateLimit ratelimit.Params `json:"rate_limit"`
	Suspicion SuspicionConfig  `json:"suspicion"`
	Sinks     SinkConfig       `json:"sinks"`

	Logging LogConfig     `json:"logging"`
	Store   StoreConfig   `json:"store"`
	Redis   RedisConfig   `json:"redis"`
	Metrics MetricsConfig `json:"metrics"`
	Policy  PolicyConfig  `json:"policy"`
}

type SuspicionConfig struct {
	Enabled              bool              `json:"enabled"`
	RapidReconnectWindow Duration          `json:"rapid_reconnect_window"`
	BurstThreshold       int               `json:"burst_threshold"`
	KnownGoodClasses     []model.ClassCode `json:"class_mismatch_known_good"`
	FlapWindow           Duration          `json:"flap_window"`
	FlapThreshold        int               `json:"flap_threshold"`
	HistorySize          int               `json:"history_size"`
	MaxTrackedIdentities int               `json:"max_tracked_identities"`
}

// Thresholds 转换成检测器使用的参数
func (s SuspicionConfig) Thresholds() analysis.Thresholds {
	return analysis.Thresholds{
		Enabled:              s.Enabled,
		RapidReconnectWindow: s.RapidReconnectWindow.Std(),
		BurstThreshold:       s.BurstThreshold,
		KnownGoodClasses:     append([]model.ClassCode(nil), s.KnownGoodClasses...),
		FlapWindow:           s.FlapWindow.Std(),
		FlapThreshold:        s.FlapThreshold,
		HistorySize:          s.HistorySize,
		MaxTrackedIdentities: s.MaxTrackedIdentities,
	}
}

type SinkConfig struct {
	Buffer       int      `json:"buffer"`
	DrainTimeout Duration `json:"drain_timeout"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

type MetricsConfig struct {
	Listen string `json:"listen"`
}

type PolicyConfig struct {
	Enabled            bool   `json:"enabled"`
	DBPath             string `json:"db_path"`
	WhitelistMode      bool   `json:"whitelist_mode"`
	BlockMissingSerial bool   `json:"block_missing_serial"`
	Enforce            bool   `json:"enforce"`
	SysfsRoot          string `json:"sysfs_root"`
}

func Default() Config {
	th := analysis.DefaultThresholds()
	return Config{
		Mode:               ModeContinuous,
		PollInterval:       Duration(500 * time.Millisecond),
		EnumerationTimeout: Duration(2 * time.Second),
		SysfsRoot:          "/sys/bus/usb/devices",
		RateLimit:          ratelimit.DefaultParams(),
		Suspicion: SuspicionConfig{
			Enabled:              th.Enabled,
			RapidReconnectWindow: Duration(th.RapidReconnectWindow),
			BurstThreshold:       th.BurstThreshold,
			KnownGoodClasses:     th.KnownGoodClasses,
			FlapWindow:           Duration(th.FlapWindow),
			FlapThreshold:        th.FlapThreshold,
			HistorySize:          th.HistorySize,
			MaxTrackedIdentities: th.MaxTrackedIdentities,
		},
		Sinks: SinkConfig{
			Buffer:       256,
			DrainTimeout: Duration(5 * time.Second),
		},
		Logging: LogConfig{Level: "info", Development: true},
		Redis:   RedisConfig{Channel: "usbwatch:events"},
		Policy: PolicyConfig{
			DBPath:    "usbwatch-policy.db",
			SysfsRoot: "/sys/bus/usb/devices",
		},
	}
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 只有配置阶段的错误是致命的
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeContinuous, ModeOnce:
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("must be %q or %q, got %q", ModeContinuous, ModeOnce, c.Mode)}
	}
	if c.PollInterval.Std() < MinPollInterval {
		return &ValidationError{Field: "poll_interval", Reason: fmt.Sprintf("must be at least %s", MinPollInterval)}
	}
	if c.EnumerationTimeout < 0 {
		return &ValidationError{Field: "enumeration_timeout", Reason: "must not be negative"}
	}
	if c.SysfsRoot == "" {
		return &ValidationError{Field: "sysfs_root", Reason: "must not be empty"}
	}
	if _, err := filter.New(c.Filters); err != nil {
		return &ValidationError{Field: "filters.name_patterns", Reason: "does not compile", Err: err}
	}
	if c.RateLimit.RatePerSecond <= 0 {
		return &ValidationError{Field: "rate_limit.rate_per_second", Reason: "must be positive"}
	}
	if c.RateLimit.Burst < 1 {
		return &ValidationError{Field: "rate_limit.burst", Reason: "must be at least 1"}
	}
	if c.RateLimit.MaxBuckets < 0 {
		return &ValidationError{Field: "rate_limit.max_buckets", Reason: "must not be negative"}
	}
	if err := c.Suspicion.validate(); err != nil {
		return err
	}
	if c.Sinks.Buffer < 1 {
		return &ValidationError{Field: "sinks.buffer", Reason: "must be at least 1"}
	}
	if c.Sinks.DrainTimeout <= 0 {
		return &ValidationError{Field: "sinks.drain_timeout", Reason: "must be positive"}
	}
	if !logLevels[c.Logging.Level] {
		return &ValidationError{Field: "logging.level", Reason: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return &ValidationError{Field: "redis.channel", Reason: "required when redis.addr is set"}
	}
	if c.Policy.Enabled && c.Policy.DBPath == "" {
		return &ValidationError{Field: "policy.db_path", Reason: "required when policy is enabled"}
	}
	return nil
}

func (s SuspicionConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if s.RapidReconnectWindow < 0 {
		return &ValidationError{Field: "suspicion.rapid_reconnect_window", Reason: "must not be negative"}
	}
	if s.BurstThreshold < 1 {
		return &ValidationError{Field: "suspicion.burst_threshold", Reason: "must be at least 1"}
	}
	if s.FlapWindow < 0 {
		return &ValidationError{Field: "suspicion.flap_window", Reason: "must not be negative"}
	}
	if s.FlapThreshold < 2 {
		return &ValidationError{Field: "suspicion.flap_threshold", Reason: "must be at least 2"}
	}
	if s.HistorySize < s.FlapThreshold {
		return &ValidationError{Field: "suspicion.history_size", Reason: "must hold at least flap_threshold entries"}
	}
	if s.MaxTrackedIdentities < 1 {
		return &ValidationError{Field: "suspicion.max_tracked_identities", Reason: "must be at least 1"}
	}
	return nil
}

// Load 读取 JSON 配置文件，未出现的字段保持默认值，未知字段报错
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config '%s': %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, &ValidationError{Field: path, Reason: "malformed JSON", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
