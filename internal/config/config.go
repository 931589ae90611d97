// Package config handles daemon configuration: a TOML file with environment
// variable overrides. Policy parameters (threshold, cache capacity, retries,
// timeouts) are required configuration and are validated fail-fast; values
// are never silently clamped.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

//go:embed sample_config.toml
var sampleConfig string

// Capture configures the frame source.
type Capture struct {
	Backend  string  `toml:"backend"`   // "native", "exec", or "zmq"
	TickRate float64 `toml:"tick_rate"` // Hz
	ZMQAddr  string  `toml:"zmq_addr"`  // only for backend = "zmq"
}

// Vision configures fingerprinting and matching.
type Vision struct {
	ManifestPath    string  `toml:"manifest_path"`
	AcceptThreshold float64 `toml:"accept_threshold"` // 0..1, NCC acceptance
	MaxHashDistance int     `toml:"max_hash_distance"`
	CacheCapacity   int     `toml:"cache_capacity"`
}

// Device configures the serial command link.
type Device struct {
	Port         string `toml:"port"`
	BaudRate     int    `toml:"baud_rate"`
	MaxRetries   int    `toml:"max_retries"`
	AckTimeoutMS int    `toml:"ack_timeout_ms"`
	CooldownMS   int    `toml:"cooldown_ms"` // per-template refire suppression
}

// Config is the full daemon configuration.
type Config struct {
	HTTPAddr    string  `toml:"http_addr"`
	JournalPath string  `toml:"journal_path"`
	LogLevel    string  `toml:"log_level"`
	Capture     Capture `toml:"capture"`
	Vision      Vision  `toml:"vision"`
	Device      Device  `toml:"device"`
}

// Sample returns the commented sample configuration file.
func Sample() string { return sampleConfig }

// Load reads the TOML file at path, applies env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigMissing, "read config %s", path)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse config %s", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override file values (deploy-time knobs).
func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("FRAMEPILOT_HTTP_ADDR", c.HTTPAddr)
	c.JournalPath = getEnv("FRAMEPILOT_JOURNAL_PATH", c.JournalPath)
	c.LogLevel = getEnv("FRAMEPILOT_LOG_LEVEL", c.LogLevel)
	c.Capture.Backend = getEnv("FRAMEPILOT_CAPTURE_BACKEND", c.Capture.Backend)
	c.Capture.ZMQAddr = getEnv("FRAMEPILOT_ZMQ_ADDR", c.Capture.ZMQAddr)
	c.Capture.TickRate = getEnvFloat("FRAMEPILOT_TICK_RATE", c.Capture.TickRate)
	c.Vision.ManifestPath = getEnv("FRAMEPILOT_MANIFEST", c.Vision.ManifestPath)
	c.Vision.AcceptThreshold = getEnvFloat("FRAMEPILOT_ACCEPT_THRESHOLD", c.Vision.AcceptThreshold)
	c.Vision.CacheCapacity = getEnvInt("FRAMEPILOT_CACHE_CAPACITY", c.Vision.CacheCapacity)
	c.Device.Port = getEnv("FRAMEPILOT_SERIAL_PORT", c.Device.Port)
	c.Device.BaudRate = getEnvInt("FRAMEPILOT_BAUD_RATE", c.Device.BaudRate)
	c.Device.MaxRetries = getEnvInt("FRAMEPILOT_MAX_RETRIES", c.Device.MaxRetries)
	c.Device.AckTimeoutMS = getEnvInt("FRAMEPILOT_ACK_TIMEOUT_MS", c.Device.AckTimeoutMS)
}

// Validate rejects missing or out-of-range values. No defaults are inferred
// for policy parameters.
func (c *Config) Validate() error {
	var problems []string

	if c.HTTPAddr == "" {
		problems = append(problems, "http_addr is required")
	}
	if c.JournalPath == "" {
		problems = append(problems, "journal_path is required")
	}
	switch c.Capture.Backend {
	case "native":
	case "exec":
		// The exec backend shells out to screencapture, which only exists
		// on darwin; fail here instead of on the first tick.
		if runtime.GOOS != "darwin" {
			problems = append(problems, fmt.Sprintf("capture.backend \"exec\" is not available on %s", runtime.GOOS))
		}
	case "zmq":
		if c.Capture.ZMQAddr == "" {
			problems = append(problems, "capture.zmq_addr is required for backend \"zmq\"")
		}
	case "":
		problems = append(problems, "capture.backend is required")
	default:
		problems = append(problems, fmt.Sprintf("capture.backend %q is not one of native, exec, zmq", c.Capture.Backend))
	}
	if c.Capture.TickRate <= 0 {
		problems = append(problems, "capture.tick_rate must be > 0")
	}
	if c.Vision.ManifestPath == "" {
		problems = append(problems, "vision.manifest_path is required")
	}
	if c.Vision.AcceptThreshold <= 0 || c.Vision.AcceptThreshold > 1 {
		problems = append(problems, "vision.accept_threshold must be in (0, 1]")
	}
	if c.Vision.MaxHashDistance < 0 || c.Vision.MaxHashDistance > 64 {
		problems = append(problems, "vision.max_hash_distance must be in [0, 64]")
	}
	if c.Vision.CacheCapacity <= 0 {
		problems = append(problems, "vision.cache_capacity must be > 0")
	}
	if c.Device.Port == "" {
		problems = append(problems, "device.port is required")
	}
	if c.Device.BaudRate <= 0 {
		problems = append(problems, "device.baud_rate must be > 0")
	}
	if c.Device.MaxRetries < 0 {
		problems = append(problems, "device.max_retries must be >= 0")
	}
	if c.Device.AckTimeoutMS <= 0 {
		problems = append(problems, "device.ack_timeout_ms must be > 0")
	}
	if c.Device.CooldownMS < 0 {
		problems = append(problems, "device.cooldown_ms must be >= 0")
	}

	if len(problems) > 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TickInterval converts the capture rate to a ticker interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Capture.TickRate)
}

// AckTimeout returns the per-command acknowledgement deadline.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Device.AckTimeoutMS) * time.Millisecond
}

// Cooldown returns the per-template refire suppression window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Device.CooldownMS) * time.Millisecond
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
