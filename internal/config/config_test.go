package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
http_addr = ":8710"
journal_path = "journal.db"
log_level = "debug"

[capture]
backend = "native"
tick_rate = 22.0

[vision]
manifest_path = "templates.toml"
accept_threshold = 0.8
max_hash_distance = 10
cache_capacity = 256

[device]
port = "/dev/ttyUSB0"
baud_rate = 115200
max_retries = 2
ack_timeout_ms = 250
cooldown_ms = 1000
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Port != "/dev/ttyUSB0" {
		t.Errorf("Port = %q, want /dev/ttyUSB0", cfg.Device.Port)
	}
	if cfg.Vision.AcceptThreshold != 0.8 {
		t.Errorf("AcceptThreshold = %v, want 0.8", cfg.Vision.AcceptThreshold)
	}
	if got := cfg.AckTimeout(); got != 250*time.Millisecond {
		t.Errorf("AckTimeout() = %v, want 250ms", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !apperrors.IsCode(err, apperrors.CodeConfigMissing) {
		t.Errorf("error code = %v, want CONFIG_MISSING", apperrors.CodeOf(err))
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantIn string
	}{
		{"zero threshold", func(c *Config) { c.Vision.AcceptThreshold = 0 }, "accept_threshold"},
		{"threshold above one", func(c *Config) { c.Vision.AcceptThreshold = 1.5 }, "accept_threshold"},
		{"zero cache", func(c *Config) { c.Vision.CacheCapacity = 0 }, "cache_capacity"},
		{"negative retries", func(c *Config) { c.Device.MaxRetries = -1 }, "max_retries"},
		{"zero ack timeout", func(c *Config) { c.Device.AckTimeoutMS = 0 }, "ack_timeout_ms"},
		{"missing port", func(c *Config) { c.Device.Port = "" }, "device.port"},
		{"bad backend", func(c *Config) { c.Capture.Backend = "webcam" }, "capture.backend"},
		{"zmq without addr", func(c *Config) { c.Capture.Backend = "zmq"; c.Capture.ZMQAddr = "" }, "zmq_addr"},
		{"zero tick rate", func(c *Config) { c.Capture.TickRate = 0 }, "tick_rate"},
		{"hash distance over 64", func(c *Config) { c.Vision.MaxHashDistance = 65 }, "max_hash_distance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Fatalf("Validate() code = %v, want CONFIG_INVALID", apperrors.CodeOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("Validate() = %q, want mention of %q", err.Error(), tt.wantIn)
			}
		})
	}
}

func TestExecBackendRequiresDarwin(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Capture.Backend = "exec"

	err = cfg.Validate()
	if runtime.GOOS == "darwin" {
		if err != nil {
			t.Errorf("Validate() = %v, exec backend should be accepted on darwin", err)
		}
		return
	}
	if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Fatalf("Validate() code = %v, want CONFIG_INVALID off darwin", apperrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "exec") {
		t.Errorf("Validate() = %q, want mention of the exec backend", err.Error())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FRAMEPILOT_SERIAL_PORT", "/dev/ttyACM1")
	t.Setenv("FRAMEPILOT_MAX_RETRIES", "5")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Port != "/dev/ttyACM1" {
		t.Errorf("Port = %q, want env override /dev/ttyACM1", cfg.Device.Port)
	}
	if cfg.Device.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Device.MaxRetries)
	}
}

func TestSampleConfigParses(t *testing.T) {
	cfg, err := Load(writeConfig(t, Sample()))
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if cfg.Capture.Backend != "native" {
		t.Errorf("sample backend = %q, want native", cfg.Capture.Backend)
	}
}

func TestTickInterval(t *testing.T) {
	cfg := &Config{Capture: Capture{TickRate: 20}}
	if got := cfg.TickInterval(); got != 50*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 50ms", got)
	}
}
