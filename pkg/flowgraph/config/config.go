package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by Engine.Defaults.
const (
	DefaultRingSizeMB        = 8
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultWireDedupWindow   = 10 * time.Millisecond
	DefaultStallTimeout      = 3 * time.Second
	DefaultFallbackHost      = "127.0.0.1"
	DefaultFallbackPort      = 43817
	DefaultFallbackSocket    = "/tmp/voide.tlm.sock"
	DefaultMaxConcurrency    = 1
	DefaultRetryBackoff      = 200 * time.Millisecond
)

// Failure policies for Run.FailurePolicy.
const (
	FailurePolicyAbort   = "abort"
	FailurePolicyIsolate = "isolate"
)

// Engine is the engine configuration file.
type Engine struct {
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
	Run       Run       `yaml:"run" json:"run"`
	Store     Store     `yaml:"store" json:"store"`
	Log       Log       `yaml:"log" json:"log"`
}

// Telemetry configures the frame transport.
type Telemetry struct {
	// Disabled turns telemetry off entirely.
	Disabled bool `yaml:"disabled" json:"disabled"`
	// RingPath is the ring file. Empty means DefaultRingPath().
	RingPath string `yaml:"ring_path" json:"ring_path"`
	// RingSizeMB is the ring capacity in MiB.
	RingSizeMB        int           `yaml:"ring_size_mb" json:"ring_size_mb" validate:"gte=0,lte=1024"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" validate:"gte=0"`
	WireDedupWindow   time.Duration `yaml:"wire_dedup_window" json:"wire_dedup_window" validate:"gte=0"`
	StallTimeout      time.Duration `yaml:"stall_timeout" json:"stall_timeout" validate:"gte=0"`
	Fallback          Fallback      `yaml:"fallback" json:"fallback"`
}

// Fallback is the datagram target used when the ring cannot be opened.
type Fallback struct {
	Type string `yaml:"type" json:"type" validate:"omitempty,oneof=udp uds none"`
	Host string `yaml:"host" json:"host" validate:"omitempty,hostname|ip"`
	Port int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Path string `yaml:"path" json:"path"`
}

// Run configures the run driver.
type Run struct {
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=0"`
	FailurePolicy  string        `yaml:"failure_policy" json:"failure_policy" validate:"omitempty,oneof=abort isolate"`
	NodeTimeout    time.Duration `yaml:"node_timeout" json:"node_timeout" validate:"gte=0"`
	RetryAttempts  int           `yaml:"retry_attempts" json:"retry_attempts" validate:"gte=0,lte=100"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" json:"retry_backoff" validate:"gte=0"`
}

// Store configures the run recorder.
type Store struct {
	Driver string `yaml:"driver" json:"driver" validate:"omitempty,oneof=memory sqlite none"`
	Path   string `yaml:"path" json:"path" validate:"required_if=Driver sqlite"`
}

// Log configures the command's logger.
type Log struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
}

// DefaultRingPath returns ~/.cache/voide/telemetry.ring, or a path under
// the temp dir if the home directory is unknown.
func DefaultRingPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "voide", "telemetry.ring")
	}
	return filepath.Join(home, ".cache", "voide", "telemetry.ring")
}

// Defaults returns a copy of e with unset values filled in.
func (e Engine) Defaults() Engine {
	t := &e.Telemetry
	if t.RingPath == "" {
		t.RingPath = DefaultRingPath()
	}
	if t.RingSizeMB == 0 {
		t.RingSizeMB = DefaultRingSizeMB
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if t.WireDedupWindow == 0 {
		t.WireDedupWindow = DefaultWireDedupWindow
	}
	if t.StallTimeout == 0 {
		t.StallTimeout = DefaultStallTimeout
	}
	if t.Fallback.Type == "" {
		t.Fallback.Type = "udp"
	}
	if t.Fallback.Host == "" {
		t.Fallback.Host = DefaultFallbackHost
	}
	if t.Fallback.Port == 0 {
		t.Fallback.Port = DefaultFallbackPort
	}
	if t.Fallback.Path == "" {
		t.Fallback.Path = DefaultFallbackSocket
	}

	if e.Run.MaxConcurrency == 0 {
		e.Run.MaxConcurrency = DefaultMaxConcurrency
	}
	if e.Run.FailurePolicy == "" {
		e.Run.FailurePolicy = FailurePolicyAbort
	}
	if e.Run.RetryAttempts > 0 && e.Run.RetryBackoff == 0 {
		e.Run.RetryBackoff = DefaultRetryBackoff
	}

	if e.Store.Driver == "" {
		e.Store.Driver = "memory"
	}
	if e.Log.Level == "" {
		e.Log.Level = "info"
	}
	if e.Log.Format == "" {
		e.Log.Format = "text"
	}
	return e
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints. The error lists every violation.
func (e Engine) Validate() error {
	err := structValidator().Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
