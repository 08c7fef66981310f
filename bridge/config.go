package bridge

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// BackingHost is the loopback address the backing server binds to.
// Fixed: the bridge never talks to a remote server.
const BackingHost = "127.0.0.1"

// DefaultExecutable is the backing server binary looked up on PATH.
const DefaultExecutable = "opencode"

// Config holds every tunable of the bridge. Loaded from bridge.json;
// any missing or invalid field falls back to its default.
type Config struct {
	Port              int    `json:"port"`
	Executable        string `json:"executable"`
	MaxFrameBytes     uint32 `json:"max_frame_bytes"`
	RequestTimeoutMs  int    `json:"request_timeout_ms"`
	StartupTimeoutMs  int    `json:"startup_timeout_ms"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelayMs      int    `json:"retry_delay_ms"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	ReconnectDelayMs  int    `json:"reconnect_delay_ms"`
	PendingTTLMs      int    `json:"pending_ttl_ms"`
	LogFile           string `json:"log_file"`
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMs) * time.Millisecond
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMs) * time.Millisecond
}

// DefaultConfig returns sane defaults when bridge.json is missing or
// invalid.
func DefaultConfig() *Config {
	return &Config{
		Port:              4096,
		Executable:        DefaultExecutable,
		MaxFrameBytes:     DefaultMaxFrameBytes,
		RequestTimeoutMs:  30_000,
		StartupTimeoutMs:  60_000,
		MaxRetries:        3,
		RetryDelayMs:      1_000,
		ReconnectAttempts: 3,
		ReconnectDelayMs:  1_000,
		PendingTTLMs:      600_000, // abandoned entries expire after 10min
	}
}

// DefaultConfigPath resolves the config file location:
// $BRIDGE_CONFIG if set, otherwise bridge.json next to the executable.
func DefaultConfigPath() string {
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return "bridge.json"
	}
	return filepath.Join(filepath.Dir(exe), "bridge.json")
}

// LoadConfig reads cfgPath and validates each field, falling back to
// defaults with a log line for anything out of range. A missing or
// unparseable file yields pure defaults. $BRIDGE_PORT overrides the
// port either way.
func LoadConfig(cfgPath string) *Config {
	def := DefaultConfig()

	cfg := def
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Printf("[config] no bridge.json at %s, using defaults: %v", cfgPath, err)
	} else {
		parsed := &Config{}
		if err := json.Unmarshal(data, parsed); err != nil {
			log.Printf("[config] invalid bridge.json (%s), using defaults: %v", cfgPath, err)
		} else {
			cfg = parsed
		}
	}

	if p := os.Getenv("BRIDGE_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n < 65536 {
			cfg.Port = n
		} else {
			log.Printf("[config] BRIDGE_PORT=%q is not a valid port, ignoring", p)
		}
	}

	if cfg.Port <= 0 || cfg.Port >= 65536 {
		log.Printf("[config] port=%d is invalid, falling back to %d", cfg.Port, def.Port)
		cfg.Port = def.Port
	}
	if cfg.Executable == "" {
		cfg.Executable = def.Executable
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.RequestTimeoutMs <= 0 {
		log.Printf("[config] request_timeout_ms=%d is invalid, falling back to %dms", cfg.RequestTimeoutMs, def.RequestTimeoutMs)
		cfg.RequestTimeoutMs = def.RequestTimeoutMs
	}
	if cfg.StartupTimeoutMs <= 0 {
		log.Printf("[config] startup_timeout_ms=%d is invalid, falling back to %dms", cfg.StartupTimeoutMs, def.StartupTimeoutMs)
		cfg.StartupTimeoutMs = def.StartupTimeoutMs
	}
	if cfg.MaxRetries <= 0 {
		log.Printf("[config] max_retries=%d is invalid, falling back to %d", cfg.MaxRetries, def.MaxRetries)
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelayMs < 0 {
		cfg.RetryDelayMs = def.RetryDelayMs
	}
	if cfg.ReconnectAttempts <= 0 {
		log.Printf("[config] reconnect_attempts=%d is invalid, falling back to %d", cfg.ReconnectAttempts, def.ReconnectAttempts)
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	if cfg.ReconnectDelayMs < 0 {
		cfg.ReconnectDelayMs = def.ReconnectDelayMs
	}
	if cfg.PendingTTLMs <= 0 {
		cfg.PendingTTLMs = def.PendingTTLMs
	}

	return cfg
}

// Settings is a swap point for the live Config. Hot reload replaces
// the whole Config; readers grab a snapshot per operation, so a swap
// applies to the next request rather than one in flight.
type Settings struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewSettings(cfg *Config) *Settings {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Settings{cfg: cfg}
}

// Current returns the live Config. Callers must not mutate it.
func (s *Settings) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Settings) Swap(cfg *Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
