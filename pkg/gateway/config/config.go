// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dialkit/dialkit/pkg/core/call"
	"github.com/dialkit/dialkit/pkg/core/media"
	"github.com/dialkit/dialkit/pkg/core/signal"
)

type Config struct {
	Addr string

	// AgentURL is the signaling endpoint of the agent process backing each
	// call. AgentKey, when set, is sent as a bearer token on dial.
	AgentURL string
	AgentKey string

	// Console websocket transport.
	ConsolePingInterval   time.Duration
	ConsoleWriteTimeout   time.Duration
	ConsoleMaxMessageSize int64
	MaxConcurrentCalls    int

	// Per-call tuning.
	CallBaseDuration        time.Duration
	CallExtension           time.Duration
	CallWarningThreshold    time.Duration
	CallGraceDuration       time.Duration
	CallContentDeadlinePush time.Duration
	CallFamiliarizeTurns    int
	CallTranscriptCap       int
	CallEchoDucking         bool

	// Upstream signaling transport.
	SignalPingInterval     time.Duration
	SignalWriteTimeout     time.Duration
	SignalHandshakeTimeout time.Duration
	SignalMaxMessageBytes  int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("DIALKIT_ADDR", ":8080"),
		AgentURL:                envOr("DIALKIT_AGENT_URL", ""),
		AgentKey:                envOr("DIALKIT_AGENT_KEY", ""),
		ConsolePingInterval:     envDurationOr("DIALKIT_CONSOLE_PING_INTERVAL", 20*time.Second),
		ConsoleWriteTimeout:     envDurationOr("DIALKIT_CONSOLE_WRITE_TIMEOUT", 5*time.Second),
		ConsoleMaxMessageSize:   envInt64Or("DIALKIT_CONSOLE_MAX_MESSAGE_BYTES", 64*1024),
		MaxConcurrentCalls:      envIntOr("DIALKIT_MAX_CONCURRENT_CALLS", 16),
		CallBaseDuration:        envDurationOr("DIALKIT_CALL_BASE_DURATION", 4*time.Minute),
		CallExtension:           envDurationOr("DIALKIT_CALL_EXTENSION", 2*time.Minute),
		CallWarningThreshold:    envDurationOr("DIALKIT_CALL_WARNING_THRESHOLD", 45*time.Second),
		CallGraceDuration:       envDurationOr("DIALKIT_CALL_GRACE_DURATION", 20*time.Second),
		CallContentDeadlinePush: envDurationOr("DIALKIT_CALL_CONTENT_PUSH", 30*time.Second),
		CallFamiliarizeTurns:    envIntOr("DIALKIT_CALL_FAMILIARIZE_TURNS", 4),
		CallTranscriptCap:       envIntOr("DIALKIT_CALL_TRANSCRIPT_CAP", 200),
		CallEchoDucking:         envBoolOr("DIALKIT_CALL_ECHO_DUCKING", true),
		SignalPingInterval:      envDurationOr("DIALKIT_SIGNAL_PING_INTERVAL", 20*time.Second),
		SignalWriteTimeout:      envDurationOr("DIALKIT_SIGNAL_WRITE_TIMEOUT", 5*time.Second),
		SignalHandshakeTimeout:  envDurationOr("DIALKIT_SIGNAL_HANDSHAKE_TIMEOUT", 5*time.Second),
		SignalMaxMessageBytes:   envInt64Or("DIALKIT_SIGNAL_MAX_MESSAGE_BYTES", 256*1024),
		ReadHeaderTimeout:       envDurationOr("DIALKIT_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("DIALKIT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.AgentURL == "" {
		return Config{}, fmt.Errorf("DIALKIT_AGENT_URL must be set")
	}
	if cfg.MaxConcurrentCalls <= 0 {
		return Config{}, fmt.Errorf("DIALKIT_MAX_CONCURRENT_CALLS must be > 0")
	}
	if cfg.ConsoleMaxMessageSize <= 0 {
		return Config{}, fmt.Errorf("DIALKIT_CONSOLE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.CallBaseDuration <= 0 {
		return Config{}, fmt.Errorf("DIALKIT_CALL_BASE_DURATION must be > 0")
	}
	if cfg.CallGraceDuration <= 0 {
		return Config{}, fmt.Errorf("DIALKIT_CALL_GRACE_DURATION must be > 0")
	}
	if cfg.CallExtension < 0 {
		return Config{}, fmt.Errorf("DIALKIT_CALL_EXTENSION must be >= 0")
	}
	if cfg.SignalMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("DIALKIT_SIGNAL_MAX_MESSAGE_BYTES must be > 0")
	}

	return cfg, nil
}

// CallConfig maps gateway settings onto per-call tuning.
func (c Config) CallConfig() call.Config {
	cfg := call.DefaultConfig()
	cfg.BaseDuration = c.CallBaseDuration
	cfg.Extension = c.CallExtension
	cfg.WarningThreshold = c.CallWarningThreshold
	cfg.GraceDuration = c.CallGraceDuration
	cfg.ContentDeadlinePush = c.CallContentDeadlinePush
	cfg.FamiliarizeTurnLimit = c.CallFamiliarizeTurns
	cfg.TranscriptCap = c.CallTranscriptCap
	cfg.EchoDucking = c.CallEchoDucking
	cfg.Monitor = media.DefaultMonitorConfig()
	return cfg
}

// SignalConfig maps gateway settings onto the upstream transport.
func (c Config) SignalConfig() signal.Config {
	return signal.Config{
		PingInterval:     c.SignalPingInterval,
		WriteTimeout:     c.SignalWriteTimeout,
		HandshakeTimeout: c.SignalHandshakeTimeout,
		MaxMessageBytes:  c.SignalMaxMessageBytes,
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
