package call

import (
	"time"

	"github.com/dialkit/dialkit/pkg/core/media"
)

// Config holds per-call tuning. Zero values are replaced by defaults.
type Config struct {
	// BaseDuration is the countdown granted when the call goes active.
	BaseDuration time.Duration

	// Extension is the single additional grant available through the
	// request_more_time tool.
	Extension time.Duration

	// WarningThreshold is the remaining time at which the agent (never the
	// human party) is told time is short.
	WarningThreshold time.Duration

	// GraceDuration is the window the agent gets to say goodbye after the
	// deadline before termination is forced.
	GraceDuration time.Duration

	// ContentDeadlinePush is how far the deadline is pushed forward while
	// exploration content is actively playing.
	ContentDeadlinePush time.Duration

	// TimerTick is the countdown check cadence.
	TimerTick time.Duration

	// MinQuiet is how long the agent's voice must stay inaudible before a
	// deferred start action executes.
	MinQuiet time.Duration

	// QuietPollInterval is the cadence of the deferred-action quiet check.
	QuietPollInterval time.Duration

	// DeferredMaxWait bounds the quiet wait; after this the deferred action
	// executes anyway.
	DeferredMaxWait time.Duration

	// FarewellMaxWait bounds how long hang_up waits for audible silence
	// before tearing down.
	FarewellMaxWait time.Duration

	// SpeakerFallback is the fallback commit timer for pending speaker
	// attributions.
	SpeakerFallback time.Duration

	// TransferDelay is the pause between tearing down a transferred call and
	// re-establishing the new one.
	TransferDelay time.Duration

	// FamiliarizeTurnLimit is the number of agent turns allowed in
	// familiarizing mode before falling back to default.
	FamiliarizeTurnLimit int

	// TranscriptCap bounds the per-call transcript ring buffer.
	TranscriptCap int

	// Monitor tunes agent-audibility sampling.
	Monitor media.MonitorConfig

	// EchoDucking enables capture-gain attenuation while agent audio is loud.
	EchoDucking bool

	// Ducker tunes echo suppression when enabled.
	Ducker media.DuckerConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseDuration:         4 * time.Minute,
		Extension:            2 * time.Minute,
		WarningThreshold:     45 * time.Second,
		GraceDuration:        20 * time.Second,
		ContentDeadlinePush:  30 * time.Second,
		TimerTick:            time.Second,
		MinQuiet:             300 * time.Millisecond,
		QuietPollInterval:    50 * time.Millisecond,
		DeferredMaxWait:      5 * time.Second,
		FarewellMaxWait:      6 * time.Second,
		SpeakerFallback:      1500 * time.Millisecond,
		TransferDelay:        time.Second,
		FamiliarizeTurnLimit: 4,
		TranscriptCap:        200,
		Monitor:              media.DefaultMonitorConfig(),
		EchoDucking:          true,
		Ducker:               media.DefaultDuckerConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseDuration <= 0 {
		c.BaseDuration = d.BaseDuration
	}
	if c.Extension <= 0 {
		c.Extension = d.Extension
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = d.WarningThreshold
	}
	if c.GraceDuration <= 0 {
		c.GraceDuration = d.GraceDuration
	}
	if c.ContentDeadlinePush <= 0 {
		c.ContentDeadlinePush = d.ContentDeadlinePush
	}
	if c.TimerTick <= 0 {
		c.TimerTick = d.TimerTick
	}
	if c.MinQuiet <= 0 {
		c.MinQuiet = d.MinQuiet
	}
	if c.QuietPollInterval <= 0 {
		c.QuietPollInterval = d.QuietPollInterval
	}
	if c.DeferredMaxWait <= 0 {
		c.DeferredMaxWait = d.DeferredMaxWait
	}
	if c.FarewellMaxWait <= 0 {
		c.FarewellMaxWait = d.FarewellMaxWait
	}
	if c.SpeakerFallback <= 0 {
		c.SpeakerFallback = d.SpeakerFallback
	}
	if c.TransferDelay <= 0 {
		c.TransferDelay = d.TransferDelay
	}
	if c.FamiliarizeTurnLimit <= 0 {
		c.FamiliarizeTurnLimit = d.FamiliarizeTurnLimit
	}
	if c.TranscriptCap <= 0 {
		c.TranscriptCap = d.TranscriptCap
	}
	if c.Monitor.SampleInterval <= 0 {
		c.Monitor = d.Monitor
	}
	return c
}
